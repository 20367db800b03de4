package dispatch

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/proximity"
)

// Wire payloads sent to the actuator
const (
	PayloadNear = "100"
	PayloadFar  = "50"
)

// DefaultPeriod is the dispatch window in ticks
const DefaultPeriod = 20

// Sender delivers one text payload to the remote peer without waiting for an ack
type Sender interface {
	Send(payload string) error
}

// DispatchError is a failed scheduled send. It is recoverable: the next
// window is attempted normally and nothing is buffered.
type DispatchError struct {
	Tick    uint64
	Payload string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %q at tick %d: %v", e.Payload, e.Tick, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Payload maps a stage to its wire message. Unknown has none.
func Payload(stage proximity.Stage) (string, bool) {
	switch stage {
	case proximity.Near:
		return PayloadNear, true
	case proximity.Far:
		return PayloadFar, true
	default:
		return "", false
	}
}

// Due reports whether tick falls on a dispatch window
func Due(tick uint64, period int) bool {
	return period > 0 && tick%uint64(period) == 0
}

// Dispatcher emits the current stage every Period ticks.
// It is a level signal: a failed window is not retried until the next one.
type Dispatcher struct {
	period int
	sender Sender
}

// New creates a dispatcher sending through sender every period ticks
func New(sender Sender, period int) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatcher requires a sender")
	}
	if period < 1 {
		return nil, fmt.Errorf("dispatch period must be >= 1, got %d", period)
	}
	return &Dispatcher{period: period, sender: sender}, nil
}

// Period returns the dispatch window in ticks
func (d *Dispatcher) Period() int {
	return d.period
}

// MaybeDispatch sends the payload for stage if tick is on a window.
// It returns the payload that was attempted ("" when nothing was due or the
// stage is Unknown). A send failure comes back as *DispatchError.
func (d *Dispatcher) MaybeDispatch(stage proximity.Stage, tick uint64) (string, error) {
	if !Due(tick, d.period) {
		return "", nil
	}
	payload, ok := Payload(stage)
	if !ok {
		return "", nil
	}
	if err := d.sender.Send(payload); err != nil {
		return payload, &DispatchError{Tick: tick, Payload: payload, Err: err}
	}
	return payload, nil
}
