package loop

import (
	"errors"
	"fmt"
)

// ErrEmptyFrame is wrapped in a FrameAcquisitionError when a source hands
// back a frame without pixels
var ErrEmptyFrame = errors.New("frame has no image")

// ConnectionSetupError means the actuator link could not be opened.
// The loop never reaches Running.
type ConnectionSetupError struct {
	Err error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("connection setup failed: %v", e.Err)
}

func (e *ConnectionSetupError) Unwrap() error {
	return e.Err
}

// FrameAcquisitionError ends the run after draining. Tick is the tick the
// missing frame would have had.
type FrameAcquisitionError struct {
	Tick uint64
	Err  error
}

func (e *FrameAcquisitionError) Error() string {
	return fmt.Sprintf("frame acquisition failed at tick %d: %v", e.Tick, e.Err)
}

func (e *FrameAcquisitionError) Unwrap() error {
	return e.Err
}
