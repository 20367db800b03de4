// Package loop drives the acquire, detect, classify, dispatch cycle.
//
// Everything that touches the stage and the tick counter runs on the
// goroutine that called Run. Presentation and audio are handed off through
// non-blocking interfaces and never slow a tick down.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/proximity"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// Link is the persistent outbound connection to the actuator
type Link interface {
	dispatch.Sender
	Close() error
}

// ConnectFunc opens the link. ctx carries the connect timeout.
type ConnectFunc func(ctx context.Context) (Link, error)

// Observation is what one tick produced, for presentation
type Observation struct {
	Tick       uint64
	Timestamp  time.Time
	Frame      camera.Prepared
	Detections []types.Detection
	// Near holds the qualifying detections whose own area is above the threshold
	Near        []types.Detection
	Stage       proximity.Stage
	Payload     string
	DispatchErr error
}

// Presenter receives observations. Publish must not block.
type Presenter interface {
	Publish(obs Observation)
}

// Announcer receives stage transitions. Announce must not block.
type Announcer interface {
	Announce(stage proximity.Stage)
}

// Config tunes the loop
type Config struct {
	Period          int
	ConfidenceFloor float64
	ConnectTimeout  time.Duration
	// FatalDispatch ends the run on the first failed send
	FatalDispatch bool
	Classifier    proximity.Classifier
}

// DefaultConfig returns the stock loop settings
func DefaultConfig() Config {
	return Config{
		Period:          dispatch.DefaultPeriod,
		ConfidenceFloor: detector.DefaultConfidenceFloor,
		ConnectTimeout:  10 * time.Second,
		Classifier:      proximity.Classifier{AreaThreshold: 105000},
	}
}

// Deps are the collaborators the driver orchestrates.
// Preprocessor, Presenter, Announcer and Metrics are optional.
type Deps struct {
	Source       camera.Source
	Preprocessor *camera.Preprocessor
	Detector     detector.Adapter
	Connect      ConnectFunc
	Presenter    Presenter
	Announcer    Announcer
	Metrics      *metrics.Metrics
}

// Driver is the control loop. Run it once.
type Driver struct {
	cfg  Config
	deps Deps

	state atomic.Int32
	runID string
	log   *logrus.Entry

	// Owned by the Run goroutine
	stage proximity.Stage
	tick  uint64
}

// New validates the config and collaborators
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Source == nil {
		return nil, errors.New("loop requires a frame source")
	}
	if deps.Detector == nil {
		return nil, errors.New("loop requires a detector")
	}
	if deps.Connect == nil {
		return nil, errors.New("loop requires a connect function")
	}
	if cfg.Period < 1 {
		return nil, fmt.Errorf("dispatch period must be >= 1, got %d", cfg.Period)
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be positive, got %s", cfg.ConnectTimeout)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	runID := uuid.NewString()
	return &Driver{
		cfg:   cfg,
		deps:  deps,
		runID: runID,
		log:   logger.With("Loop", logger.Fields{"run": runID[:8]}),
		stage: proximity.Unknown,
	}, nil
}

// State returns the current lifecycle state. Safe from any goroutine.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// RunID identifies this run in logs
func (d *Driver) RunID() string {
	return d.runID
}

// Stage returns the last computed stage. Only meaningful after Run returns.
func (d *Driver) Stage() proximity.Stage {
	return d.stage
}

// Ticks returns how many frames were processed. Only meaningful after Run returns.
func (d *Driver) Ticks() uint64 {
	return d.tick
}

// Run connects, processes frames until the source ends, fails or ctx is
// cancelled, then releases the source and link. It returns nil for an operator
// stop (also while still connecting) or the end of a finite source, *ConnectionSetupError if the link never
// came up, *FrameAcquisitionError if the source failed, or *dispatch.DispatchError
// when FatalDispatch is set. Release failures are appended with multierr.
func (d *Driver) Run(ctx context.Context) (err error) {
	if !d.state.CompareAndSwap(int32(Idle), int32(Connecting)) {
		return fmt.Errorf("loop already %s", d.State())
	}

	d.log.Infof("Connecting (timeout %s)", d.cfg.ConnectTimeout)

	connCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	link, connErr := d.deps.Connect(connCtx)
	cancel()

	if connErr != nil {
		if ctx.Err() != nil {
			d.log.Infof("Stop requested while connecting")
			return d.drain(nil)
		}
		d.log.Errorf("Connection failed: %v", connErr)
		err = &ConnectionSetupError{Err: connErr}
		return multierr.Append(err, d.drain(nil))
	}

	defer func() {
		err = multierr.Append(err, d.drain(link))
	}()

	dispatcher, err := dispatch.New(link, d.cfg.Period)
	if err != nil {
		return err
	}

	d.setState(Running)
	d.log.Infof("Running (period=%d, threshold=%d, policy=%s)",
		d.cfg.Period, d.cfg.Classifier.AreaThreshold, d.cfg.Classifier.Policy)

	for {
		if ctx.Err() != nil {
			d.log.Infof("Stop requested after %d ticks", d.tick)
			return nil
		}

		frame, acqErr := d.deps.Source.Next(ctx)
		if acqErr != nil {
			switch {
			case errors.Is(acqErr, camera.ErrEndOfStream):
				d.log.Infof("Frame source finished after %d ticks", d.tick)
				return nil
			case ctx.Err() != nil:
				d.log.Infof("Stop requested after %d ticks", d.tick)
				return nil
			default:
				d.deps.Metrics.FramesFailed.Add(1)
				d.log.Errorf("Frame acquisition failed: %v", acqErr)
				return &FrameAcquisitionError{Tick: d.tick, Err: acqErr}
			}
		}

		if frame == nil || frame.Image == nil {
			d.deps.Metrics.FramesFailed.Add(1)
			d.log.Errorf("Frame source returned no image at tick %d", d.tick)
			return &FrameAcquisitionError{Tick: d.tick, Err: ErrEmptyFrame}
		}

		if err := d.step(ctx, dispatcher, frame); err != nil {
			return err
		}
	}
}

// step runs one tick. It only returns an error for a fatal dispatch failure.
func (d *Driver) step(ctx context.Context, dispatcher *dispatch.Dispatcher, frame *types.Frame) error {
	start := time.Now()
	m := d.deps.Metrics

	prepared := camera.Prepared{Full: frame.Image, Region: frame.Image, Offset: frame.Image.Bounds()}
	if d.deps.Preprocessor != nil {
		prepared = d.deps.Preprocessor.Apply(frame.Image)
	}

	detections, err := d.deps.Detector.Detect(ctx, prepared.Region, d.cfg.ConfidenceFloor)
	if err != nil {
		// Counts as no detections, previous stage holds
		m.DetectionErrors.Add(1)
		d.log.Warnf("Detection failed at tick %d: %v", d.tick, err)
		detections = nil
	}
	m.Detections.Add(uint64(len(detections)))

	previous := d.stage
	d.stage = d.cfg.Classifier.Classify(detections, previous)

	tick := d.tick
	d.tick++

	payload, dispatchErr := dispatcher.MaybeDispatch(d.stage, tick)
	switch {
	case dispatchErr != nil:
		m.DispatchErrors.Add(1)
		d.log.Warnf("%v", dispatchErr)
	case payload != "":
		m.DispatchSent.Add(1)
		logger.Debug("Loop", "Sent %q at tick %d", payload, tick)
	}

	if d.stage != previous {
		logger.Info("Loop", "Stage %s -> %s at tick %d", previous, d.stage, tick)
		if d.deps.Announcer != nil {
			d.deps.Announcer.Announce(d.stage)
		}
	}

	if d.deps.Presenter != nil {
		d.deps.Presenter.Publish(Observation{
			Tick:        tick,
			Timestamp:   frame.Timestamp,
			Frame:       prepared,
			Detections:  detections,
			Near:        nearDetections(d.cfg.Classifier, detections),
			Stage:       d.stage,
			Payload:     payload,
			DispatchErr: dispatchErr,
		})
	}

	m.Ticks.Add(1)
	m.Stage.Store(uint64(d.stage))
	m.ObserveTick(time.Since(start))

	if dispatchErr != nil && d.cfg.FatalDispatch {
		return dispatchErr
	}
	return nil
}

// drain releases the source and link whichever way the run ended
func (d *Driver) drain(link Link) error {
	d.setState(Draining)
	d.log.Infof("Draining")

	var err error
	if cerr := d.deps.Source.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close frame source: %w", cerr))
	}
	if link != nil {
		if cerr := link.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close link: %w", cerr))
		}
	}

	d.setState(Stopped)
	d.log.Infof("Stopped after %d ticks (stage=%s)", d.tick, d.stage)
	return err
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

func nearDetections(c proximity.Classifier, detections []types.Detection) []types.Detection {
	var near []types.Detection
	for _, det := range detections {
		if len(c.Classes) > 0 {
			if _, ok := c.Select([]types.Detection{det}); !ok {
				continue
			}
		}
		if proximity.StageForArea(det.Box.Area(), c.AreaThreshold) == proximity.Near {
			near = append(near, det)
		}
	}
	return near
}
