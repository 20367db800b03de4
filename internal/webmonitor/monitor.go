package webmonitor

import (
	"bytes"
	"image/jpeg"
	"slices"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/loop"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/metrics"
)

// Monitor is the presentation side of the relay. The control loop hands it
// observations through Publish; a worker goroutine renders and fans them out.
type Monitor struct {
	cfg      Config
	metrics  *metrics.Metrics
	frames   *FrameBroadcaster
	events   *EventBroadcaster
	recorder *RecorderState

	// One-slot hand-off, the newest observation wins
	pending chan loop.Observation

	mu          sync.Mutex
	stats       LoopStats
	latest      *StageEvent
	history     []StageEvent
	lastArrival time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor. m may be nil.
func NewMonitor(cfg Config, m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.New()
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:      cfg,
		metrics:  m,
		frames:   NewFrameBroadcaster(),
		events:   NewEventBroadcaster(),
		recorder: NewRecorderState(cfg.RecordingPath),
		pending:  make(chan loop.Observation, 1),
		stats:    LoopStats{Stage: "unknown"},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the render worker.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the worker and disconnects stream clients.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.frames.Close()
		m.events.Close()
	})
}

// Publish implements loop.Presenter. It never blocks: when the worker is
// still busy with an older observation, that one is replaced and counted.
func (m *Monitor) Publish(obs loop.Observation) {
	select {
	case m.pending <- obs:
		return
	default:
	}

	select {
	case <-m.pending:
		m.metrics.PresenterDropped.Add(1)
	default:
	}

	select {
	case m.pending <- obs:
	default:
		m.metrics.PresenterDropped.Add(1)
	}
}

// Snapshot returns loop stats, the latest event and recent events with detections.
func (m *Monitor) Snapshot() (LoopStats, *StageEvent, []StageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.FrameClients = m.frames.ClientCount()
	stats.EventClients = m.events.ClientCount()

	var latest *StageEvent
	if m.latest != nil {
		ev := *m.latest
		latest = &ev
	}

	historyCopy := make([]StageEvent, len(m.history))
	copy(historyCopy, m.history)

	return stats, latest, historyCopy
}

func (m *Monitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case obs := <-m.pending:
			m.process(obs)
		}
	}
}

func (m *Monitor) process(obs loop.Observation) {
	event := buildStageEvent(obs)
	m.record(event)

	if m.events.ClientCount() > 0 {
		serialized, err := serializeStageEvent(event)
		if err != nil {
			logger.Error("Monitor", "Event serialization failed: %v", err)
		} else {
			m.events.Broadcast(serialized)
		}
	}

	// Skip rendering when nobody is watching
	if m.frames.ClientCount() == 0 && !m.recorder.Active() {
		return
	}

	img := renderOverlay(obs)
	if img == nil {
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.cfg.JPEGQuality}); err != nil {
		logger.Error("Monitor", "JPEG encode failed: %v", err)
		return
	}
	data := buf.Bytes()

	m.frames.Broadcast(data)
	if err := m.recorder.WriteFrame(data); err != nil {
		logger.Warn("Monitor", "Recording frame failed: %v", err)
	}
}

func (m *Monitor) record(event StageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastArrival.IsZero() {
		if dt := now.Sub(m.lastArrival).Seconds(); dt > 0 {
			fps := 1 / dt
			if m.stats.CurrentFPS == 0 {
				m.stats.CurrentFPS = fps
			} else {
				m.stats.CurrentFPS = 0.9*m.stats.CurrentFPS + 0.1*fps
			}
		}
	}
	m.lastArrival = now

	m.stats.Ticks = event.Tick + 1
	m.stats.Stage = event.Stage
	if event.Payload != "" && event.DispatchError == "" {
		m.stats.LastPayload = event.Payload
		m.stats.LastPayloadTick = event.Tick
	}

	m.latest = &event
	if len(event.Detections) > 0 {
		m.history = append([]StageEvent{event}, m.history...)
		if len(m.history) > m.cfg.HistorySize {
			m.history = m.history[:m.cfg.HistorySize]
		}
	}
}

// buildStageEvent converts boxes to full-frame coordinates
func buildStageEvent(obs loop.Observation) StageEvent {
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	offset := obs.Frame.Offset.Min
	if obs.Frame.Full != nil {
		offset = offset.Sub(obs.Frame.Full.Bounds().Min)
	}

	event := StageEvent{
		Tick:       obs.Tick,
		Timestamp:  float64(ts.UnixNano()) / 1e9,
		Stage:      obs.Stage.String(),
		Payload:    obs.Payload,
		Detections: make([]Detection, 0, len(obs.Detections)),
	}
	if obs.DispatchErr != nil {
		event.DispatchError = obs.DispatchErr.Error()
	}

	for _, det := range obs.Detections {
		r := det.Box.Rect().Add(offset)
		event.Detections = append(event.Detections, Detection{
			ClassID:    det.ClassID,
			Confidence: det.Confidence,
			Area:       det.Box.Area(),
			Near:       slices.Contains(obs.Near, det),
			BBox: BoundingBox{
				X1: r.Min.X,
				Y1: r.Min.Y,
				X2: r.Max.X,
				Y2: r.Max.Y,
			},
		})
	}
	return event
}
