package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all relay metrics
type Metrics struct {
	// Loop counters
	Ticks           atomic.Uint64
	FramesFailed    atomic.Uint64
	DetectionErrors atomic.Uint64
	Detections      atomic.Uint64

	// Dispatch counters
	DispatchSent   atomic.Uint64
	DispatchErrors atomic.Uint64

	// Current stage (0=unknown, 1=far, 2=near)
	Stage atomic.Uint64

	// Last tick latency in ms
	TickLatencyMs atomic.Uint64

	// Side channel drops
	PresenterDropped     atomic.Uint64
	AnnouncementsDropped atomic.Uint64

	tickDuration prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Ticks                uint64 `json:"ticks"`
	FramesFailed         uint64 `json:"frames_failed"`
	DetectionErrors      uint64 `json:"detection_errors"`
	Detections           uint64 `json:"detections"`
	DispatchSent         uint64 `json:"dispatch_sent"`
	DispatchErrors       uint64 `json:"dispatch_errors"`
	Stage                uint64 `json:"stage"`
	TickLatencyMs        uint64 `json:"tick_latency_ms"`
	PresenterDropped     uint64 `json:"presenter_dropped"`
	AnnouncementsDropped uint64 `json:"announcements_dropped"`
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_tick_duration_seconds",
			Help:    "Time spent on one acquire, detect, classify and dispatch cycle",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Loop metrics
	m.gauge("relay_ticks_total", "Frames fully processed by the control loop", &m.Ticks)
	m.gauge("relay_frames_failed_total", "Frame acquisition failures", &m.FramesFailed)
	m.gauge("relay_detection_errors_total", "Detector calls that failed and counted as no detections", &m.DetectionErrors)
	m.gauge("relay_detections_total", "Detections above the confidence floor", &m.Detections)

	// Dispatch metrics
	m.gauge("relay_dispatch_sent_total", "Payloads delivered to the actuator", &m.DispatchSent)
	m.gauge("relay_dispatch_errors_total", "Payload sends that failed", &m.DispatchErrors)

	// State
	m.gauge("relay_stage", "Current proximity stage (0=unknown, 1=far, 2=near)", &m.Stage)
	m.gauge("relay_tick_latency_ms", "Duration of the last tick in milliseconds", &m.TickLatencyMs)

	// Side channels
	m.gauge("relay_presenter_dropped_total", "Monitor frames dropped because the presenter was busy", &m.PresenterDropped)
	m.gauge("relay_announcements_dropped_total", "Announcements dropped because the audio queue was full", &m.AnnouncementsDropped)

	m.registry.MustRegister(m.tickDuration)
}

// ObserveTick records the duration of one loop iteration
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickLatencyMs.Store(uint64(d.Milliseconds()))
	m.tickDuration.Observe(d.Seconds())
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Ticks:                m.Ticks.Load(),
		FramesFailed:         m.FramesFailed.Load(),
		DetectionErrors:      m.DetectionErrors.Load(),
		Detections:           m.Detections.Load(),
		DispatchSent:         m.DispatchSent.Load(),
		DispatchErrors:       m.DispatchErrors.Load(),
		Stage:                m.Stage.Load(),
		TickLatencyMs:        m.TickLatencyMs.Load(),
		PresenterDropped:     m.PresenterDropped.Load(),
		AnnouncementsDropped: m.AnnouncementsDropped.Load(),
	}
}

// Registry exposes the private registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
