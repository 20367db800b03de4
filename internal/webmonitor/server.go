package webmonitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/metrics"
)

// Server serves the monitor endpoints.
type Server struct {
	cfg        Config
	monitor    *Monitor
	metrics    *metrics.Metrics
	startTime  time.Time
	httpServer *http.Server
}

// NewServer returns a monitor server around a started or unstarted Monitor.
func NewServer(cfg Config, monitor *Monitor, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if m == nil {
		m = monitor.metrics
	}
	s := &Server{
		cfg:       cfg,
		monitor:   monitor,
		metrics:   m,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/stage/stream", s.handleStageStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

// Serve listens on cfg.Addr until Shutdown. ErrServerClosed is not an error.
func (s *Server) Serve(ln net.Listener) error {
	logger.Info("Monitor", "Serving on %s", ln.Addr())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds cfg.Addr and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and ends open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.monitor.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.monitor.frames.Subscribe()
	defer s.monitor.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.IdleFrameInterval)
}

func (s *Server) handleStageStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.events.Subscribe()
	defer s.monitor.events.Unsubscribe(id)

	// Query parameter wins, then content negotiation on Accept
	useProtobuf := false
	switch r.URL.Query().Get("format") {
	case "protobuf", "proto":
		useProtobuf = true
	case "json":
	default:
		accept := r.Header.Get("Accept")
		if strings.Contains(accept, "application/protobuf") ||
			strings.Contains(accept, "application/x-protobuf") {
			useProtobuf = true
		}
	}

	streamEventsFromChannel(w, r, eventCh, useProtobuf, s.cfg.KeepaliveInterval)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, latest, history := s.monitor.Snapshot()
	payload := map[string]any{
		"loop":      stats,
		"counters":  s.metrics.Snapshot(),
		"latest":    latest,
		"history":   history,
		"recording": s.monitor.recorder.Status(),
		"timestamp": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dir, err := s.monitor.recorder.Start(r.URL.Query().Get("name"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	logger.Info("Monitor", "Recording annotated frames to %s", dir)

	writeJSON(w, map[string]any{
		"status":     "recording",
		"directory":  dir,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dir, err := s.monitor.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	logger.Info("Monitor", "Recording stopped: %s", dir)

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"directory":  dir,
		"stats":      s.monitor.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.recorder.Status())
}
