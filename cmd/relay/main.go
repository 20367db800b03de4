package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/actuator"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/audio"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/loop"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/proximity"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/webmonitor"
)

var (
	// Command-line flags, applied on top of the config file
	configPath  = flag.String("config", "", "YAML config file (defaults are used when empty)")
	actuatorURL = flag.String("actuator", "", "Actuator WebSocket URL")
	detectorURL = flag.String("detector", "", "Detector WebSocket URL")
	frameDir    = flag.String("frames", "", "Read frames from this directory instead of shared memory")
	monitorAddr = flag.String("monitor", "", "Monitor HTTP address, \"off\" disables it")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
	logFile     = flag.String("log-file", "", "Also write logs to this file (rotated)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("Config error: %v", err)
		return 1
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Printf("Invalid log level: %v", err)
		return 1
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	if cfg.Log.File != "" {
		logger.SetFileOutput(cfg.Log.File)
	}

	logger.Info("Main", "Proximity relay starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Loop.StdinStop {
		go watchStdin(os.Stdin, stop)
	}

	relay, err := newRelay(ctx, cfg)
	if err != nil {
		if code := exitCode(err); code != 0 {
			logger.Error("Main", "Setup failed: %v", err)
			return code
		}
		logger.Info("Main", "Stopped during setup")
		return 0
	}

	err = relay.run(ctx)
	relay.shutdown()

	code := exitCode(err)
	if code != 0 {
		logger.Error("Main", "Relay stopped: %v", err)
		return code
	}
	logger.Info("Main", "Relay stopped")
	return 0
}

// exitCode maps how the relay ended to the process status: 0 for an operator
// stop or the end of a finite source, 1 for every failure.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if *actuatorURL != "" {
		cfg.Actuator.URL = *actuatorURL
	}
	if *detectorURL != "" {
		cfg.Detector.URL = *detectorURL
	}
	if *frameDir != "" {
		cfg.Camera.Source = "dir"
		cfg.Camera.Dir = *frameDir
	}
	switch *monitorAddr {
	case "":
	case "off":
		cfg.Monitor.Enabled = false
	default:
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = *monitorAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-color" {
			cfg.Log.Color = *logColor
		}
	})
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// relay owns every long-lived component for one process run
type relay struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	detector  *detector.Remote
	driver    *loop.Driver
	monitor   *webmonitor.Monitor
	server    *webmonitor.Server
	announcer *audio.Announcer
}

func newRelay(ctx context.Context, cfg *config.Config) (*relay, error) {
	m := metrics.New()
	r := &relay{cfg: cfg, metrics: m}

	source, err := openSource(ctx, cfg.Camera)
	if err != nil {
		return nil, err
	}

	pre, err := camera.NewPreprocessor(cfg.Camera.Rotation, cfg.Camera.Crop.Rect())
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	policy, err := proximity.ParsePolicy(cfg.Proximity.Policy)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	r.detector = detector.NewRemote(cfg.Detector.URL, detector.RemoteOptions{
		HandshakeTimeout: cfg.Detector.HandshakeTimeout,
		WriteTimeout:     cfg.Detector.WriteTimeout,
		ReadTimeout:      cfg.Detector.ReadTimeout,
		JPEGQuality:      cfg.Detector.JPEGQuality,
	})

	deps := loop.Deps{
		Source:       source,
		Preprocessor: pre,
		Detector:     r.detector,
		Connect:      connectActuator(cfg.Actuator),
		Metrics:      m,
	}

	if cfg.Monitor.Enabled {
		monCfg := webmonitor.DefaultConfig()
		monCfg.Addr = cfg.Monitor.Addr
		monCfg.JPEGQuality = cfg.Monitor.JPEGQuality
		monCfg.RecordingPath = cfg.Monitor.RecordingPath

		r.monitor = webmonitor.NewMonitor(monCfg, m)
		r.server = webmonitor.NewServer(monCfg, r.monitor, m)
		deps.Presenter = r.monitor
	}

	if cfg.Audio.Active() {
		annCfg := audio.DefaultAnnouncerConfig()
		annCfg.Phrases = map[proximity.Stage]string{}
		if cfg.Audio.NearPhrase != "" {
			annCfg.Phrases[proximity.Near] = cfg.Audio.NearPhrase
		}
		if cfg.Audio.FarPhrase != "" {
			annCfg.Phrases[proximity.Far] = cfg.Audio.FarPhrase
		}
		annCfg.MinInterval = cfg.Audio.MinInterval
		annCfg.QueueSize = cfg.Audio.QueueSize

		tts := audio.NewTTSService(cfg.Audio.APIKey, cfg.Audio.VoiceID, cfg.Audio.BaseURL)
		player := audio.CommandPlayer{Command: cfg.Audio.Player}
		r.announcer = audio.NewAnnouncer(annCfg, tts, player, m)
		deps.Announcer = r.announcer
	} else {
		logger.Info("Main", "Audio announcements disabled (no TTS API key)")
	}

	loopCfg := loop.Config{
		Period:          cfg.Dispatch.Period,
		ConfidenceFloor: cfg.Detector.ConfidenceFloor,
		ConnectTimeout:  cfg.Actuator.ConnectTimeout,
		FatalDispatch:   cfg.Dispatch.FatalOnError,
		Classifier: proximity.Classifier{
			AreaThreshold: cfg.Proximity.AreaThreshold,
			Policy:        policy,
			Classes:       cfg.Proximity.Classes,
		},
	}

	r.driver, err = loop.New(loopCfg, deps)
	if err != nil {
		_ = source.Close()
		_ = r.detector.Close()
		return nil, err
	}
	return r, nil
}

func openSource(ctx context.Context, cfg config.CameraConfig) (camera.Source, error) {
	switch cfg.Source {
	case "dir":
		logger.Info("Main", "Reading frames from %s (fps=%d loop=%v)", cfg.Dir, cfg.FPS, cfg.Loop)
		src, err := camera.NewDirSource(cfg.Dir, cfg.FPS, cfg.Loop)
		if err != nil {
			return nil, fmt.Errorf("failed to open frame directory: %w", err)
		}
		return src, nil
	default:
		logger.Info("Main", "Reading frames from shared memory %s", cfg.ShmName)
		src, err := shm.NewReader(ctx, cfg.ShmName, cfg.OpenTimeout, cfg.FrameTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared memory reader: %w", err)
		}
		return src, nil
	}
}

func connectActuator(cfg config.ActuatorConfig) loop.ConnectFunc {
	opts := actuator.Options{
		HandshakeTimeout: cfg.ConnectTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
	}
	return func(ctx context.Context) (loop.Link, error) {
		logger.Info("Main", "Connecting to actuator at %s", cfg.URL)
		client, err := actuator.Dial(ctx, cfg.URL, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (r *relay) run(ctx context.Context) error {
	if r.monitor != nil {
		r.monitor.Start()
		go func() {
			logger.Info("Main", "Monitor listening on %s", r.cfg.Monitor.Addr)
			if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Main", "Monitor server error: %v", err)
			}
		}()
	}
	if r.announcer != nil {
		r.announcer.Start(ctx)
	}

	logger.Info("Main", "Loop run %s starting", r.driver.RunID())
	return r.driver.Run(ctx)
}

func (r *relay) shutdown() {
	logger.Info("Main", "Shutting down...")

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.server.Shutdown(ctx); err != nil {
			logger.Warn("Main", "Monitor shutdown: %v", err)
		}
		cancel()
	}
	if r.announcer != nil {
		r.announcer.Stop()
	}
	if err := r.detector.Close(); err != nil {
		logger.Warn("Main", "Detector close: %v", err)
	}

	snap := r.metrics.Snapshot()
	logger.Info("Main", "Ticks=%d sent=%d dispatch_errors=%d frames_failed=%d",
		snap.Ticks, snap.DispatchSent, snap.DispatchErrors, snap.FramesFailed)
}

// watchStdin stops the loop when the operator types q
func watchStdin(in io.Reader, stop context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "q") {
			logger.Info("Main", "Quit requested")
			stop()
			return
		}
	}
}
