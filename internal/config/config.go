package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete relay configuration
type Config struct {
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Detector  DetectorConfig  `yaml:"detector"`
	Camera    CameraConfig    `yaml:"camera"`
	Proximity ProximityConfig `yaml:"proximity"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Loop      LoopConfig      `yaml:"loop"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Audio     AudioConfig     `yaml:"audio"`
	Log       LogConfig       `yaml:"log"`
}

// ActuatorConfig is the outbound WebSocket peer
type ActuatorConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gte=0"`
}

// DetectorConfig is the remote inference service
type DetectorConfig struct {
	URL              string        `yaml:"url" validate:"required,url"`
	ConfidenceFloor  float64       `yaml:"confidence_floor" validate:"gte=0,lte=1"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ReadTimeout      time.Duration `yaml:"read_timeout" validate:"gt=0"`
	JPEGQuality      int           `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
}

// RectConfig is a pixel rectangle, max exclusive
type RectConfig struct {
	X1 int `yaml:"x1" validate:"gte=0"`
	Y1 int `yaml:"y1" validate:"gte=0"`
	X2 int `yaml:"x2" validate:"gte=0"`
	Y2 int `yaml:"y2" validate:"gte=0"`
}

// Rect converts to an image.Rectangle
func (r RectConfig) Rect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// CameraConfig selects and shapes the frame source
type CameraConfig struct {
	Source       string        `yaml:"source" validate:"oneof=shm dir"`
	ShmName      string        `yaml:"shm_name"`
	OpenTimeout  time.Duration `yaml:"open_timeout" validate:"gte=0"`
	FrameTimeout time.Duration `yaml:"frame_timeout" validate:"gte=0"`
	Dir          string        `yaml:"dir" validate:"required_if=Source dir"`
	FPS          int           `yaml:"fps" validate:"gte=0"`
	Loop         bool          `yaml:"loop"`
	Rotation     int           `yaml:"rotation" validate:"oneof=0 90 180 270"`
	Crop         RectConfig    `yaml:"crop"`
}

// ProximityConfig tunes the classifier
type ProximityConfig struct {
	AreaThreshold int    `yaml:"area_threshold" validate:"gte=0"`
	Policy        string `yaml:"policy" validate:"oneof=largest first last"`
	Classes       []int  `yaml:"classes" validate:"dive,gte=0"`
}

// DispatchConfig tunes the rate-limited dispatcher
type DispatchConfig struct {
	Period       int  `yaml:"period" validate:"gte=1"`
	FatalOnError bool `yaml:"fatal_on_error"`
}

// LoopConfig holds operator controls
type LoopConfig struct {
	// StdinStop stops the loop when "q" is read from stdin
	StdinStop bool `yaml:"stdin_stop"`
}

// MonitorConfig is the presentation HTTP server
type MonitorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr" validate:"required_if=Enabled true"`
	JPEGQuality   int    `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
	RecordingPath string `yaml:"recording_path"`
}

// AudioConfig is the spoken announcement side channel.
// Audio stays off without an API key.
type AudioConfig struct {
	Enabled     bool          `yaml:"enabled"`
	APIKey      string        `yaml:"api_key"`
	VoiceID     string        `yaml:"voice_id" validate:"required_with=APIKey"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	NearPhrase  string        `yaml:"near_phrase"`
	FarPhrase   string        `yaml:"far_phrase"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
	QueueSize   int           `yaml:"queue_size" validate:"gte=1"`
	Player      []string      `yaml:"player" validate:"min=1"`
}

// Active reports whether announcements should be wired
func (a AudioConfig) Active() bool {
	return a.Enabled && a.APIKey != ""
}

// LogConfig controls the logger
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error silent"`
	Color bool   `yaml:"color"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the stock configuration: an upside-down camera,
// a 360 px wide detection band and a dispatch every 20 frames.
func DefaultConfig() Config {
	return Config{
		Actuator: ActuatorConfig{
			URL:            "ws://192.168.64.165/ws",
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   50 * time.Millisecond,
			PingInterval:   15 * time.Second,
		},
		Detector: DetectorConfig{
			URL:              "ws://127.0.0.1:8765/detect",
			ConfidenceFloor:  0.75,
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     time.Second,
			ReadTimeout:      2 * time.Second,
			JPEGQuality:      85,
		},
		Camera: CameraConfig{
			Source:       "shm",
			ShmName:      "/pet_camera_stream",
			OpenTimeout:  30 * time.Second,
			FrameTimeout: 5 * time.Second,
			Rotation:     180,
			Crop:         RectConfig{X1: 140, Y1: 0, X2: 500, Y2: 479},
		},
		Proximity: ProximityConfig{
			AreaThreshold: 105000,
			Policy:        "largest",
		},
		Dispatch: DispatchConfig{
			Period: 20,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			Addr:          ":8080",
			JPEGQuality:   80,
			RecordingPath: "./recordings",
		},
		Audio: AudioConfig{
			Enabled:     true,
			NearPhrase:  "object close",
			MinInterval: 3 * time.Second,
			QueueSize:   4,
			Player:      []string{"mpg123", "-q", "-"},
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Environment overrides
const (
	EnvActuatorURL = "RELAY_ACTUATOR_URL"
	EnvDetectorURL = "RELAY_DETECTOR_URL"
	EnvTTSAPIKey   = "RELAY_TTS_API_KEY"
	EnvTTSVoiceID  = "RELAY_TTS_VOICE_ID"
)

// Load reads path on top of DefaultConfig, applies environment overrides and
// validates. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyEnv(&cfg, os.Getenv)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overlays the non-empty RELAY_* variables returned by getenv
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvActuatorURL)); v != "" {
		cfg.Actuator.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvDetectorURL)); v != "" {
		cfg.Detector.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvTTSAPIKey)); v != "" {
		cfg.Audio.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvTTSVoiceID)); v != "" {
		cfg.Audio.VoiceID = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the crop rectangle
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	crop := cfg.Camera.Crop
	if crop != (RectConfig{}) && (crop.X2 <= crop.X1 || crop.Y2 <= crop.Y1) {
		return fmt.Errorf("camera.crop must have x2 > x1 and y2 > y1, got %+v", crop)
	}
	return nil
}
