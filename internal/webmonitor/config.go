package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr              string
	JPEGQuality       int
	HistorySize       int
	KeepaliveInterval time.Duration
	IdleFrameInterval time.Duration
	RecordingPath     string
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		JPEGQuality:       80,
		HistorySize:       8,
		KeepaliveInterval: 30 * time.Second,
		IdleFrameInterval: 5 * time.Second,
		RecordingPath:     "./recordings",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.IdleFrameInterval <= 0 {
		c.IdleFrameInterval = def.IdleFrameInterval
	}
	if c.RecordingPath == "" {
		c.RecordingPath = def.RecordingPath
	}
	return c
}
