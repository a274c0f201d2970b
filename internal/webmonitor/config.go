package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr           string
	AssetsDir      string        // optional directory served under /assets/
	StatusInterval time.Duration // period of /api/status/stream pushes
	FrameTimeout   time.Duration // MJPEG clients get a blank frame after this idle time
	KeepAlive      time.Duration // SSE keepalive comment period
	FrameWidth     int           // size of the blank frame
	FrameHeight    int
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8090",
		StatusInterval: 2 * time.Second,
		FrameTimeout:   5 * time.Second,
		KeepAlive:      30 * time.Second,
		FrameWidth:     640,
		FrameHeight:    480,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = def.FrameTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		c.FrameWidth, c.FrameHeight = def.FrameWidth, def.FrameHeight
	}
	return c
}
