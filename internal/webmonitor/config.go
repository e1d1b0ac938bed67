package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration // how often status SSE clients are updated
	JPEGQuality    int
	EventHistory   int           // entries kept for /api/events when no session is attached
	MJPEGIdle      time.Duration // resend a placeholder frame after this long without frames
	KeepAlive      time.Duration // SSE keep-alive comment interval
}

// DefaultConfig returns the defaults used by cmd/driver-monitor.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 200 * time.Millisecond,
		JPEGQuality:    80,
		EventHistory:   200,
		MJPEGIdle:      5 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.EventHistory <= 0 {
		c.EventHistory = d.EventHistory
	}
	if c.MJPEGIdle <= 0 {
		c.MJPEGIdle = d.MJPEGIdle
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = d.KeepAlive
	}
	return c
}
