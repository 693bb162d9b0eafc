package transport

import "time"

// Config holds the tunables of the WebSocket layer.
type Config struct {
	AllowedOrigins    []string
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	SendQueueSize     int
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

// sanitize clamps out-of-range values to workable defaults so a partially
// filled Config is always usable.
func (c *Config) sanitize() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if c.RateLimitInterval <= 0 {
		c.RateLimitInterval = time.Second
	}
}
