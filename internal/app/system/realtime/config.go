// internal/app/system/realtime/config.go
package realtime

import "time"

// Defaults for Config fields left at zero.
const (
	DefaultSendBuffer      = 64
	DefaultPingInterval    = 25 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultMaxMessageBytes = 64 << 10
)

// Config tunes every connection hosted by a Server.
type Config struct {
	// SendBuffer is the number of outbound frames a connection may have
	// queued. A connection whose queue is full is closed as a slow consumer.
	SendBuffer int
	// PingInterval is how often the server pings an idle client.
	PingInterval time.Duration
	// PongWait is how long the server waits for any inbound traffic,
	// pongs included, before giving up on the client.
	PongWait time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// MaxMessageBytes limits the size of one inbound frame.
	MaxMessageBytes int64
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}
