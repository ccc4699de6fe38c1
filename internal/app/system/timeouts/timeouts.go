// Package timeouts holds the deadlines for every store round-trip the socket
// service makes.
//
// Socket event handlers have no request context of their own, so each
// suspension point derives one from these values:
//   - Ping: health checks (Mongo and Redis)
//   - Lookup: hub membership reads during hub:join and hub:presence:whois
//   - Write: best-effort last-seen writes
//   - Drain: how long shutdown waits for queued last-seen writes
//
// Values can be overridden at startup with Configure or ConfigureFromEnv.
package timeouts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values (used if Configure is not called).
const (
	DefaultPing   = 2 * time.Second
	DefaultLookup = 5 * time.Second
	DefaultWrite  = 5 * time.Second
	DefaultDrain  = 10 * time.Second
)

var mu sync.RWMutex

var (
	ping   = DefaultPing
	lookup = DefaultLookup
	write  = DefaultWrite
	drain  = DefaultDrain
)

// Ping returns the timeout for health checks.
func Ping() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return ping
}

// Lookup returns the timeout for membership reads.
func Lookup() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return lookup
}

// Write returns the timeout for a single last-seen write.
func Write() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return write
}

// Drain returns how long shutdown waits for pending background writes.
func Drain() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return drain
}

// Config holds timeout configuration values.
// Zero values are ignored (current values are kept).
type Config struct {
	Ping   time.Duration
	Lookup time.Duration
	Write  time.Duration
	Drain  time.Duration
}

// Configure sets custom timeout values. Call during startup.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		ping = cfg.Ping
	}
	if cfg.Lookup > 0 {
		lookup = cfg.Lookup
	}
	if cfg.Write > 0 {
		write = cfg.Write
	}
	if cfg.Drain > 0 {
		drain = cfg.Drain
	}
}

// Reset restores all timeouts to their default values.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	ping = DefaultPing
	lookup = DefaultLookup
	write = DefaultWrite
	drain = DefaultDrain
}

// ConfigureFromEnv reads HUBSOCKET_TIMEOUT_PING, HUBSOCKET_TIMEOUT_LOOKUP,
// HUBSOCKET_TIMEOUT_WRITE and HUBSOCKET_TIMEOUT_DRAIN (Go duration strings).
// Unset or invalid values are skipped. Returns how many were applied.
func ConfigureFromEnv() int {
	var cfg Config
	configured := 0

	for _, v := range []struct {
		env string
		dst *time.Duration
	}{
		{"HUBSOCKET_TIMEOUT_PING", &cfg.Ping},
		{"HUBSOCKET_TIMEOUT_LOOKUP", &cfg.Lookup},
		{"HUBSOCKET_TIMEOUT_WRITE", &cfg.Write},
		{"HUBSOCKET_TIMEOUT_DRAIN", &cfg.Drain},
	} {
		raw := os.Getenv(v.env)
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			*v.dst = d
			configured++
		}
	}

	Configure(cfg)
	return configured
}

// Current returns the current timeout configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return Config{
		Ping:   ping,
		Lookup: lookup,
		Write:  write,
		Drain:  drain,
	}
}

// WithTimeout creates a context with timeout and returns a cancel function that
// logs a warning if the deadline was hit.
//
//	ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Lookup(), log, "hub membership lookup")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
