// Package ratelimit provides per-key request limiters for the commercial
// verification middleware.
//
// MemoryLimiter keeps its windows in process memory and is only correct for
// a single instance. Deployments that run several instances behind a load
// balancer should use RedisLimiter so every instance shares the same counters.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	// Allow reports whether the request is allowed. A rejected request is
	// not counted against the window.
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds fixed-window limits.
type Config struct {
	// MaxRequests is the number of requests allowed per key per window.
	MaxRequests int
	// Window is the length of one counting window.
	Window time.Duration
	// SweepInterval is how often expired windows are dropped (MemoryLimiter only).
	SweepInterval time.Duration
}

// DefaultConfig allows 100 requests per key per minute and sweeps every 5 minutes.
func DefaultConfig() Config {
	return Config{
		MaxRequests:   100,
		Window:        time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRequests <= 0 {
		c.MaxRequests = d.MaxRequests
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}
