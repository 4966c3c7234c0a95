package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock sets the time source. Default is time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// WithoutSweeper disables the background sweep goroutine. Sweep can still be
// called directly.
func WithoutSweeper() MemoryOption {
	return func(l *MemoryLimiter) {
		l.sweeper = false
	}
}

type window struct {
	count     int
	resetTime time.Time
}

// MemoryLimiter is a fixed-window counter keyed by client fingerprint.
// A window starts on the first request after the previous one expired.
type MemoryLimiter struct {
	cfg     Config
	now     func() time.Time
	sweeper bool

	mu      sync.Mutex
	windows map[string]*window

	stop      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryLimiter creates a limiter and starts its sweep goroutine.
// Call Close to stop it.
func NewMemoryLimiter(cfg Config, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		sweeper: true,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweeper {
		go l.sweepLoop()
	} else {
		close(l.done)
	}
	return l
}

// Allow implements Limiter. It never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetTime) {
		l.windows[key] = &window{count: 1, resetTime: now.Add(l.cfg.Window)}
		return true, nil
	}
	if w.count >= l.cfg.MaxRequests {
		return false, nil
	}
	w.count++
	return true, nil
}

// Count returns the requests counted in key's current window.
func (l *MemoryLimiter) Count(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetTime) {
		return 0
	}
	return w.count
}

// Reset forgets key's window.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Len returns the number of tracked keys, expired or not.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep drops every window whose reset time has passed and returns how many
// were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetTime) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	<-l.done
	return nil
}

func (l *MemoryLimiter) sweepLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}
