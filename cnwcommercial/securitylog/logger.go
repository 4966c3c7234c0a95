package securitylog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 1024
	defaultSaveTimeout = 5 * time.Second
)

// Option configures a Logger.
type Option func(*Logger)

// WithStore persists every recorded event to s.
func WithStore(s Store) Option {
	return func(l *Logger) {
		l.store = s
	}
}

// WithQueueSize bounds the number of events waiting to be persisted.
// Default: 1024.
func WithQueueSize(n int) Option {
	return func(l *Logger) {
		l.queueSize = n
	}
}

// WithDroppedCounter counts events dropped because the queue was full.
func WithDroppedCounter(c prometheus.Counter) Option {
	return func(l *Logger) {
		l.droppedCounter = c
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// Logger writes each event to a structured log right away and hands it to
// a single background writer for persistence. Record never blocks on the
// store: when the queue is full the event is dropped and counted.
type Logger struct {
	log            *zap.Logger
	store          Store
	queueSize      int
	droppedCounter prometheus.Counter
	now            func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// New creates a Logger. Without WithStore events are only logged.
func New(log *zap.Logger, opts ...Option) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logger{
		log:       log,
		queueSize: defaultQueueSize,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store != nil {
		if l.queueSize <= 0 {
			l.queueSize = defaultQueueSize
		}
		l.queue = make(chan Event, l.queueSize)
		go l.persist()
	} else {
		close(l.done)
	}
	return l
}

// Record logs e and queues it for persistence. Missing ID, Timestamp and
// Severity are filled in.
func (l *Logger) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityWarning
	}

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("reason", e.Reason),
		zap.Int("status", e.Status),
		zap.String("ip", e.IP),
		zap.String("user_agent", e.UserAgent),
		zap.String("method", e.Method),
		zap.String("url", e.URL),
		zap.String("client_type", e.ClientType),
		zap.String("fingerprint", e.Fingerprint),
		zap.Any("headers", e.Headers),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	switch e.Severity {
	case SeverityInfo:
		l.log.Info("suspicious commercial request", fields...)
	case SeverityCritical:
		l.log.Error("suspicious commercial request", fields...)
	default:
		l.log.Warn("suspicious commercial request", fields...)
	}

	l.enqueue(e)
}

func (l *Logger) enqueue(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.queue == nil || l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
		if l.droppedCounter != nil {
			l.droppedCounter.Inc()
		}
		l.log.Warn("security event queue full, dropping event", zap.String("event_id", e.ID))
	}
}

// Dropped returns how many events were not persisted because the queue was full.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops accepting events and waits until queued events are written or
// ctx is done. It does not close the store.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		if l.queue != nil {
			close(l.queue)
		}
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) persist() {
	defer close(l.done)
	for e := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
		if err := l.store.Save(ctx, e); err != nil {
			l.log.Error("persist security event", zap.String("event_id", e.ID), zap.Error(err))
		}
		cancel()
	}
}
