// Package securitylog records rejected and anomalous commercial requests for
// offline security review. Events are logged immediately and persisted
// asynchronously to a Store.
package securitylog

import (
	"context"
	"time"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one suspicious or rejected request.
type Event struct {
	ID          string                 `json:"id" bson:"_id"`
	Timestamp   time.Time              `json:"timestamp" bson:"timestamp"`
	Severity    string                 `json:"severity" bson:"severity"`
	Reason      string                 `json:"reason" bson:"reason"`
	Status      int                    `json:"status" bson:"status"`
	IP          string                 `json:"ip" bson:"ip"`
	UserAgent   string                 `json:"user_agent" bson:"user_agent"`
	Method      string                 `json:"method" bson:"method"`
	URL         string                 `json:"url" bson:"url"`
	ClientType  string                 `json:"client_type,omitempty" bson:"client_type,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty" bson:"fingerprint,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty" bson:"headers,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
}

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	Fingerprint string
	Reason      string
	Since       time.Time
	Limit       int
}

// Store persists security events.
type Store interface {
	// Save persists one event.
	Save(ctx context.Context, e Event) error

	// List returns events matching f, newest first.
	List(ctx context.Context, f Filter) ([]Event, error)

	// CountByFingerprint returns how many events were recorded for a fingerprint.
	CountByFingerprint(ctx context.Context, fingerprint string) (int, error)

	// Prune removes events older than olderThan and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

const defaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
