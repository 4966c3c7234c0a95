package securitylog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "cnw_security_events"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName sets the PostgreSQL table name. Default: "cnw_security_events".
func WithTableName(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.tableName = name
	}
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresStore creates a PostgreSQL-backed event store.
// It auto-creates the table and indexes on initialization.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validIdentifier.MatchString(s.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.tableName)
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL,
			severity    TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL,
			status      INTEGER NOT NULL DEFAULT 0,
			ip          TEXT NOT NULL DEFAULT '',
			user_agent  TEXT NOT NULL DEFAULT '',
			method      TEXT NOT NULL DEFAULT '',
			url         TEXT NOT NULL DEFAULT '',
			client_type TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			headers     JSONB,
			details     JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_%s_fingerprint_ts
			ON %s (fingerprint, ts);
		CREATE INDEX IF NOT EXISTS idx_%s_ts
			ON %s (ts);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, e Event) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, ts, severity, reason, status, ip, user_agent, method, url,
			client_type, fingerprint, headers, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, e.Severity, e.Reason, e.Status, e.IP, e.UserAgent, e.Method, e.URL,
		e.ClientType, e.Fingerprint, e.Headers, e.Details,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// listQuery builds the SELECT for f. Arguments are positional to keep
// user-controlled values out of the SQL text.
func (s *PostgresStore) listQuery(f Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.Fingerprint != "" {
		args = append(args, f.Fingerprint)
		where = append(where, fmt.Sprintf("fingerprint = $%d", len(args)))
	}
	if f.Reason != "" {
		args = append(args, f.Reason)
		where = append(where, fmt.Sprintf("reason = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	args = append(args, f.limit())

	query := fmt.Sprintf(`SELECT id, ts, severity, reason, status, ip, user_agent, method, url,
		client_type, fingerprint, headers, details FROM %s`, s.tableName)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))
	return query, args
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Event, error) {
	query, args := s.listQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Severity, &e.Reason, &e.Status, &e.IP,
			&e.UserAgent, &e.Method, &e.URL, &e.ClientType, &e.Fingerprint,
			&e.Headers, &e.Details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE fingerprint = $1`, s.tableName)
	var count int
	if err := s.pool.QueryRow(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, s.tableName)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close(_ context.Context) error {
	return nil // user manages the pgxpool.Pool lifecycle
}
