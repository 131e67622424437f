// Package audit persists every CLAPI invocation to Postgres.
//
// Store implements clapi.Observer. A write failure is logged and dropped:
// by the time the record arrives the invocation has already happened and
// the caller's result must not depend on the audit log.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nmslite/clapictl/internal/clapi"
)

const (
	writeTimeout = 5 * time.Second
	maxListLimit = 500
)

// DBTX is the subset of pgxpool.Pool used by Store
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is a stored invocation
type Entry struct {
	ID         uuid.UUID `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Action     string    `json:"action"`
	ObjectType string    `json:"object_type,omitempty"`
	Payload    string    `json:"payload"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	User       string    `json:"user,omitempty"`
}

// Store writes and reads the clapi_invocations table
type Store struct {
	db     DBTX
	logger *slog.Logger
}

// NewStore creates a new audit store
func NewStore(db DBTX, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "audit"),
	}
}

const insertInvocation = `
INSERT INTO clapi_invocations
    (id, started_at, duration_ms, action, object_type, payload, exit_code, stdout, stderr, error, request_id, username)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Insert stores one record
func (s *Store) Insert(ctx context.Context, rec clapi.Record) error {
	_, err := s.db.Exec(ctx, insertInvocation,
		rec.ID,
		rec.StartedAt,
		rec.Duration.Milliseconds(),
		rec.Action,
		rec.ObjectType,
		rec.Payload,
		rec.ExitCode,
		rec.Stdout,
		rec.Stderr,
		rec.Error,
		rec.RequestID,
		rec.User,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}
	return nil
}

// ObserveInvocation implements clapi.Observer
func (s *Store) ObserveInvocation(ctx context.Context, rec clapi.Record) {
	// Keep writing even if the caller's context is already cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.Insert(writeCtx, rec); err != nil {
		s.logger.Error("Failed to record invocation",
			"id", rec.ID,
			"action", rec.Action,
			"request_id", rec.RequestID,
			"error", err,
		)
	}
}

const listInvocations = `
SELECT id, started_at, duration_ms, action, object_type, payload, exit_code, stdout, stderr, error, request_id, username
FROM clapi_invocations
ORDER BY started_at DESC
LIMIT $1`

// List returns the latest invocations, newest first
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.Query(ctx, listInvocations, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.StartedAt,
			&e.DurationMS,
			&e.Action,
			&e.ObjectType,
			&e.Payload,
			&e.ExitCode,
			&e.Stdout,
			&e.Stderr,
			&e.Error,
			&e.RequestID,
			&e.User,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invocations: %w", err)
	}

	return entries, nil
}
