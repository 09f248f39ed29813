// Package store is the SQLite persistence layer for collected content,
// author profiles, enrichment results and the task log.
//
// The store receives an already-opened *sql.DB (see dbopen) and never owns
// pragmas or connection lifetime.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert hits the fingerprint or native-id
// uniqueness constraint.
var ErrDuplicate = errors.New("store: duplicate record")

// ErrNotFound is returned by single-row lookups.
var ErrNotFound = errors.New("store: not found")

// Store wraps the scout database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
