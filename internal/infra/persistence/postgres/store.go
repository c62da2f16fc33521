// Package postgres persists farm collections in a Postgres table, one row per
// key, through the pgx database/sql driver. Payloads are stored as BYTEA so
// the JSON documents come back byte for byte.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"agriyield/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.KeyValueStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/agriyield?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps each key as a payload with a revision column used for
// conditional updates. Deleted keys stay as tombstone rows so their revision
// keeps counting.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to a local
// default) and ensures the state table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		revision BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Get returns the payload and revision stored for key.
func (s *Store) Get(ctx context.Context, key string) (domain.Record, error) {
	var payload []byte
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT payload, revision FROM state WHERE bucket = $1 AND NOT deleted`, key).Scan(&payload, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("select %s: %w", key, err)
	}
	return domain.Record{Value: payload, Revision: domain.Revision(rev)}, nil
}

// Put writes value when the stored revision equals expected. A create-only
// write over a tombstone continues from the tombstone's revision.
func (s *Store) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	if value == nil {
		value = []byte{}
	}
	var row *sql.Row
	if expected == 0 {
		row = s.db.QueryRowContext(ctx, `INSERT INTO state (bucket, payload, revision, deleted) VALUES ($1, $2, 1, FALSE)
			ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, revision = state.revision + 1, deleted = FALSE
			WHERE state.deleted
			RETURNING revision`, key, value)
	} else {
		row = s.db.QueryRowContext(ctx, `UPDATE state SET payload = $1, revision = revision + 1
			WHERE bucket = $2 AND revision = $3 AND NOT deleted
			RETURNING revision`, value, key, int64(expected))
	}
	var rev int64
	err := row.Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("write %s at revision %d: %w", key, expected, domain.ErrRevisionConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	return domain.Revision(rev), nil
}

// Delete turns the row for key into a tombstone.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE state SET payload = $1, revision = revision + 1, deleted = TRUE
		WHERE bucket = $2 AND NOT deleted`, []byte{}, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
