// Package sqlite persists farm collections in a single SQLite table, one row
// per key, using the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"agriyield/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.KeyValueStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "agriyield.db"

// Store keeps each key as a JSON blob in the state table together with its
// revision. Writes are conditional on the revision last read. Deleted keys
// stay as tombstone rows so their revision keeps counting.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		revision INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Get returns the payload and revision stored for key.
func (s *Store) Get(ctx context.Context, key string) (domain.Record, error) {
	var rec domain.Record
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT payload, revision FROM state WHERE bucket = ? AND deleted = 0`, key).Scan(&rec.Value, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("select %s: %w", key, err)
	}
	rec.Revision = domain.Revision(rev)
	return rec, nil
}

// Put writes value when the stored revision equals expected. A create-only
// write over a tombstone continues from the tombstone's revision.
func (s *Store) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	if value == nil {
		value = []byte{}
	}
	var row *sql.Row
	if expected == 0 {
		row = s.db.QueryRowContext(ctx, `INSERT INTO state(bucket, payload, revision, deleted) VALUES(?, ?, 1, 0)
			ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload, revision = state.revision + 1, deleted = 0
			WHERE state.deleted = 1
			RETURNING revision`, key, value)
	} else {
		row = s.db.QueryRowContext(ctx, `UPDATE state SET payload = ?, revision = revision + 1
			WHERE bucket = ? AND revision = ? AND deleted = 0
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
	if _, err := s.db.ExecContext(ctx, `UPDATE state SET payload = x'', revision = revision + 1, deleted = 1
		WHERE bucket = ? AND deleted = 0`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
