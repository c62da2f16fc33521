// Package redis persists farm collections in Redis hashes. Each key maps to a
// hash holding the payload, its revision and a tombstone flag; updates run
// under WATCH so a concurrent writer aborts the transaction.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agriyield/pkg/domain"
)

var _ domain.KeyValueStore = (*Store)(nil)

const (
	fieldPayload  = "payload"
	fieldRevision = "revision"
	fieldDeleted  = "deleted"
)

// Config holds connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // prepended to every key
}

// Store implements domain.KeyValueStore on a Redis client.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(rdb, cfg.Prefix), nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(rdb *goredis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) redisKey(key string) string { return s.prefix + key }

// Get returns the payload and revision for key.
func (s *Store) Get(ctx context.Context, key string) (domain.Record, error) {
	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), fieldPayload, fieldRevision, fieldDeleted).Result()
	if err != nil {
		return domain.Record{}, fmt.Errorf("hmget %s: %w", key, err)
	}
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil || vals[2] == "1" {
		return domain.Record{}, domain.ErrKeyNotFound
	}
	payload, ok := vals[0].(string)
	if !ok {
		return domain.Record{}, fmt.Errorf("hmget %s: unexpected payload type %T", key, vals[0])
	}
	rev, err := parseRevision(vals[1])
	if err != nil {
		return domain.Record{}, fmt.Errorf("hmget %s: %w", key, err)
	}
	return domain.Record{Value: []byte(payload), Revision: rev}, nil
}

// readState loads the stored revision and tombstone flag inside a WATCH.
func readState(ctx context.Context, tx *goredis.Tx, k string) (domain.Revision, bool, error) {
	vals, err := tx.HMGet(ctx, k, fieldRevision, fieldDeleted).Result()
	if err != nil {
		return 0, false, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return 0, false, nil
	}
	rev, err := parseRevision(vals[0])
	if err != nil {
		return 0, false, err
	}
	return rev, vals[1] == "1", nil
}

// nextRevision checks expected against the stored state and returns the
// revision the write will carry. Tombstones count as absent for the check
// but keep their revision.
func nextRevision(stored domain.Revision, deleted bool, expected domain.Revision) (domain.Revision, error) {
	current := stored
	if deleted {
		current = 0
	}
	if current != expected {
		return 0, domain.ErrRevisionConflict
	}
	return stored + 1, nil
}

// Put writes value when the stored revision equals expected.
func (s *Store) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	k := s.redisKey(key)
	var next domain.Revision
	txf := func(tx *goredis.Tx) error {
		stored, deleted, err := readState(ctx, tx, k)
		if err != nil {
			return err
		}
		next, err = nextRevision(stored, deleted, expected)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldPayload, value, fieldRevision, uint64(next), fieldDeleted, "0")
			return nil
		})
		return err
	}
	err := s.rdb.Watch(ctx, txf, k)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, domain.ErrRevisionConflict), errors.Is(err, goredis.TxFailedErr):
		return 0, fmt.Errorf("write %s at revision %d: %w", key, expected, domain.ErrRevisionConflict)
	default:
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
}

// Delete replaces key with a tombstone that keeps counting revisions.
func (s *Store) Delete(ctx context.Context, key string) error {
	k := s.redisKey(key)
	txf := func(tx *goredis.Tx) error {
		stored, deleted, err := readState(ctx, tx, k)
		if err != nil {
			return err
		}
		if stored == 0 || deleted {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldPayload, "", fieldRevision, uint64(stored+1), fieldDeleted, "1")
			return nil
		})
		return err
	}
	if err := s.rdb.Watch(ctx, txf, k); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func parseRevision(v any) (domain.Revision, error) {
	raw, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected revision type %T", v)
	}
	var rev uint64
	if _, err := fmt.Sscan(raw, &rev); err != nil {
		return 0, fmt.Errorf("parse revision %q: %w", raw, err)
	}
	return domain.Revision(rev), nil
}
