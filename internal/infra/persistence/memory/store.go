// Package memory provides a process-local implementation of the revisioned
// key-value contract, used by tests and the "memory" storage driver.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"agriyield/pkg/domain"
)

var _ domain.KeyValueStore = (*Store)(nil)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Store keeps records in a map guarded by a mutex. Values are copied on the
// way in and out so callers never share backing arrays with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string]entry
	closed  bool
}

// entry is a stored record; deleted entries keep their revision as a tombstone.
type entry struct {
	value    []byte
	revision domain.Revision
	deleted  bool
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]entry)}
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Record{}, ErrClosed
	}
	e, ok := s.records[key]
	if !ok || e.deleted {
		return domain.Record{}, domain.ErrKeyNotFound
	}
	return domain.Record{Value: cloneBytes(e.value), Revision: e.revision}, nil
}

// Put stores value under key when the current revision equals expected.
func (s *Store) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	e := s.records[key]
	current := e.revision
	if e.deleted {
		current = 0
	}
	if current != expected {
		return current, domain.ErrRevisionConflict
	}
	next := e.revision + 1
	s.records[key] = entry{value: cloneBytes(value), revision: next}
	return next, nil
}

// Delete removes key, keeping its revision as a tombstone. Deleting an absent
// key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e, ok := s.records[key]; ok && !e.deleted {
		s.records[key] = entry{revision: e.revision + 1, deleted: true}
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for k, e := range s.records {
		if !e.deleted {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Close marks the store closed and discards its records.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
