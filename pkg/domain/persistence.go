package domain

import (
	"context"
	"errors"
)

// Persistence keys of the three farm collections. Values are JSON arrays.
const (
	KeyFarmers = "agriYieldFarmers"
	KeyLands   = "agriYieldLands"
	KeyHistory = "agriYieldHistory"
)

// Revision is a monotonically increasing version of a stored key. Zero means
// the key does not exist. Revisions keep increasing across Delete, so a
// revision read before a delete never matches the key after it is recreated.
type Revision uint64

var (
	// ErrKeyNotFound is returned by KeyValueStore.Get for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrRevisionConflict is returned when a conditional write observes a
	// revision other than the expected one.
	ErrRevisionConflict = errors.New("revision conflict")
)

// Record is a stored value together with its revision.
type Record struct {
	Value    []byte
	Revision Revision
}

// KeyValueStore is the durable backend contract. Put is compare-and-swap:
// expected must equal the current revision (0 for create-only) or the write
// fails with ErrRevisionConflict and leaves the key untouched. Delete leaves a
// tombstone holding the last revision; Get reports ErrKeyNotFound for it and a
// create-only Put revives it at a higher revision.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, value []byte, expected Revision) (Revision, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
