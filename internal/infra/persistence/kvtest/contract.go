// Package kvtest holds the behavioral contract every domain.KeyValueStore
// backend must satisfy. Backend packages call Run from their own tests.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"agriyield/pkg/domain"
)

// Factory returns a fresh, empty store. The store is closed by Run.
type Factory func(t *testing.T) domain.KeyValueStore

// Run executes the contract subtests against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.KeyValueStore)
	}{
		{"GetMissing", testGetMissing},
		{"CreateOnly", testCreateOnly},
		{"CompareAndSwap", testCompareAndSwap},
		{"DeleteAndRecreate", testDeleteAndRecreate},
		{"RevisionsSurviveDelete", testRevisionsSurviveDelete},
		{"DeleteMissing", testDeleteMissing},
		{"ValuesAreCopied", testValuesAreCopied},
		{"KeysAreIndependent", testKeysAreIndependent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func testGetMissing(t *testing.T, s domain.KeyValueStore) {
	_, err := s.Get(context.Background(), domain.KeyFarmers)
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func testCreateOnly(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	rev, err := s.Put(ctx, domain.KeyFarmers, []byte(`[]`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rev == 0 {
		t.Fatalf("expected non-zero revision after create")
	}
	if _, err := s.Put(ctx, domain.KeyFarmers, []byte(`[{"id":"x"}]`), 0); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict on second create, got %v", err)
	}
	rec, err := s.Get(ctx, domain.KeyFarmers)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `[]` || rec.Revision != rev {
		t.Fatalf("conflicting create modified record: %q rev %d", rec.Value, rec.Revision)
	}
}

func testCompareAndSwap(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	first, err := s.Put(ctx, domain.KeyLands, []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.Put(ctx, domain.KeyLands, []byte(`[1,2]`), first)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second <= first {
		t.Fatalf("expected revision to increase, got %d after %d", second, first)
	}
	if _, err := s.Put(ctx, domain.KeyLands, []byte(`[9]`), first); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict on stale revision, got %v", err)
	}
	rec, err := s.Get(ctx, domain.KeyLands)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `[1,2]` || rec.Revision != second {
		t.Fatalf("unexpected record %q rev %d", rec.Value, rec.Revision)
	}
}

func testDeleteAndRecreate(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`[1]`), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, domain.KeyHistory); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, domain.KeyHistory); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`[2]`), 0); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func testRevisionsSurviveDelete(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	first, err := s.Put(ctx, domain.KeyHistory, []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, domain.KeyHistory); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`[9]`), first); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict writing to a deleted key, got %v", err)
	}
	recreated, err := s.Put(ctx, domain.KeyHistory, []byte(`[2]`), 0)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if recreated <= first {
		t.Fatalf("expected recreated revision above %d, got %d", first, recreated)
	}
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`[3]`), first); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected stale revision from before delete to conflict, got %v", err)
	}
	rec, err := s.Get(ctx, domain.KeyHistory)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `[2]` || rec.Revision != recreated {
		t.Fatalf("unexpected record %q rev %d", rec.Value, rec.Revision)
	}
	if err := s.Delete(ctx, domain.KeyHistory); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	again, err := s.Put(ctx, domain.KeyHistory, []byte(`[4]`), 0)
	if err != nil {
		t.Fatalf("second recreate: %v", err)
	}
	if again <= recreated {
		t.Fatalf("expected revision above %d after second recreate, got %d", recreated, again)
	}
}

func testDeleteMissing(t *testing.T, s domain.KeyValueStore) {
	if err := s.Delete(context.Background(), "never-written"); err != nil {
		t.Fatalf("expected delete of missing key to succeed, got %v", err)
	}
}

func testValuesAreCopied(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	value := []byte(`["a"]`)
	if _, err := s.Put(ctx, domain.KeyFarmers, value, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	value[2] = 'z'
	rec, err := s.Get(ctx, domain.KeyFarmers)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `["a"]` {
		t.Fatalf("stored value changed with caller buffer: %q", rec.Value)
	}
}

func testKeysAreIndependent(t *testing.T, s domain.KeyValueStore) {
	ctx := context.Background()
	if _, err := s.Put(ctx, domain.KeyFarmers, []byte(`["f"]`), 0); err != nil {
		t.Fatalf("create farmers: %v", err)
	}
	if _, err := s.Put(ctx, domain.KeyLands, []byte(`["l"]`), 0); err != nil {
		t.Fatalf("create lands: %v", err)
	}
	if err := s.Delete(ctx, domain.KeyLands); err != nil {
		t.Fatalf("delete lands: %v", err)
	}
	rec, err := s.Get(ctx, domain.KeyFarmers)
	if err != nil || string(rec.Value) != `["f"]` {
		t.Fatalf("farmers affected by lands delete: %q %v", rec.Value, err)
	}
}
