package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"agriyield/internal/infra/persistence/kvtest"
	"agriyield/pkg/domain"
)

// TestStoreContractAgainstServer runs when AGRIYIELD_TEST_REDIS_ADDR points at
// a disposable Redis instance. Every subtest uses its own key prefix.
func TestStoreContractAgainstServer(t *testing.T) {
	addr := os.Getenv("AGRIYIELD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGRIYIELD_TEST_REDIS_ADDR not set")
	}
	run := time.Now().UnixNano()
	n := 0
	kvtest.Run(t, func(t *testing.T) domain.KeyValueStore {
		n++
		store, err := New(context.Background(), Config{Addr: addr, Prefix: fmt.Sprintf("agriyield-test:%d:%d:", run, n)})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		return store
	})
}

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}

func TestParseRevision(t *testing.T) {
	if rev, err := parseRevision("42"); err != nil || rev != 42 {
		t.Fatalf("expected 42, got %d %v", rev, err)
	}
	if _, err := parseRevision("x"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := parseRevision(42); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestNextRevisionContinuesPastTombstones(t *testing.T) {
	cases := map[string]struct {
		stored   domain.Revision
		deleted  bool
		expected domain.Revision
		want     domain.Revision
		conflict bool
	}{
		"create":             {stored: 0, expected: 0, want: 1},
		"update":             {stored: 3, expected: 3, want: 4},
		"stale update":       {stored: 3, expected: 2, conflict: true},
		"create over live":   {stored: 3, expected: 0, conflict: true},
		"revive tombstone":   {stored: 5, deleted: true, expected: 0, want: 6},
		"update a tombstone": {stored: 5, deleted: true, expected: 4, conflict: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := nextRevision(tc.stored, tc.deleted, tc.expected)
			if tc.conflict {
				if !errors.Is(err, domain.ErrRevisionConflict) {
					t.Fatalf("expected conflict, got %d %v", got, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %d, got %d %v", tc.want, got, err)
			}
		})
	}
}
