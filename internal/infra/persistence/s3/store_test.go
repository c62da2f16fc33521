package s3

import (
	"context"
	"errors"
	"testing"

	"agriyield/internal/infra/persistence/kvtest"
	"agriyield/pkg/domain"
)

func TestStoreContractAgainstMock(t *testing.T) {
	kvtest.Run(t, func(*testing.T) domain.KeyValueStore { return NewMockForTests() })
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestStoreUsesPrefixedObjectKeys(t *testing.T) {
	s, rt := newMock()
	ctx := context.Background()
	if _, err := s.Put(ctx, domain.KeyFarmers, []byte(`[]`), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := rt.state["agriyield/"+domain.KeyFarmers]; !ok {
		t.Fatalf("expected prefixed object key, have %v", rt.state)
	}
}

func TestStoreConcurrentWritersConflict(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	rev, err := s.Put(ctx, domain.KeyHistory, []byte(`[]`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`["first"]`), rev); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if _, err := s.Put(ctx, domain.KeyHistory, []byte(`["second"]`), rev); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected second writer to conflict, got %v", err)
	}
	rec, err := s.Get(ctx, domain.KeyHistory)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `["first"]` || rec.Revision != rev+1 {
		t.Fatalf("unexpected record %q rev %d", rec.Value, rec.Revision)
	}
}

func TestDeleteLeavesTombstoneObject(t *testing.T) {
	s, rt := newMock()
	ctx := context.Background()
	rev, err := s.Put(ctx, domain.KeyLands, []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, domain.KeyLands); err != nil {
		t.Fatalf("delete: %v", err)
	}
	obj, ok := rt.state["agriyield/"+domain.KeyLands]
	if !ok || len(obj.body) != 0 {
		t.Fatalf("expected empty tombstone object, have %+v", rt.state)
	}
	if _, err := s.Get(ctx, domain.KeyLands); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected tombstone to read as missing, got %v", err)
	}
	if err := s.Delete(ctx, domain.KeyLands); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	recreated, err := s.Put(ctx, domain.KeyLands, []byte(`[2]`), 0)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if recreated != rev+2 {
		t.Fatalf("expected recreate at revision %d, got %d", rev+2, recreated)
	}
}

func TestParseRevisionDefaults(t *testing.T) {
	cases := []struct {
		md   map[string]string
		want domain.Revision
	}{
		{nil, 1},
		{map[string]string{"revision": "x"}, 1},
		{map[string]string{"revision": "0"}, 1},
		{map[string]string{"revision": "7"}, 7},
	}
	for _, c := range cases {
		if got := parseRevision(c.md); got != c.want {
			t.Fatalf("parseRevision(%v)=%d want %d", c.md, got, c.want)
		}
	}
}

func TestDecodeChunked(t *testing.T) {
	raw := []byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")
	got, ok := decodeChunked(raw)
	if !ok || string(got) != "hello" {
		t.Fatalf("expected hello, got %q ok=%v", got, ok)
	}
	if _, ok := decodeChunked([]byte("zz\r\n")); ok {
		t.Fatalf("expected invalid framing to be rejected")
	}
}
