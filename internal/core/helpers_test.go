package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"agriyield/internal/persistence"
	"agriyield/pkg/domain"
)

// faultStore wraps a key-value store and fails selected operations per key.
type faultStore struct {
	domain.KeyValueStore

	mu     sync.Mutex
	getErr map[string]error
	putErr map[string]error
	delErr map[string]error
	puts   []string
}

func newFaultStore() *faultStore {
	return &faultStore{
		KeyValueStore: persistence.NewMemory(),
		getErr:        make(map[string]error),
		putErr:        make(map[string]error),
		delErr:        make(map[string]error),
	}
}

func (f *faultStore) failGet(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr[key] = err
}

func (f *faultStore) failPut(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr[key] = err
}

func (f *faultStore) failDelete(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delErr[key] = err
}

func (f *faultStore) Get(ctx context.Context, key string) (domain.Record, error) {
	f.mu.Lock()
	err := f.getErr[key]
	f.mu.Unlock()
	if err != nil {
		return domain.Record{}, err
	}
	return f.KeyValueStore.Get(ctx, key)
}

func (f *faultStore) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	f.mu.Lock()
	err := f.putErr[key]
	f.puts = append(f.puts, key)
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.KeyValueStore.Put(ctx, key, value, expected)
}

func (f *faultStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	err := f.delErr[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KeyValueStore.Delete(ctx, key)
}

func (f *faultStore) putKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.puts))
	copy(out, f.puts)
	return out
}

// steppingClock returns a fixed instant that only moves when advanced.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{now: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n), nil
	}
}

func newTestService(t *testing.T, kv domain.KeyValueStore, opts ...Option) *Service {
	t.Helper()
	if kv == nil {
		kv = persistence.NewMemory()
	}
	t.Cleanup(func() { _ = kv.Close() })
	base := []Option{WithLocation(time.UTC)}
	return NewService(kv, append(base, opts...)...)
}

func mustCreateFarmer(t *testing.T, svc *Service, name string) Farmer {
	t.Helper()
	f, _, err := svc.CreateFarmer(context.Background(), name)
	if err != nil {
		t.Fatalf("create farmer %q: %v", name, err)
	}
	return f
}

func mustCreatePlot(t *testing.T, svc *Service, farmer FarmerID, area float64) LandPlot {
	t.Helper()
	p, _, err := svc.CreateLandPlot(context.Background(), LandPlot{FarmerID: farmer, Area: area, SoilType: domain.SoilLoamy})
	if err != nil {
		t.Fatalf("create plot for %s: %v", farmer, err)
	}
	return p
}

func mustRecord(t *testing.T, svc *Service, farmer FarmerID, land LandPlotID) HistoryEntry {
	t.Helper()
	e, _, err := svc.RecordPrediction(context.Background(), PredictionInput{
		CropType: domain.CropWheat,
		SoilType: domain.SoilLoamy,
		Area:     12.5,
		FarmerID: farmer,
		LandID:   land,
	}, PredictionResult{PredictedYield: 4.2, YieldUnit: "tons/hectare"})
	if err != nil {
		t.Fatalf("record prediction: %v", err)
	}
	return e
}
