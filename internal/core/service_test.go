package core

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"agriyield/internal/persistence"
	"agriyield/pkg/domain"
	"agriyield/pkg/geometry"
)

func TestAliceOneSquareKilometerScenario(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	alice := mustCreateFarmer(t, svc, "  Alice  ")
	if alice.Name != "Alice" {
		t.Fatalf("expected trimmed name, got %q", alice.Name)
	}

	side := 1000 / geometry.EarthRadius * 180 / math.Pi
	ring := orb.Ring{{0, 0}, {side, 0}, {side, side}, {0, side}}
	area, payload := geometry.Encode(ring)
	plot, res, err := svc.CreateLandPlot(ctx, LandPlot{
		FarmerID: alice.ID,
		Area:     area,
		Boundary: payload,
		SoilType: domain.SoilLoamy,
	})
	if err != nil {
		t.Fatalf("create plot: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if plot.Area < 99 || plot.Area > 101 {
		t.Fatalf("expected ~100 ha, got %f", plot.Area)
	}
	if plot.Area != geometry.RoundHectares(plot.Area) {
		t.Fatalf("expected area rounded to 2 decimals, got %v", plot.Area)
	}

	entry := mustRecord(t, svc, alice.ID, plot.ID)
	if history := svc.ListHistory(ctx); history.Len() != 1 || history.Items[0].ID != entry.ID {
		t.Fatalf("expected recorded entry, got %+v", history.Items)
	}

	report, err := svc.DeleteFarmer(ctx, alice.ID)
	if err != nil {
		t.Fatalf("delete farmer: %v", err)
	}
	want := DeleteReport{HistoryRemoved: 1, LandPlotsRemoved: 1, FarmerRemoved: true}
	if report != want {
		t.Fatalf("expected report %+v, got %+v", want, report)
	}
	if n := svc.ListFarmers(ctx).Len(); n != 0 {
		t.Fatalf("expected no farmers, got %d", n)
	}
	if n := svc.ListLandPlots(ctx).Len(); n != 0 {
		t.Fatalf("expected no plots, got %d", n)
	}
	if n := svc.ListHistory(ctx).Len(); n != 0 {
		t.Fatalf("expected no history, got %d", n)
	}
}

func TestCreateFarmerRejectsBlankName(t *testing.T) {
	svc := newTestService(t, nil)
	if _, _, err := svc.CreateFarmer(context.Background(), " \t "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if n := svc.ListFarmers(context.Background()).Len(); n != 0 {
		t.Fatalf("expected nothing persisted, got %d farmers", n)
	}
}

func TestDeleteFarmerCascadeKeepsOtherFarmers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	bob := mustCreateFarmer(t, svc, "Bob")
	carol := mustCreateFarmer(t, svc, "Carol")
	bobPlot := mustCreatePlot(t, svc, bob.ID, 3)
	carolPlot := mustCreatePlot(t, svc, carol.ID, 4)
	mustRecord(t, svc, bob.ID, bobPlot.ID)
	carolEntry := mustRecord(t, svc, carol.ID, carolPlot.ID)
	mustRecord(t, svc, bob.ID, "")

	report, err := svc.DeleteFarmer(ctx, bob.ID)
	if err != nil {
		t.Fatalf("delete farmer: %v", err)
	}
	if report.HistoryRemoved != 2 || report.LandPlotsRemoved != 1 || !report.FarmerRemoved {
		t.Fatalf("unexpected report %+v", report)
	}

	snap := svc.Snapshot(ctx)
	if !reflect.DeepEqual(snap.Farmers.Items, []Farmer{carol}) {
		t.Fatalf("expected only carol, got %+v", snap.Farmers.Items)
	}
	if !reflect.DeepEqual(snap.LandPlots.Items, []LandPlot{carolPlot}) {
		t.Fatalf("expected only carol's plot, got %+v", snap.LandPlots.Items)
	}
	if len(snap.History.Items) != 1 || snap.History.Items[0].ID != carolEntry.ID {
		t.Fatalf("expected only carol's entry, got %+v", snap.History.Items)
	}
	for _, p := range snap.LandPlots.Items {
		if _, ok := findFarmer(snap.Farmers.Items, p.FarmerID); !ok {
			t.Fatalf("plot %s left without farmer", p.ID)
		}
	}
}

func findFarmer(farmers []Farmer, id FarmerID) (Farmer, bool) {
	for _, f := range farmers {
		if f.ID == id {
			return f, true
		}
	}
	return Farmer{}, false
}

func TestDeleteUnknownFarmerIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := newFaultStore()
	svc := newTestService(t, kv)
	mustCreateFarmer(t, svc, "Dana")
	before := len(kv.putKeys())

	report, err := svc.DeleteFarmer(ctx, "missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report != (DeleteReport{}) {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if after := len(kv.putKeys()); after != before {
		t.Fatalf("expected no writes, got %d", after-before)
	}
}

func TestDeleteFarmerStageFailureStopsCascade(t *testing.T) {
	ctx := context.Background()
	kv := newFaultStore()
	svc := newTestService(t, kv)

	erin := mustCreateFarmer(t, svc, "Erin")
	plot := mustCreatePlot(t, svc, erin.ID, 2)
	mustRecord(t, svc, erin.ID, plot.ID)

	boom := errors.New("disk full")
	kv.failPut(domain.KeyLands, boom)

	report, err := svc.DeleteFarmer(ctx, erin.ID)
	var cascade *CascadeError
	if !errors.As(err, &cascade) {
		t.Fatalf("expected CascadeError, got %v", err)
	}
	if cascade.Stage != StageLandPlots || cascade.FarmerID != erin.ID {
		t.Fatalf("unexpected cascade error %+v", cascade)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if report.HistoryRemoved != 1 || report.LandPlotsRemoved != 0 || report.FarmerRemoved {
		t.Fatalf("unexpected partial report %+v", report)
	}

	if n := svc.ListHistory(ctx).Len(); n != 0 {
		t.Fatalf("history stage should stay applied, got %d entries", n)
	}
	if n := svc.ListLandPlots(ctx).Len(); n != 1 {
		t.Fatalf("expected plot to remain, got %d", n)
	}
	if n := svc.ListFarmers(ctx).Len(); n != 1 {
		t.Fatalf("expected farmer to remain, got %d", n)
	}
}

func TestIDsAreUniqueAcrossCreates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		f := mustCreateFarmer(t, svc, "Farmer")
		if _, dup := seen[string(f.ID)]; dup {
			t.Fatalf("duplicate farmer id %s", f.ID)
		}
		seen[string(f.ID)] = struct{}{}
		p := mustCreatePlot(t, svc, f.ID, 1)
		if _, dup := seen[string(p.ID)]; dup {
			t.Fatalf("duplicate plot id %s", p.ID)
		}
		seen[string(p.ID)] = struct{}{}
	}
	if n := svc.ListFarmers(ctx).Len(); n != 20 {
		t.Fatalf("expected 20 farmers, got %d", n)
	}
}

func TestHistoryIsNewestFirstWithIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	clock := newSteppingClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, nil, WithClock(clock))

	var created []HistoryEntry
	for i := 0; i < 4; i++ {
		// the clock does not move, ids must still increase
		created = append(created, mustRecord(t, svc, "", ""))
	}
	clock.advance(time.Second)
	created = append(created, mustRecord(t, svc, "", ""))

	history := svc.ListHistory(ctx).Items
	if len(history) != len(created) {
		t.Fatalf("expected %d entries, got %d", len(created), len(history))
	}
	for i := range created {
		if history[i].ID != created[len(created)-1-i].ID {
			t.Fatalf("entry %d out of order: %s", i, history[i].ID)
		}
	}
	for i := 1; i < len(created); i++ {
		if created[i].ID <= created[i-1].ID {
			t.Fatalf("ids not strictly increasing: %s then %s", created[i-1].ID, created[i].ID)
		}
	}
	if created[0].ID != "2025-03-01T09:00:00.000Z" || created[1].ID != "2025-03-01T09:00:00.001Z" {
		t.Fatalf("unexpected ids %s %s", created[0].ID, created[1].ID)
	}
	if created[0].DisplayTimestamp != "3/1/2025, 9:00:00 AM" {
		t.Fatalf("unexpected display timestamp %q", created[0].DisplayTimestamp)
	}
}

func TestHistoryIDsAdvancePastPersistedEntries(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	first := newTestService(t, kv, WithClock(ClockFunc(func() time.Time { return future })))
	entry := mustRecord(t, first, "", "")

	// a second process whose clock lags behind the persisted entry
	second := NewService(kv, WithClock(ClockFunc(func() time.Time { return future.Add(-time.Hour) })))
	next, _, err := second.RecordPrediction(ctx, PredictionInput{CropType: domain.CropRice}, PredictionResult{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if next.ID <= entry.ID {
		t.Fatalf("expected id after %s, got %s", entry.ID, next.ID)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first := svc.Snapshot(ctx)
	second := svc.Snapshot(ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical snapshots")
	}
	if !reflect.DeepEqual(svc.ListLandPlots(ctx), svc.ListLandPlots(ctx)) {
		t.Fatalf("expected identical plot listings")
	}
}

func TestLandPlotsForFarmerPreservesOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, WithIDGenerator(sequentialIDs("id")))
	a := mustCreateFarmer(t, svc, "A")
	b := mustCreateFarmer(t, svc, "B")
	p1 := mustCreatePlot(t, svc, a.ID, 1)
	mustCreatePlot(t, svc, b.ID, 1)
	p3 := mustCreatePlot(t, svc, a.ID, 1)

	got := svc.LandPlotsForFarmer(ctx, a.ID)
	if !got.OK() || !reflect.DeepEqual(got.Items, []LandPlot{p1, p3}) {
		t.Fatalf("unexpected plots %+v", got.Items)
	}
	if svc.LandPlotsForFarmer(ctx, "nobody").Len() != 0 {
		t.Fatalf("expected no plots for unknown farmer")
	}
}

func TestFindAndHistoryForLand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	f := mustCreateFarmer(t, svc, "Finn")
	p := mustCreatePlot(t, svc, f.ID, 7.456)
	if p.Area != 7.46 {
		t.Fatalf("expected rounded area 7.46, got %v", p.Area)
	}
	older := mustRecord(t, svc, f.ID, p.ID)
	mustRecord(t, svc, f.ID, "")
	newer := mustRecord(t, svc, f.ID, p.ID)

	got, err := svc.FindFarmer(ctx, f.ID)
	if err != nil || got != f {
		t.Fatalf("find farmer: %+v %v", got, err)
	}
	if _, err := svc.FindLandPlot(ctx, "missing"); !errors.As(err, new(ErrNotFound)) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	forLand := svc.HistoryForLand(ctx, p.ID).Items
	if len(forLand) != 2 || forLand[0].ID != newer.ID || forLand[1].ID != older.ID {
		t.Fatalf("unexpected history for land %+v", forLand)
	}
}

func TestRecordPredictionKeepsResultVerbatim(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	raw := domain.NewPayload([]byte(`{"predictedYield":2.5,"yieldUnit":"t/ha","extra":{"model":"v2"}}`))
	entry, _, err := svc.CreateHistoryEntry(ctx, PredictionInput{CropType: domain.CropCorn}, raw)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	stored := svc.ListHistory(ctx).Items[0]
	if string(stored.Result.Raw()) != string(raw.Raw()) {
		t.Fatalf("expected verbatim result, got %s", stored.Result.Raw())
	}
	result, err := stored.Result.PredictionResult()
	if err != nil || result.PredictedYield != 2.5 {
		t.Fatalf("decode result: %+v %v", result, err)
	}
	if stored.ID != entry.ID {
		t.Fatalf("expected %s, got %s", entry.ID, stored.ID)
	}
}

func TestClearHistoryRemovesKey(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	svc := newTestService(t, kv)
	mustRecord(t, svc, "", "")

	if _, err := svc.ClearHistory(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := kv.Get(ctx, domain.KeyHistory); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected history key removed, got %v", err)
	}
	if l := svc.ListHistory(ctx); l.State != ReadAbsent || l.Len() != 0 {
		t.Fatalf("expected absent history, got %+v", l)
	}
	if _, err := svc.ClearHistory(ctx); err != nil {
		t.Fatalf("clearing an absent history: %v", err)
	}
}

func TestClearHistoryReportsDeleteFailure(t *testing.T) {
	ctx := context.Background()
	kv := newFaultStore()
	svc := newTestService(t, kv)
	mustRecord(t, svc, "", "")
	boom := errors.New("unavailable")
	kv.failDelete(domain.KeyHistory, boom)
	if _, err := svc.ClearHistory(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected delete failure, got %v", err)
	}
}

func TestStaleWriteIsRejected(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	svc := newTestService(t, kv)
	mustCreateFarmer(t, svc, "Gail")
	read := svc.ListFarmers(ctx)

	// another process writes in between
	other := NewService(kv)
	if _, _, err := other.CreateFarmer(ctx, "Hank"); err != nil {
		t.Fatalf("other create: %v", err)
	}

	_, _, err := svc.CreateFarmer(ctx, "Ivy", ExpectRevision(EntityFarmer, read.Revision))
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
	names := farmerNames(svc.ListFarmers(ctx).Items)
	if !reflect.DeepEqual(names, []string{"Gail", "Hank"}) {
		t.Fatalf("expected stale write dropped, got %v", names)
	}

	fresh := svc.ListFarmers(ctx)
	if _, _, err := svc.CreateFarmer(ctx, "Ivy", ExpectRevision(EntityFarmer, fresh.Revision)); err != nil {
		t.Fatalf("create with fresh revision: %v", err)
	}
}

func TestStaleRevisionRejectedAfterClearAndRecreate(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	svc := newTestService(t, kv)
	mustRecord(t, svc, "", "")
	read := svc.ListHistory(ctx)

	// another process clears and records again before this write lands
	other := NewService(kv, WithLocation(time.UTC))
	if _, err := other.ClearHistory(ctx); err != nil {
		t.Fatalf("other clear: %v", err)
	}
	mustRecord(t, other, "", "")
	if fresh := svc.ListHistory(ctx); fresh.Revision <= read.Revision {
		t.Fatalf("expected revision past %d after recreate, got %d", read.Revision, fresh.Revision)
	}

	input := PredictionInput{CropType: domain.CropRice, SoilType: domain.SoilClay, Area: 3}
	_, _, err := svc.CreateHistoryEntry(ctx, input, domain.NewPayload([]byte(`{"predictedYield":1}`)),
		ExpectRevision(EntityHistoryEntry, read.Revision))
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
	if n := svc.ListHistory(ctx).Len(); n != 1 {
		t.Fatalf("expected stale entry dropped, have %d entries", n)
	}
}

func TestConcurrentWriterConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	svc := newTestService(t, kv)
	mustCreateFarmer(t, svc, "Jo")

	_, err := svc.Store().RunInTransaction(ctx, func(tx *Transaction) error {
		// a write lands between this transaction's read and its commit
		if _, err := kv.Put(ctx, domain.KeyFarmers, []byte(`[]`), svc.ListFarmers(ctx).Revision); err != nil {
			return err
		}
		_, err := tx.CreateFarmer(Farmer{Name: "Kim"})
		return err
	})
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
}

func farmerNames(farmers []Farmer) []string {
	out := make([]string, 0, len(farmers))
	for _, f := range farmers {
		out = append(out, f.Name)
	}
	return out
}

func TestMalformedCollectionDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemory()
	if _, err := kv.Put(ctx, domain.KeyFarmers, []byte(`{not json`), 0); err != nil {
		t.Fatalf("seed malformed: %v", err)
	}
	svc := newTestService(t, kv)

	listing := svc.ListFarmers(ctx)
	if listing.State != ReadMalformed || listing.Len() != 0 || listing.Err == nil {
		t.Fatalf("expected malformed empty listing, got %+v", listing)
	}
	if listing.Revision != 1 {
		t.Fatalf("expected revision of malformed record, got %d", listing.Revision)
	}

	seeded, err := svc.Initialize(ctx)
	if err != nil || seeded {
		t.Fatalf("initialize must not overwrite existing keys: seeded=%v err=%v", seeded, err)
	}

	f := mustCreateFarmer(t, svc, "Lee")
	if got := svc.ListFarmers(ctx); got.State != ReadPresent || !reflect.DeepEqual(got.Items, []Farmer{f}) {
		t.Fatalf("expected write to replace malformed value, got %+v", got)
	}
}

func TestBackendReadFailureIsReportedNotRaised(t *testing.T) {
	ctx := context.Background()
	kv := newFaultStore()
	svc := newTestService(t, kv)
	mustCreateFarmer(t, svc, "Mo")

	boom := errors.New("connection reset")
	kv.failGet(domain.KeyLands, boom)

	listing := svc.ListLandPlots(ctx)
	if listing.State != ReadFailed || !errors.Is(listing.Err, boom) || listing.Len() != 0 {
		t.Fatalf("expected failed listing, got %+v", listing)
	}
	if got := svc.ListFarmers(ctx); got.State != ReadPresent || got.Len() != 1 {
		t.Fatalf("other collections unaffected, got %+v", got)
	}
	if _, _, err := svc.CreateFarmer(ctx, "Ned"); !errors.Is(err, boom) {
		t.Fatalf("writes must not proceed on failed reads, got %v", err)
	}
}

func TestWriteFailureIsReturned(t *testing.T) {
	kv := newFaultStore()
	svc := newTestService(t, kv)
	boom := errors.New("read-only filesystem")
	kv.failPut(domain.KeyFarmers, boom)
	if _, _, err := svc.CreateFarmer(context.Background(), "Ola"); !errors.Is(err, boom) {
		t.Fatalf("expected write failure, got %v", err)
	}
}
