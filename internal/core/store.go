package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agriyield/internal/platform/logger"
	"agriyield/pkg/domain"
	"agriyield/pkg/geometry"
)

// Layouts of history ids and display timestamps.
const (
	HistoryIDLayout = "2006-01-02T15:04:05.000Z"
	DisplayLayout   = "1/2/2006, 3:04:05 PM"
)

// Store is the single writer for the three farm collections. Write
// transactions are serialized by a mutex and persisted with compare-and-swap
// on each key's revision, so a write based on a stale read fails instead of
// overwriting another writer's data.
type Store struct {
	kv       domain.KeyValueStore
	engine   *domain.RulesEngine
	log      *logger.Logger
	clock    Clock
	location *time.Location
	ids      IDGenerator

	mu          sync.Mutex
	lastHistory time.Time
}

// NewStore constructs a store over kv.
func NewStore(kv domain.KeyValueStore, opts ...Option) *Store {
	return newStore(kv, buildOptions(opts))
}

func newStore(kv domain.KeyValueStore, o options) *Store {
	return &Store{
		kv:       kv,
		engine:   o.engine,
		log:      o.log,
		clock:    o.clock,
		location: o.location,
		ids:      o.ids,
	}
}

// RulesEngine exposes the engine evaluated on every write.
func (s *Store) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// Farmers reads the farmer collection.
func (s *Store) Farmers(ctx context.Context) Listing[Farmer] {
	return readCollection[Farmer](ctx, s, domain.KeyFarmers)
}

// LandPlots reads the land plot collection.
func (s *Store) LandPlots(ctx context.Context) Listing[LandPlot] {
	return readCollection[LandPlot](ctx, s, domain.KeyLands)
}

// History reads the history collection, newest first.
func (s *Store) History(ctx context.Context) Listing[HistoryEntry] {
	return readCollection[HistoryEntry](ctx, s, domain.KeyHistory)
}

// Snapshot holds all three collections read under the writer lock.
type Snapshot struct {
	Farmers   Listing[Farmer]
	LandPlots Listing[LandPlot]
	History   Listing[HistoryEntry]
}

// OK reports whether none of the collections degraded.
func (s Snapshot) OK() bool {
	return s.Farmers.OK() && s.LandPlots.OK() && s.History.OK()
}

// Snapshot reads every collection without interleaving an in-process write.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(ctx)
}

func (s *Store) snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		Farmers:   s.Farmers(ctx),
		LandPlots: s.LandPlots(ctx),
		History:   s.History(ctx),
	}
}

// View runs fn against a read-only view of the current state.
func (s *Store) View(ctx context.Context, fn func(domain.RuleView) error) error {
	snap := s.Snapshot(ctx)
	return fn(snapshotView{snap: snap})
}

func readCollection[T any](ctx context.Context, s *Store, key string) Listing[T] {
	rec, err := s.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return Listing[T]{State: ReadAbsent}
	}
	if err != nil {
		s.log.Error("collection read failed", "key", key, "error", err)
		return Listing[T]{State: ReadFailed, Err: fmt.Errorf("read %s: %w", key, err)}
	}
	var items []T
	if err := json.Unmarshal(rec.Value, &items); err != nil {
		s.log.Warn("malformed collection treated as empty", "key", key, "revision", rec.Revision, "error", err)
		return Listing[T]{Revision: rec.Revision, State: ReadMalformed, Err: err}
	}
	return Listing[T]{Items: items, Revision: rec.Revision, State: ReadPresent}
}

// TxOption adjusts a single write transaction.
type TxOption func(*txOptions)

type txOptions struct {
	expected map[EntityType]Revision
}

// ExpectRevision pins the revision the caller last read for the collection
// holding entity. The transaction fails with domain.ErrRevisionConflict when
// the stored revision differs.
func ExpectRevision(entity EntityType, rev Revision) TxOption {
	return func(o *txOptions) {
		if o.expected == nil {
			o.expected = make(map[EntityType]Revision)
		}
		o.expected[entity] = rev
	}
}

// RunInTransaction loads all collections, applies fn, evaluates the rules on
// the resulting state and persists the collections fn modified. Blocking rule
// violations abort with RuleViolationError and nothing is written.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error, opts ...TxOption) (Result, error) {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := tx.checkExpected(o.expected); err != nil {
		s.log.Warn("stale revision rejected", "error", err)
		return Result{}, err
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if len(tx.changes) == 0 {
		return Result{}, nil
	}

	res, err := s.engine.Evaluate(ctx, transactionView{tx: tx}, tx.changes)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if res.HasBlocking() {
		return res, RuleViolationError{Result: res}
	}
	for _, w := range res.Warnings() {
		s.log.Warn("rule warning", "rule", w.Rule, "entity", w.Entity, "id", w.EntityID, "message", w.Message)
	}
	if err := tx.commit(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) begin(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx)
	for _, err := range []error{snap.Farmers.failure(), snap.LandPlots.failure(), snap.History.failure()} {
		if err != nil {
			return nil, err
		}
	}
	return &Transaction{
		store:   s,
		now:     s.clock.Now(),
		farmers: newCollection(domain.KeyFarmers, snap.Farmers),
		lands:   newCollection(domain.KeyLands, snap.LandPlots),
		history: newCollection(domain.KeyHistory, snap.History),
	}, nil
}

func (l Listing[T]) failure() error {
	if l.State == ReadFailed {
		return l.Err
	}
	return nil
}

type collection[T any] struct {
	key      string
	items    []T
	revision Revision
	state    ReadState
	dirty    bool
	cleared  bool
}

func newCollection[T any](key string, l Listing[T]) collection[T] {
	items := make([]T, len(l.Items))
	copy(items, l.Items)
	return collection[T]{key: key, items: items, revision: l.Revision, state: l.State}
}

func persist[T any](ctx context.Context, s *Store, c *collection[T]) error {
	if !c.dirty {
		return nil
	}
	if c.cleared {
		if err := s.kv.Delete(ctx, c.key); err != nil {
			s.log.Error("collection delete failed", "key", c.key, "error", err)
			return fmt.Errorf("delete %s: %w", c.key, err)
		}
		return nil
	}
	items := c.items
	if items == nil {
		items = []T{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	rev, err := s.kv.Put(ctx, c.key, payload, c.revision)
	if err != nil {
		if errors.Is(err, domain.ErrRevisionConflict) {
			s.log.Warn("stale write rejected", "key", c.key, "expected", c.revision)
		} else {
			s.log.Error("collection write failed", "key", c.key, "error", err)
		}
		return fmt.Errorf("persist %s: %w", c.key, err)
	}
	c.revision = rev
	return nil
}

// Transaction stages mutations against the loaded collections. It is only
// valid inside the RunInTransaction callback that created it.
type Transaction struct {
	store   *Store
	now     time.Time
	farmers collection[Farmer]
	lands   collection[LandPlot]
	history collection[HistoryEntry]
	changes []Change
}

// Now returns the instant the transaction started.
func (tx *Transaction) Now() time.Time { return tx.now }

// Farmers returns the pending farmer collection.
func (tx *Transaction) Farmers() []Farmer { return cloneSlice(tx.farmers.items) }

// LandPlots returns the pending land plot collection.
func (tx *Transaction) LandPlots() []LandPlot { return cloneSlice(tx.lands.items) }

// History returns the pending history collection, newest first.
func (tx *Transaction) History() []HistoryEntry { return cloneSlice(tx.history.items) }

// States reports how each collection was read when the transaction began.
func (tx *Transaction) States() (farmers, lands, history ReadState) {
	return tx.farmers.state, tx.lands.state, tx.history.state
}

// FindFarmer looks up a pending farmer.
func (tx *Transaction) FindFarmer(id FarmerID) (Farmer, bool) {
	for _, f := range tx.farmers.items {
		if f.ID == id {
			return f, true
		}
	}
	return Farmer{}, false
}

// FindLandPlot looks up a pending land plot.
func (tx *Transaction) FindLandPlot(id LandPlotID) (LandPlot, bool) {
	for _, p := range tx.lands.items {
		if p.ID == id {
			return p, true
		}
	}
	return LandPlot{}, false
}

// CreateFarmer appends a farmer. The name is trimmed; an empty ID is
// generated.
func (tx *Transaction) CreateFarmer(f Farmer) (Farmer, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return Farmer{}, ErrEmptyName
	}
	if f.ID == "" {
		id, err := tx.store.ids()
		if err != nil {
			return Farmer{}, fmt.Errorf("generate farmer id: %w", err)
		}
		f.ID = FarmerID(id)
	}
	if _, exists := tx.FindFarmer(f.ID); exists {
		return Farmer{}, fmt.Errorf("farmer %s already exists", f.ID)
	}
	tx.farmers.items = append(tx.farmers.items, f)
	tx.farmers.dirty = true
	tx.record(EntityFarmer, ActionCreate, nil, f)
	return f, nil
}

// CreateLandPlot appends a land plot with its area rounded to two decimals.
// An empty ID is generated.
func (tx *Transaction) CreateLandPlot(p LandPlot) (LandPlot, error) {
	if p.ID == "" {
		id, err := tx.store.ids()
		if err != nil {
			return LandPlot{}, fmt.Errorf("generate land plot id: %w", err)
		}
		p.ID = LandPlotID(id)
	}
	if _, exists := tx.FindLandPlot(p.ID); exists {
		return LandPlot{}, fmt.Errorf("land plot %s already exists", p.ID)
	}
	p.Area = geometry.RoundHectares(p.Area)
	tx.lands.items = append(tx.lands.items, p)
	tx.lands.dirty = true
	tx.record(EntityLandPlot, ActionCreate, nil, p)
	return p, nil
}

// CreateHistoryEntry prepends an entry. An empty ID is derived from the
// transaction clock and an empty display timestamp is rendered from it.
func (tx *Transaction) CreateHistoryEntry(e HistoryEntry) (HistoryEntry, error) {
	if e.ID == "" {
		id := tx.nextHistoryID()
		e.ID = id.Format(HistoryIDLayout)
		if e.DisplayTimestamp == "" {
			e.DisplayTimestamp = id.In(tx.store.location).Format(DisplayLayout)
		}
	}
	if e.DisplayTimestamp == "" {
		e.DisplayTimestamp = tx.now.In(tx.store.location).Format(DisplayLayout)
	}
	for _, existing := range tx.history.items {
		if existing.ID == e.ID {
			return HistoryEntry{}, fmt.Errorf("history entry %s already exists", e.ID)
		}
	}
	tx.history.items = append([]HistoryEntry{e}, tx.history.items...)
	tx.history.dirty = true
	tx.history.cleared = false
	tx.record(EntityHistoryEntry, ActionCreate, nil, e)
	return e, nil
}

// DeleteHistoryForFarmer removes every entry whose input references farmer id
// and returns how many were removed.
func (tx *Transaction) DeleteHistoryForFarmer(id FarmerID) int {
	kept := tx.history.items[:0:0]
	removed := 0
	for _, e := range tx.history.items {
		if e.Input.FarmerID == id {
			removed++
			tx.record(EntityHistoryEntry, ActionDelete, e, nil)
			continue
		}
		kept = append(kept, e)
	}
	if removed > 0 {
		tx.history.items = kept
		tx.history.dirty = true
	}
	return removed
}

// DeleteLandPlotsForFarmer removes the farmer's plots and returns how many
// were removed.
func (tx *Transaction) DeleteLandPlotsForFarmer(id FarmerID) int {
	kept := tx.lands.items[:0:0]
	removed := 0
	for _, p := range tx.lands.items {
		if p.FarmerID == id {
			removed++
			tx.record(EntityLandPlot, ActionDelete, p, nil)
			continue
		}
		kept = append(kept, p)
	}
	if removed > 0 {
		tx.lands.items = kept
		tx.lands.dirty = true
	}
	return removed
}

// DeleteFarmer removes the farmer record only. Rules reject the write if
// plots or history still reference it.
func (tx *Transaction) DeleteFarmer(id FarmerID) bool {
	for i, f := range tx.farmers.items {
		if f.ID != id {
			continue
		}
		tx.farmers.items = append(tx.farmers.items[:i:i], tx.farmers.items[i+1:]...)
		tx.farmers.dirty = true
		tx.record(EntityFarmer, ActionDelete, f, nil)
		return true
	}
	return false
}

// ClearHistory removes the history key entirely.
func (tx *Transaction) ClearHistory() {
	if tx.history.state == ReadAbsent && len(tx.history.items) == 0 {
		return
	}
	tx.history.items = nil
	tx.history.dirty = true
	tx.history.cleared = true
	tx.record(EntityHistoryEntry, ActionClear, nil, nil)
}

func (tx *Transaction) record(entity EntityType, action Action, before, after any) {
	tx.changes = append(tx.changes, Change{Entity: entity, Action: action, Before: before, After: after})
}

// nextHistoryID returns an instant at millisecond precision that is later
// than every id issued by this store and every parseable persisted id.
func (tx *Transaction) nextHistoryID() time.Time {
	candidate := tx.now.UTC().Truncate(time.Millisecond)
	floor := tx.store.lastHistory
	for _, e := range tx.history.items {
		if t, err := time.Parse(HistoryIDLayout, e.ID); err == nil && t.After(floor) {
			floor = t
		}
	}
	if !candidate.After(floor) {
		candidate = floor.Add(time.Millisecond)
	}
	tx.store.lastHistory = candidate
	return candidate
}

func (tx *Transaction) checkExpected(expected map[EntityType]Revision) error {
	for entity, rev := range expected {
		var key string
		var current Revision
		switch entity {
		case EntityFarmer:
			key, current = tx.farmers.key, tx.farmers.revision
		case EntityLandPlot:
			key, current = tx.lands.key, tx.lands.revision
		case EntityHistoryEntry:
			key, current = tx.history.key, tx.history.revision
		default:
			return fmt.Errorf("unknown entity %s", entity)
		}
		if current != rev {
			return fmt.Errorf("%s at revision %d, expected %d: %w", key, current, rev, domain.ErrRevisionConflict)
		}
	}
	return nil
}

// commit writes the dirty collections of one transaction in key order:
// farmers, then land plots, then history. The order only matters inside a
// single transaction. The farmer cascade does not rely on it; it removes
// children first by running one transaction per stage.
func (tx *Transaction) commit(ctx context.Context) error {
	if err := persist(ctx, tx.store, &tx.farmers); err != nil {
		return err
	}
	if err := persist(ctx, tx.store, &tx.lands); err != nil {
		return err
	}
	return persist(ctx, tx.store, &tx.history)
}

type transactionView struct {
	tx *Transaction
}

func (v transactionView) ListFarmers() []Farmer { return v.tx.Farmers() }
func (v transactionView) ListLandPlots() []LandPlot { return v.tx.LandPlots() }
func (v transactionView) ListHistory() []HistoryEntry { return v.tx.History() }
func (v transactionView) FindFarmer(id FarmerID) (Farmer, bool) { return v.tx.FindFarmer(id) }
func (v transactionView) FindLandPlot(id LandPlotID) (LandPlot, bool) {
	return v.tx.FindLandPlot(id)
}

type snapshotView struct {
	snap Snapshot
}

func (v snapshotView) ListFarmers() []Farmer { return cloneSlice(v.snap.Farmers.Items) }
func (v snapshotView) ListLandPlots() []LandPlot { return cloneSlice(v.snap.LandPlots.Items) }
func (v snapshotView) ListHistory() []HistoryEntry { return cloneSlice(v.snap.History.Items) }

func (v snapshotView) FindFarmer(id FarmerID) (Farmer, bool) {
	for _, f := range v.snap.Farmers.Items {
		if f.ID == id {
			return f, true
		}
	}
	return Farmer{}, false
}

func (v snapshotView) FindLandPlot(id LandPlotID) (LandPlot, bool) {
	for _, p := range v.snap.LandPlots.Items {
		if p.ID == id {
			return p, true
		}
	}
	return LandPlot{}, false
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
