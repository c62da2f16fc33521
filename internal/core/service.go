package core

import (
	"context"
	"errors"
	"time"

	"agriyield/internal/platform/logger"
	"agriyield/pkg/domain"
)

// Service exposes the farm record operations. Every operation is traced and
// timed; writes go through the Store's rule-checked transactions.
type Service struct {
	store   *Store
	log     *logger.Logger
	metrics MetricsRecorder
	tracer  Tracer
	seed    Seed
}

// NewService constructs a service backed by kv.
func NewService(kv domain.KeyValueStore, opts ...Option) *Service {
	o := buildOptions(opts)
	seed := DefaultSeed()
	if o.seed != nil {
		seed = *o.seed
	}
	return &Service{
		store:   newStore(kv, o),
		log:     o.log,
		metrics: o.metrics,
		tracer:  o.tracer,
		seed:    seed,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	if err != nil {
		s.log.Debug("operation failed", "operation", op, "error", err)
	}
	return err
}

func observeRead[T any](ctx context.Context, s *Service, op string, read func(context.Context) Listing[T]) Listing[T] {
	var out Listing[T]
	_ = s.run(ctx, op, func(ctx context.Context) error {
		out = read(ctx)
		return out.failure()
	})
	return out
}

// ListFarmers returns farmers in insertion order.
func (s *Service) ListFarmers(ctx context.Context) Listing[Farmer] {
	return observeRead(ctx, s, "list_farmers", s.store.Farmers)
}

// ListLandPlots returns land plots in insertion order.
func (s *Service) ListLandPlots(ctx context.Context) Listing[LandPlot] {
	return observeRead(ctx, s, "list_land_plots", s.store.LandPlots)
}

// ListHistory returns history entries, newest first.
func (s *Service) ListHistory(ctx context.Context) Listing[HistoryEntry] {
	return observeRead(ctx, s, "list_history", s.store.History)
}

// LandPlotsForFarmer returns the farmer's plots in ListLandPlots order.
func (s *Service) LandPlotsForFarmer(ctx context.Context, id FarmerID) Listing[LandPlot] {
	return observeRead(ctx, s, "land_plots_for_farmer", func(ctx context.Context) Listing[LandPlot] {
		return filterListing(s.store.LandPlots(ctx), func(p LandPlot) bool { return p.FarmerID == id })
	})
}

// HistoryForLand returns the entries recorded against a plot, newest first.
func (s *Service) HistoryForLand(ctx context.Context, id LandPlotID) Listing[HistoryEntry] {
	return observeRead(ctx, s, "history_for_land", func(ctx context.Context) Listing[HistoryEntry] {
		return filterListing(s.store.History(ctx), func(e HistoryEntry) bool { return e.Input.LandID == id })
	})
}

// FindFarmer returns the farmer with id or ErrNotFound.
func (s *Service) FindFarmer(ctx context.Context, id FarmerID) (Farmer, error) {
	var found Farmer
	err := s.run(ctx, "find_farmer", func(ctx context.Context) error {
		listing := s.store.Farmers(ctx)
		if err := listing.failure(); err != nil {
			return err
		}
		for _, f := range listing.Items {
			if f.ID == id {
				found = f
				return nil
			}
		}
		return ErrNotFound{Entity: EntityFarmer, ID: string(id)}
	})
	return found, err
}

// FindLandPlot returns the land plot with id or ErrNotFound.
func (s *Service) FindLandPlot(ctx context.Context, id LandPlotID) (LandPlot, error) {
	var found LandPlot
	err := s.run(ctx, "find_land_plot", func(ctx context.Context) error {
		listing := s.store.LandPlots(ctx)
		if err := listing.failure(); err != nil {
			return err
		}
		for _, p := range listing.Items {
			if p.ID == id {
				found = p
				return nil
			}
		}
		return ErrNotFound{Entity: EntityLandPlot, ID: string(id)}
	})
	return found, err
}

// Snapshot reads all collections with their revisions.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot
	_ = s.run(ctx, "snapshot", func(ctx context.Context) error {
		snap = s.store.Snapshot(ctx)
		return errors.Join(snap.Farmers.failure(), snap.LandPlots.failure(), snap.History.failure())
	})
	return snap
}

// CreateFarmer persists a new farmer with a generated id.
func (s *Service) CreateFarmer(ctx context.Context, name string, opts ...TxOption) (Farmer, Result, error) {
	var created Farmer
	var res Result
	err := s.run(ctx, "create_farmer", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			var err error
			created, err = tx.CreateFarmer(Farmer{Name: name})
			return err
		}, opts...)
		return err
	})
	return created, res, err
}

// CreateLandPlot persists a new plot with a generated id. The area is rounded
// to two decimals.
func (s *Service) CreateLandPlot(ctx context.Context, plot LandPlot, opts ...TxOption) (LandPlot, Result, error) {
	var created LandPlot
	var res Result
	plot.ID = ""
	err := s.run(ctx, "create_land_plot", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			var err error
			created, err = tx.CreateLandPlot(plot)
			return err
		}, opts...)
		return err
	})
	return created, res, err
}

// CreateHistoryEntry prepends an entry holding input and the opaque result.
func (s *Service) CreateHistoryEntry(ctx context.Context, input PredictionInput, result Payload, opts ...TxOption) (HistoryEntry, Result, error) {
	var created HistoryEntry
	var res Result
	err := s.run(ctx, "create_history_entry", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			var err error
			created, err = tx.CreateHistoryEntry(HistoryEntry{Input: input, Result: result})
			return err
		}, opts...)
		return err
	})
	return created, res, err
}

// RecordPrediction stores a completed prediction.
func (s *Service) RecordPrediction(ctx context.Context, input PredictionInput, result PredictionResult) (HistoryEntry, Result, error) {
	payload, err := domain.NewPayloadFromValue(result)
	if err != nil {
		return HistoryEntry{}, Result{}, err
	}
	return s.CreateHistoryEntry(ctx, input, payload)
}

// ClearHistory removes the history collection.
func (s *Service) ClearHistory(ctx context.Context) (Result, error) {
	var res Result
	err := s.run(ctx, "clear_history", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			tx.ClearHistory()
			return nil
		})
		return err
	})
	return res, err
}

// DeleteReport counts what a farmer delete removed.
type DeleteReport struct {
	HistoryRemoved   int
	LandPlotsRemoved int
	FarmerRemoved    bool
}

// DeleteFarmer removes the farmer's history entries, then its plots, then the
// farmer, each as its own write. A failing stage stops the cascade with a
// CascadeError; earlier stages stay applied. Unknown ids are a no-op.
func (s *Service) DeleteFarmer(ctx context.Context, id FarmerID) (DeleteReport, error) {
	var report DeleteReport
	err := s.run(ctx, "delete_farmer", func(ctx context.Context) error {
		stages := []struct {
			stage CascadeStage
			apply func(*Transaction)
		}{
			{StageHistory, func(tx *Transaction) { report.HistoryRemoved = tx.DeleteHistoryForFarmer(id) }},
			{StageLandPlots, func(tx *Transaction) { report.LandPlotsRemoved = tx.DeleteLandPlotsForFarmer(id) }},
			{StageFarmer, func(tx *Transaction) { report.FarmerRemoved = tx.DeleteFarmer(id) }},
		}
		for _, st := range stages {
			snapshot := report
			_, err := s.store.RunInTransaction(ctx, func(tx *Transaction) error {
				st.apply(tx)
				return nil
			})
			if err != nil {
				report = snapshot
				s.log.Error("farmer delete stopped", "farmer", id, "stage", st.stage, "error", err)
				return &CascadeError{Stage: st.stage, FarmerID: id, Err: err}
			}
		}
		return nil
	})
	return report, err
}

// Initialize writes the seed dataset when none of the collections exist.
// It reports whether the seed was written. Losing a concurrent seeding race
// is not an error.
func (s *Service) Initialize(ctx context.Context) (bool, error) {
	seeded := false
	err := s.run(ctx, "initialize", func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			farmers, lands, history := tx.States()
			if farmers != ReadAbsent || lands != ReadAbsent || history != ReadAbsent {
				return nil
			}
			if err := s.seed.apply(tx, s.store.location); err != nil {
				return err
			}
			seeded = true
			return nil
		})
		if errors.Is(err, domain.ErrRevisionConflict) {
			s.log.Info("seed already written by another writer")
			seeded = false
			return nil
		}
		if err != nil {
			seeded = false
			return err
		}
		return nil
	})
	if seeded {
		s.log.Info("seeded default dataset",
			"farmers", len(s.seed.Farmers), "land_plots", len(s.seed.Lands), "history", len(s.seed.History))
	}
	return seeded, err
}
