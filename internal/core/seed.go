package core

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"agriyield/pkg/domain"
)

//go:embed seed.yaml
var defaultSeedYAML []byte

// Seed is the dataset Initialize writes into an empty store.
type Seed struct {
	Farmers []Farmer          `yaml:"farmers"`
	Lands   []LandPlot        `yaml:"lands"`
	History []SeedHistory     `yaml:"history"`
	Shapes  map[string]string `yaml:"shapes,omitempty"`
}

// SeedHistory is a history entry whose timestamp is relative to the moment
// of seeding.
type SeedHistory struct {
	AgeDays int              `yaml:"ageDays"`
	Input   PredictionInput  `yaml:"formData"`
	Result  PredictionResult `yaml:"result"`
}

// ParseSeed decodes a YAML dataset. Farmers and plots must carry ids so that
// plots and history entries can reference them. History ids derive from
// ageDays, so no two history entries may share an age.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, f := range seed.Farmers {
		if f.ID == "" {
			return Seed{}, fmt.Errorf("seed farmer %d has no id", i)
		}
	}
	for i, p := range seed.Lands {
		if p.ID == "" {
			return Seed{}, fmt.Errorf("seed land plot %d has no id", i)
		}
	}
	ages := make(map[int]int, len(seed.History))
	for i, h := range seed.History {
		if h.AgeDays < 0 {
			return Seed{}, fmt.Errorf("seed history %d has negative age", i)
		}
		if prev, dup := ages[h.AgeDays]; dup {
			return Seed{}, fmt.Errorf("seed history %d repeats ageDays %d of entry %d", i, h.AgeDays, prev)
		}
		ages[h.AgeDays] = i
	}
	return seed, nil
}

// LoadSeed reads a YAML dataset from path.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// DefaultSeed returns the embedded dataset.
func DefaultSeed() Seed {
	seed, err := ParseSeed(defaultSeedYAML)
	if err != nil {
		panic(err)
	}
	return seed
}

// apply stages the dataset. History entries are inserted oldest first so the
// stored collection ends up newest first.
func (seed Seed) apply(tx *Transaction, loc *time.Location) error {
	for _, f := range seed.Farmers {
		if _, err := tx.CreateFarmer(f); err != nil {
			return err
		}
	}
	for _, p := range seed.Lands {
		if _, err := tx.CreateLandPlot(p); err != nil {
			return err
		}
	}
	history := make([]SeedHistory, len(seed.History))
	copy(history, seed.History)
	sort.SliceStable(history, func(i, j int) bool { return history[i].AgeDays > history[j].AgeDays })
	for _, h := range history {
		at := tx.Now().Add(-time.Duration(h.AgeDays) * 24 * time.Hour).Truncate(time.Millisecond)
		result, err := domain.NewPayloadFromValue(h.Result)
		if err != nil {
			return err
		}
		if _, err := tx.CreateHistoryEntry(HistoryEntry{
			ID:               at.UTC().Format(HistoryIDLayout),
			DisplayTimestamp: at.In(loc).Format(DisplayLayout),
			Input:            h.Input,
			Result:           result,
		}); err != nil {
			return err
		}
	}
	return nil
}
