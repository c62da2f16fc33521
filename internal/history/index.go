// Package history joins prediction history entries back to the farmers and
// land plots they were recorded for. It holds no state of its own; an Index
// is rebuilt from the current collections on every read.
package history

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"agriyield/pkg/domain"
)

// Index maps farmer ids to names and plot ids to their per-farmer position.
type Index struct {
	farmerNames map[domain.FarmerID]string
	landNumbers map[domain.LandPlotID]int
}

// Build indexes farmers and plots. Each farmer's plots are numbered from 1 in
// ascending id order, so numbering does not depend on collection order.
func Build(farmers []domain.Farmer, plots []domain.LandPlot) *Index {
	ix := &Index{
		farmerNames: make(map[domain.FarmerID]string, len(farmers)),
		landNumbers: make(map[domain.LandPlotID]int, len(plots)),
	}
	for _, f := range farmers {
		ix.farmerNames[f.ID] = f.Name
	}

	byFarmer := make(map[domain.FarmerID][]domain.LandPlotID)
	for _, p := range plots {
		byFarmer[p.FarmerID] = append(byFarmer[p.FarmerID], p.ID)
	}
	for _, ids := range byFarmer {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			ix.landNumbers[id] = i + 1
		}
	}
	return ix
}

// FarmerName returns the name of farmer id.
func (ix *Index) FarmerName(id domain.FarmerID) (string, bool) {
	name, ok := ix.farmerNames[id]
	return name, ok
}

// LandNumber returns the 1-based position of plot id among its farmer's plots.
func (ix *Index) LandNumber(id domain.LandPlotID) (int, bool) {
	n, ok := ix.landNumbers[id]
	return n, ok
}

// LandLabel returns "Land N" for plot id.
func (ix *Index) LandLabel(id domain.LandPlotID) (string, bool) {
	n, ok := ix.landNumbers[id]
	if !ok {
		return "", false
	}
	return "Land " + strconv.Itoa(n), true
}

// Label is the display form of one history entry. Unresolved references
// leave FarmerName or LandLabel empty.
type Label struct {
	EntryID    string
	Timestamp  string
	FarmerName string
	LandLabel  string
	Title      string
	Yield      string
}

// Resolve builds the label of entry.
func (ix *Index) Resolve(entry domain.HistoryEntry) Label {
	label := Label{EntryID: entry.ID, Timestamp: entry.DisplayTimestamp}
	if entry.Input.FarmerID != "" {
		label.FarmerName, _ = ix.FarmerName(entry.Input.FarmerID)
	}
	if entry.Input.LandID != "" {
		label.LandLabel, _ = ix.LandLabel(entry.Input.LandID)
	}

	parts := make([]string, 0, 3)
	for _, part := range []string{
		label.FarmerName,
		label.LandLabel,
		fmt.Sprintf("%s - %.2f ha", entry.Input.CropType, entry.Input.Area),
	} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	label.Title = strings.Join(parts, " - ")

	if !entry.Result.IsEmpty() {
		if result, err := entry.Result.PredictionResult(); err == nil {
			label.Yield = strings.TrimSpace(fmt.Sprintf("%.2f %s", result.PredictedYield, result.YieldUnit))
		}
	}
	return label
}

// ResolveAll labels entries, preserving their order.
func (ix *Index) ResolveAll(entries []domain.HistoryEntry) []Label {
	out := make([]Label, 0, len(entries))
	for _, e := range entries {
		out = append(out, ix.Resolve(e))
	}
	return out
}

// Orphans returns the entries with a farmer or plot reference that does not
// resolve, in their original order.
func (ix *Index) Orphans(entries []domain.HistoryEntry) []domain.HistoryEntry {
	var out []domain.HistoryEntry
	for _, e := range entries {
		if e.Input.FarmerID != "" {
			if _, ok := ix.farmerNames[e.Input.FarmerID]; !ok {
				out = append(out, e)
				continue
			}
		}
		if e.Input.LandID != "" {
			if _, ok := ix.landNumbers[e.Input.LandID]; !ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// ForLand returns the entries recorded against landID, newest first by id.
func ForLand(entries []domain.HistoryEntry, landID domain.LandPlotID) []domain.HistoryEntry {
	var out []domain.HistoryEntry
	for _, e := range entries {
		if e.Input.LandID == landID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
