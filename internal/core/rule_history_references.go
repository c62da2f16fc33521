package core

import (
	"context"
	"fmt"

	"agriyield/pkg/domain"
)

// HistoryReferencesRule warns when a new history entry points at a farmer or
// plot that does not exist, or at a plot owned by a different farmer. History
// references are soft so the entry is still written.
func HistoryReferencesRule() domain.Rule {
	return historyReferencesRule{}
}

type historyReferencesRule struct{}

func (historyReferencesRule) Name() string { return "history_references" }

func (historyReferencesRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityHistoryEntry || change.Action != domain.ActionCreate {
			continue
		}
		entry, ok := change.After.(domain.HistoryEntry)
		if !ok {
			continue
		}
		farmerID, landID := entry.Input.FarmerID, entry.Input.LandID
		if farmerID != "" {
			if _, found := view.FindFarmer(farmerID); !found {
				res.Violations = append(res.Violations, referenceWarning(entry.ID, fmt.Sprintf("history entry %s references unknown farmer %s", entry.ID, farmerID)))
			}
		}
		if landID == "" {
			continue
		}
		plot, found := view.FindLandPlot(landID)
		if !found {
			res.Violations = append(res.Violations, referenceWarning(entry.ID, fmt.Sprintf("history entry %s references unknown land plot %s", entry.ID, landID)))
			continue
		}
		if farmerID != "" && plot.FarmerID != farmerID {
			res.Violations = append(res.Violations, referenceWarning(entry.ID, fmt.Sprintf("history entry %s land plot %s belongs to farmer %s, not %s", entry.ID, landID, plot.FarmerID, farmerID)))
		}
	}
	return res, nil
}

func referenceWarning(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "history_references",
		Severity: domain.SeverityWarn,
		Message:  message,
		Entity:   domain.EntityHistoryEntry,
		EntityID: id,
	}
}
