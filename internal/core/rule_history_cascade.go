package core

import (
	"context"
	"fmt"

	"agriyield/pkg/domain"
)

// HistoryCascadeRule blocks removing a farmer while history entries still
// reference it.
func HistoryCascadeRule() domain.Rule {
	return historyCascadeRule{}
}

type historyCascadeRule struct{}

func (historyCascadeRule) Name() string { return "history_cascade" }

func (historyCascadeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var history []domain.HistoryEntry
	loaded := false
	for _, change := range changes {
		if change.Entity != domain.EntityFarmer || change.Action != domain.ActionDelete {
			continue
		}
		farmer, ok := change.Before.(domain.Farmer)
		if !ok {
			continue
		}
		if !loaded {
			history = view.ListHistory()
			loaded = true
		}
		remaining := 0
		for _, entry := range history {
			if entry.Input.FarmerID == farmer.ID {
				remaining++
			}
		}
		if remaining > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "history_cascade",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("farmer %s still referenced by %d history entries", farmer.ID, remaining),
				Entity:   domain.EntityFarmer,
				EntityID: string(farmer.ID),
			})
		}
	}
	return res, nil
}
