package core

import (
	"context"
	"fmt"

	"agriyield/pkg/domain"
)

// LandPlotOwnerRule keeps every land plot attached to a live farmer: created
// plots must reference an existing farmer and a deleted farmer must not leave
// plots behind.
func LandPlotOwnerRule() domain.Rule {
	return landPlotOwnerRule{}
}

type landPlotOwnerRule struct{}

func (landPlotOwnerRule) Name() string { return "land_plot_owner" }

func (landPlotOwnerRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch {
		case change.Entity == domain.EntityLandPlot && change.Action == domain.ActionCreate:
			plot, ok := change.After.(domain.LandPlot)
			if !ok {
				continue
			}
			if plot.FarmerID == "" {
				res.Violations = append(res.Violations, ownerViolation(domain.EntityLandPlot, string(plot.ID),
					fmt.Sprintf("land plot %s has no farmer", plot.ID)))
				continue
			}
			if _, found := view.FindFarmer(plot.FarmerID); !found {
				res.Violations = append(res.Violations, ownerViolation(domain.EntityLandPlot, string(plot.ID),
					fmt.Sprintf("land plot %s references missing farmer %s", plot.ID, plot.FarmerID)))
			}
		case change.Entity == domain.EntityFarmer && change.Action == domain.ActionDelete:
			farmer, ok := change.Before.(domain.Farmer)
			if !ok {
				continue
			}
			for _, plot := range view.ListLandPlots() {
				if plot.FarmerID == farmer.ID {
					res.Violations = append(res.Violations, ownerViolation(domain.EntityFarmer, string(farmer.ID),
						fmt.Sprintf("farmer %s still owns land plot %s", farmer.ID, plot.ID)))
				}
			}
		}
	}
	return res, nil
}

func ownerViolation(entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "land_plot_owner",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
