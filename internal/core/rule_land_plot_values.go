package core

import (
	"context"
	"fmt"
	"math"

	"agriyield/pkg/domain"
)

// LandPlotValuesRule rejects plots with a negative or non-finite area or an
// unknown soil type.
func LandPlotValuesRule() domain.Rule {
	return landPlotValuesRule{}
}

type landPlotValuesRule struct{}

func (landPlotValuesRule) Name() string { return "land_plot_values" }

func (landPlotValuesRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityLandPlot || change.Action != domain.ActionCreate {
			continue
		}
		plot, ok := change.After.(domain.LandPlot)
		if !ok {
			continue
		}
		if math.IsNaN(plot.Area) || math.IsInf(plot.Area, 0) || plot.Area < 0 {
			res.Violations = append(res.Violations, valuesViolation(plot.ID, fmt.Sprintf("land plot %s has invalid area %v", plot.ID, plot.Area)))
		}
		if !plot.SoilType.Valid() {
			res.Violations = append(res.Violations, valuesViolation(plot.ID, fmt.Sprintf("land plot %s has unknown soil type %q", plot.ID, plot.SoilType)))
		}
	}
	return res, nil
}

func valuesViolation(id domain.LandPlotID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "land_plot_values",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityLandPlot,
		EntityID: string(id),
	}
}
