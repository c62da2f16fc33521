package domain

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "orphan plot"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if len(result.Warnings()) != 1 {
		t.Fatalf("expected one warning, got %d", len(result.Warnings()))
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "orphan plot") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	engine.Register(staticRule{"second"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected two violations, got %d", len(res.Violations))
	}
	if names := engine.Rules(); len(names) != 2 || names[0].Name() != "warn" {
		t.Fatalf("unexpected registered rules %+v", names)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected error from failing rule")
	}
}

func TestSoilTypeValid(t *testing.T) {
	for _, soil := range SoilTypes {
		if !soil.Valid() {
			t.Fatalf("expected %s to be valid", soil)
		}
	}
	if SoilType("Gravel").Valid() {
		t.Fatalf("expected unknown soil to be invalid")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

type emptyView struct{}

func (emptyView) ListFarmers() []Farmer                   { return nil }
func (emptyView) ListLandPlots() []LandPlot               { return nil }
func (emptyView) ListHistory() []HistoryEntry             { return nil }
func (emptyView) FindFarmer(FarmerID) (Farmer, bool)      { return Farmer{}, false }
func (emptyView) FindLandPlot(LandPlotID) (LandPlot, bool) { return LandPlot{}, false }
