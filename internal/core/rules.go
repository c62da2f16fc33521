package core

import "agriyield/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in referential
// and value rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LandPlotOwnerRule())
	engine.Register(LandPlotValuesRule())
	engine.Register(HistoryCascadeRule())
	engine.Register(HistoryReferencesRule())
	return engine
}
