package core

import "agriyield/pkg/domain"

type (
	EntityType         = domain.EntityType
	FarmerID           = domain.FarmerID
	LandPlotID         = domain.LandPlotID
	SoilType           = domain.SoilType
	Farmer             = domain.Farmer
	LandPlot           = domain.LandPlot
	PredictionInput    = domain.PredictionInput
	PredictionResult   = domain.PredictionResult
	HistoryEntry       = domain.HistoryEntry
	Payload            = domain.Payload
	Revision           = domain.Revision
	Severity           = domain.Severity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityFarmer       = domain.EntityFarmer
	EntityLandPlot     = domain.EntityLandPlot
	EntityHistoryEntry = domain.EntityHistoryEntry
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionDelete = domain.ActionDelete
	ActionClear  = domain.ActionClear
)
