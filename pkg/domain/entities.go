// Package domain defines the persistent farm records, value types, and
// rule evaluation primitives shared by the agriyield store and its backends.
package domain

// EntityType identifies the type of record stored in the farm domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence keys.
const (
	// EntityFarmer identifies a farmer record.
	EntityFarmer EntityType = "farmer"
	// EntityLandPlot identifies a land plot record.
	EntityLandPlot EntityType = "land_plot"
	// EntityHistoryEntry identifies a prediction history entry.
	EntityHistoryEntry EntityType = "history_entry"
)

// FarmerID is the opaque identity token of a farmer.
type FarmerID string

// LandPlotID is the opaque identity token of a land plot.
type LandPlotID string

// SoilType enumerates the soil classes a plot can be recorded with.
type SoilType string

// Canonical soil types.
const (
	SoilLoamy SoilType = "Loamy"
	SoilSandy SoilType = "Sandy"
	SoilClay  SoilType = "Clay"
	SoilSilty SoilType = "Silty"
	SoilPeaty SoilType = "Peaty"
)

// SoilTypes lists the soil types in display order.
var SoilTypes = []SoilType{SoilLoamy, SoilSandy, SoilClay, SoilSilty, SoilPeaty}

// Valid reports whether s is one of the canonical soil types.
func (s SoilType) Valid() bool {
	for _, known := range SoilTypes {
		if s == known {
			return true
		}
	}
	return false
}

// CropType enumerates crops a prediction can be requested for.
type CropType string

// Canonical crop types.
const (
	CropWheat     CropType = "Wheat"
	CropCorn      CropType = "Corn"
	CropRice      CropType = "Rice"
	CropSoybean   CropType = "Soybean"
	CropCotton    CropType = "Cotton"
	CropSugarcane CropType = "Sugarcane"
	CropPotatoes  CropType = "Potatoes"
)

// FertilizerType enumerates fertilizer regimes captured with a prediction.
type FertilizerType string

// Canonical fertilizer types.
const (
	FertilizerNitrogen   FertilizerType = "Nitrogen-based"
	FertilizerPhosphorus FertilizerType = "Phosphorus-based"
	FertilizerPotassium  FertilizerType = "Potassium-based"
	FertilizerOrganic    FertilizerType = "Organic"
	FertilizerNone       FertilizerType = "None"
)

// Farmer owns land plots and prediction history.
type Farmer struct {
	ID   FarmerID `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
}

// LandPlot is a drawn field boundary belonging to a farmer. Boundary holds
// the serialized geometry payload verbatim; it is never interpreted here.
type LandPlot struct {
	ID       LandPlotID `json:"id" yaml:"id"`
	FarmerID FarmerID   `json:"farmerId" yaml:"farmerId"`
	Area     float64    `json:"area" yaml:"area"`
	Boundary string     `json:"boundary" yaml:"boundary"`
	SoilType SoilType   `json:"soilType" yaml:"soilType"`
}

// PredictionInput is the snapshot of the form a prediction was requested with.
type PredictionInput struct {
	CropType        CropType       `json:"cropType" yaml:"cropType"`
	FieldShape      string         `json:"fieldShape" yaml:"fieldShape"`
	SoilType        SoilType       `json:"soilType" yaml:"soilType"`
	Rainfall        float64        `json:"rainfall" yaml:"rainfall"`
	Temperature     float64        `json:"temperature" yaml:"temperature"`
	PesticideUsage  bool           `json:"pesticideUsage" yaml:"pesticideUsage"`
	FertilizerType  FertilizerType `json:"fertilizerType" yaml:"fertilizerType"`
	Area            float64        `json:"area" yaml:"area"`
	TaskDescription string         `json:"taskDescription" yaml:"taskDescription"`
	FarmerID        FarmerID       `json:"farmerId,omitempty" yaml:"farmerId,omitempty"`
	LandID          LandPlotID     `json:"landId,omitempty" yaml:"landId,omitempty"`
}

// Recommendation is a single actionable item of a prediction result.
type Recommendation struct {
	Title                  string   `json:"title" yaml:"title"`
	Description            string   `json:"description" yaml:"description"`
	Impact                 string   `json:"impact" yaml:"impact"`
	PotentialYieldIncrease *float64 `json:"potentialYieldIncrease,omitempty" yaml:"potentialYieldIncrease,omitempty"`
}

// PredictionResult is the known shape of a forecasting service response. The
// store keeps results as a Payload; this type is only used to read them.
type PredictionResult struct {
	PredictedYield        float64          `json:"predictedYield" yaml:"predictedYield"`
	YieldUnit             string           `json:"yieldUnit" yaml:"yieldUnit"`
	ConfidenceScore       float64          `json:"confidenceScore" yaml:"confidenceScore"`
	Summary               string           `json:"summary" yaml:"summary"`
	WeatherImpactAnalysis string           `json:"weatherImpactAnalysis" yaml:"weatherImpactAnalysis"`
	Recommendations       []Recommendation `json:"recommendations" yaml:"recommendations"`
	RiskFactors           []string         `json:"riskFactors" yaml:"riskFactors"`
}

// HistoryEntry records one completed prediction. ID is the creation instant
// and doubles as the chronological sort key.
type HistoryEntry struct {
	ID               string          `json:"id"`
	DisplayTimestamp string          `json:"displayTimestamp"`
	Input            PredictionInput `json:"formData"`
	Result           Payload         `json:"result"`
}

// Change describes a mutation captured within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the supported mutations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionDelete indicates an entity was removed.
	ActionDelete Action = "delete"
	// ActionClear indicates a whole collection was removed.
	ActionClear Action = "clear"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
