package domain

import (
	"time"
)

// Source tags the synthetic provider a feed session pretends to read from.
type Source string

const (
	SourcePlaid  Source = "plaid"
	SourceStripe Source = "stripe"
	SourceMock   Source = "mock"

	// SourceManual marks results submitted through manual entry.
	SourceManual Source = "manual"
)

// Sources lists the tags accepted when starting a feed.
var Sources = []Source{SourcePlaid, SourceStripe, SourceMock}

// ParseSource validates a feed source tag.
func ParseSource(s string) (Source, bool) {
	for _, src := range Sources {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

// RiskClass is the derived Low/Medium/High bucket of an overall score.
type RiskClass string

const (
	RiskLow    RiskClass = "Low"
	RiskMedium RiskClass = "Medium"
	RiskHigh   RiskClass = "High"
)

// Classification thresholds on the unit scale.
const (
	MediumRiskThreshold = 0.3
	HighRiskThreshold   = 0.7
)

// ScoreScale says how the scoring service reports its numbers.
type ScoreScale string

const (
	// ScalePercent reads scores as 0-100.
	ScalePercent ScoreScale = "percent"
	// ScaleUnit reads scores as probabilities in [0,1].
	ScaleUnit ScoreScale = "unit"
	// ScaleAuto reads any score above 1 as a percentage. It is ambiguous
	// for percent services scoring at or below 1%.
	ScaleAuto ScoreScale = "auto"
)

// ParseScoreScale validates a scale name.
func ParseScoreScale(s string) (ScoreScale, bool) {
	switch sc := ScoreScale(s); sc {
	case ScalePercent, ScaleUnit, ScaleAuto:
		return sc, true
	}
	return "", false
}

// ToUnit maps a score reported on s to [0,1]. An unset scale behaves as auto.
func (s ScoreScale) ToUnit(v float64) float64 {
	switch s {
	case ScaleUnit:
		return v
	case ScalePercent:
		return v / 100
	}
	if v > 1 {
		return v / 100
	}
	return v
}

// Classify buckets an overall risk score already on the unit scale.
func Classify(unit float64) RiskClass {
	switch {
	case unit < MediumRiskThreshold:
		return RiskLow
	case unit < HighRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ScoringResult is a successful scoring response annotated with feed metadata.
type ScoringResult struct {
	ID string `json:"id"`

	FraudPercent           float64 `json:"fraud_percent"`
	CompliancePercent      float64 `json:"compliance_percent"`
	BehaviorAnomalyPercent float64 `json:"behavior_anomaly_percent"`
	OverallRisk            float64 `json:"overall_risk"`

	RiskClass        RiskClass  `json:"risk_class"`
	ServiceRiskClass string     `json:"service_risk_class,omitempty"`
	ScoreScale       ScoreScale `json:"score_scale,omitempty"`

	Timestamp         time.Time `json:"timestamp"`
	TransactionAmount float64   `json:"transaction_amount"`
	TransactionText   string    `json:"transaction_text"`
	APISource         Source    `json:"api_source"`

	// Details keeps response fields the normalizer did not consume.
	Details map[string]any `json:"details,omitempty"`
}

// Unit maps one of r's scores to [0,1] using the scale it was reported on.
func (r *ScoringResult) Unit(v float64) float64 {
	return r.ScoreScale.ToUnit(v)
}

// Clone returns a copy that shares no mutable state with r.
func (r *ScoringResult) Clone() *ScoringResult {
	c := *r
	if r.Details != nil {
		c.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// ResultSink receives results as they are produced.
// Implementations must be safe for concurrent use.
type ResultSink interface {
	Add(result *ScoringResult)
}

// Alert is a rule match against a scoring result.
type Alert struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Severity  string    `json:"severity"`
	ResultID  string    `json:"result_id"`
	Overall   float64   `json:"overall_risk"`
	Amount    float64   `json:"transaction_amount"`
	Source    Source    `json:"api_source"`
	Timestamp time.Time `json:"timestamp"`
}
