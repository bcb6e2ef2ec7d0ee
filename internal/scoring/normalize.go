package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Response is a normalized scoring reply.
type Response struct {
	Fraud           float64
	Compliance      float64
	BehaviorAnomaly float64
	Overall         float64

	// RiskClass is the service's own label, if it sent one.
	RiskClass string

	// Scale is how the scores above are reported. Set by the Client.
	Scale domain.ScoreScale

	Details map[string]any
}

// scoreField lists the accepted spellings of one score, preferred first.
type scoreField struct {
	names    []string
	required bool
}

var (
	fraudField      = scoreField{names: []string{"fraud_percent", "fraud_probability"}}
	complianceField = scoreField{names: []string{"compliance_percent", "compliance_risk"}}
	behaviorField   = scoreField{names: []string{"behavior_anomaly_percent", "behavior_anomaly"}}
	overallField    = scoreField{names: []string{"overall_risk"}, required: true}
)

const riskClassKey = "risk_class"

// Normalize decodes a 2xx body. Both the percent and probability spellings
// of the component scores are accepted; overall_risk must be present.
func Normalize(body []byte) (*Response, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ProtocolError{Reason: "body is not a JSON object", Err: err}
	}
	if raw == nil {
		return nil, &ProtocolError{Reason: "body is null"}
	}

	consumed := make(map[string]bool)
	resp := &Response{}

	var err error
	if resp.Fraud, err = fraudField.read(raw, consumed); err != nil {
		return nil, err
	}
	if resp.Compliance, err = complianceField.read(raw, consumed); err != nil {
		return nil, err
	}
	if resp.BehaviorAnomaly, err = behaviorField.read(raw, consumed); err != nil {
		return nil, err
	}
	if resp.Overall, err = overallField.read(raw, consumed); err != nil {
		return nil, err
	}

	if v, ok := raw[riskClassKey]; ok {
		consumed[riskClassKey] = true
		s, ok := v.(string)
		if !ok && v != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("%s is %T, want string", riskClassKey, v)}
		}
		resp.RiskClass = s
	}

	resp.Details = details(raw, consumed)
	return resp, nil
}

func (f scoreField) read(raw map[string]any, consumed map[string]bool) (float64, error) {
	for _, name := range f.names {
		v, ok := raw[name]
		if !ok {
			continue
		}
		consumed[name] = true
		n, ok := v.(float64)
		if !ok {
			return 0, &ProtocolError{Reason: fmt.Sprintf("%s is %T, want number", name, v)}
		}
		return n, nil
	}
	if f.required {
		return 0, &ProtocolError{Reason: "missing " + strings.Join(f.names, " or ")}
	}
	return 0, nil
}

// details keeps everything the normalizer did not consume. A nested
// "details" object is flattened into the result.
func details(raw map[string]any, consumed map[string]bool) map[string]any {
	out := make(map[string]any)
	if nested, ok := raw["details"].(map[string]any); ok {
		for k, v := range nested {
			out[k] = v
		}
		consumed["details"] = true
	}
	for k, v := range raw {
		if !consumed[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// serviceMessage extracts a human message from an error body.
// FastAPI sends {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func serviceMessage(body []byte) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch d := payload.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case []any:
		var msgs []string
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok && msg != "" {
					msgs = append(msgs, msg)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// Result annotates the reply with the record and feed metadata.
func (r *Response) Result(rec *domain.TransactionRecord, source domain.Source, receivedAt time.Time) *domain.ScoringResult {
	return &domain.ScoringResult{
		ID:                     uuid.New().String(),
		FraudPercent:           r.Fraud,
		CompliancePercent:      r.Compliance,
		BehaviorAnomalyPercent: r.BehaviorAnomaly,
		OverallRisk:            r.Overall,
		RiskClass:              domain.Classify(r.Scale.ToUnit(r.Overall)),
		ServiceRiskClass:       r.RiskClass,
		ScoreScale:             r.Scale,
		Timestamp:              receivedAt,
		TransactionAmount:      rec.TransactionAmount,
		TransactionText:        rec.TransactionText,
		APISource:              source,
		Details:                r.Details,
	}
}
