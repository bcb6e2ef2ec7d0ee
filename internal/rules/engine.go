// Package rules provides the CEL-Go based alert rule engine.
package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Severity levels attached to alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Rule is a boolean CEL expression over a scoring result.
type Rule struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
	Severity   string `json:"severity" yaml:"severity"`
}

// DefaultRules returns the alert rules loaded when none are configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "high-overall-risk",
			Name:       "High overall risk",
			Expression: "overall >= 0.7",
			Severity:   SeverityCritical,
		},
		{
			ID:         "fraud-spike",
			Name:       "Fraud probability spike",
			Expression: "fraud >= 0.9",
			Severity:   SeverityCritical,
		},
		{
			ID:         "large-risky-amount",
			Name:       "Large amount with elevated risk",
			Expression: "amount >= 5000.0 && overall >= 0.5",
			Severity:   SeverityWarning,
		},
	}
}

// Engine evaluates compiled alert rules.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*compiledRule
}

type compiledRule struct {
	Rule
	program cel.Program
}

// NewEngine creates an engine and loads rules into it.
func NewEngine(rules []Rule) (*Engine, error) {
	// Scores are exposed on the unit scale regardless of how the service reports them.
	env, err := cel.NewEnv(
		cel.Variable("fraud", cel.DoubleType),
		cel.Variable("compliance", cel.DoubleType),
		cel.Variable("behavior", cel.DoubleType),
		cel.Variable("overall", cel.DoubleType),
		cel.Variable("risk_class", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("source", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	if err := e.ReloadRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// ReloadRules replaces the loaded rules. On error the previous set stays loaded.
func (e *Engine) ReloadRules(rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true

		c, err := e.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Evaluate runs every rule against result and returns one alert per match,
// in rule load order. Rules that fail at runtime are logged and skipped.
func (e *Engine) Evaluate(result *domain.ScoringResult) []domain.Alert {
	if result == nil {
		return nil
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	activation := map[string]any{
		"fraud":      result.Unit(result.FraudPercent),
		"compliance": result.Unit(result.CompliancePercent),
		"behavior":   result.Unit(result.BehaviorAnomalyPercent),
		"overall":    result.Unit(result.OverallRisk),
		"risk_class": string(result.RiskClass),
		"amount":     result.TransactionAmount,
		"source":     string(result.APISource),
	}

	var alerts []domain.Alert
	for _, r := range rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			slog.Warn("rule evaluation failed", "rule_id", r.ID, "result_id", result.ID, "error", err)
			continue
		}
		if out != types.True {
			continue
		}

		alerts = append(alerts, domain.Alert{
			ID:        uuid.New().String(),
			RuleID:    r.ID,
			RuleName:  r.Name,
			Severity:  r.Severity,
			ResultID:  result.ID,
			Overall:   result.OverallRisk,
			Amount:    result.TransactionAmount,
			Source:    result.APISource,
			Timestamp: result.Timestamp,
		})
	}
	return alerts
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Rules returns the loaded rule definitions.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

func (e *Engine) compileRule(r Rule) (*compiledRule, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}

	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	return &compiledRule{Rule: r, program: program}, nil
}
