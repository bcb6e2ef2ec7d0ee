package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

func result(fraud, overall, amount float64) *domain.ScoringResult {
	return &domain.ScoringResult{
		ID:                "res-001",
		FraudPercent:      fraud,
		OverallRisk:       overall,
		RiskClass:         domain.Classify(domain.ScaleAuto.ToUnit(overall)),
		TransactionAmount: amount,
		APISource:         domain.SourcePlaid,
		Timestamp:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func ruleIDs(alerts []domain.Alert) []string {
	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.RuleID
	}
	return ids
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Errorf("expected 3 rules, got %d", engine.RulesCount())
	}
}

func TestInvalidRules(t *testing.T) {
	cases := map[string]Rule{
		"Syntax":       {ID: "bad", Expression: "this is not valid CEL !!!"},
		"NonBool":      {ID: "num", Expression: "overall * 2.0"},
		"UnknownVar":   {ID: "var", Expression: "velocity_count > 3"},
		"MissingID":    {Expression: "overall > 0.5"},
		"TypeMismatch": {ID: "type", Expression: "amount > 'x'"},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewEngine([]Rule{r}); err == nil {
				t.Error("expected compile error")
			}
		})
	}

	t.Run("DuplicateID", func(t *testing.T) {
		r := Rule{ID: "dup", Expression: "overall > 0.5"}
		if _, err := NewEngine([]Rule{r, r}); err == nil {
			t.Error("expected duplicate id error")
		}
	})
}

func TestDefaultRules(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())

	tests := []struct {
		name string
		res  *domain.ScoringResult
		want []string
	}{
		{"LowRisk", result(10, 15, 100), nil},
		{"HighOverallPercent", result(50, 78, 100), []string{"high-overall-risk"}},
		{"HighOverallUnit", result(0.5, 0.78, 100), []string{"high-overall-risk"}},
		{"FraudSpike", result(95, 60, 100), []string{"fraud-spike"}},
		{"LargeRiskyAmount", result(40, 55, 15000), []string{"large-risky-amount"}},
		{"AllRules", result(92, 82, 15000), []string{"high-overall-risk", "fraud-spike", "large-risky-amount"}},
		{"LargeButSafe", result(10, 20, 15000), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleIDs(engine.Evaluate(tt.res))
			if len(got) != len(tt.want) {
				t.Fatalf("alerts = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("alerts = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestEvaluateHonorsScoreScale(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())

	onePercent := result(1, 1, 15000)
	onePercent.ScoreScale = domain.ScalePercent
	if got := ruleIDs(engine.Evaluate(onePercent)); len(got) != 0 {
		t.Errorf("1%% overall raised %v", got)
	}

	unitOne := result(1, 1, 100)
	unitOne.ScoreScale = domain.ScaleUnit
	got := ruleIDs(engine.Evaluate(unitOne))
	if len(got) != 2 || got[0] != "high-overall-risk" || got[1] != "fraud-spike" {
		t.Errorf("unit 1.0 alerts = %v", got)
	}
}

func TestAlertMetadata(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())
	res := result(20, 82, 15000)

	alerts := engine.Evaluate(res)
	if len(alerts) == 0 {
		t.Fatal("expected alerts")
	}

	a := alerts[0]
	if a.ID == "" {
		t.Error("alert ID should be set")
	}
	if a.RuleName != "High overall risk" || a.Severity != SeverityCritical {
		t.Errorf("unexpected rule metadata: %+v", a)
	}
	if a.ResultID != res.ID || a.Overall != 82 || a.Amount != 15000 {
		t.Errorf("unexpected result metadata: %+v", a)
	}
	if a.Source != domain.SourcePlaid || !a.Timestamp.Equal(res.Timestamp) {
		t.Errorf("unexpected source/timestamp: %+v", a)
	}
}

func TestStringVariables(t *testing.T) {
	engine, err := NewEngine([]Rule{
		{ID: "stripe-high", Expression: `source == "stripe" && risk_class == "High"`},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	res := result(10, 90, 100)
	if len(engine.Evaluate(res)) != 0 {
		t.Error("plaid result must not match")
	}

	res.APISource = domain.SourceStripe
	alerts := engine.Evaluate(res)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityWarning {
		t.Errorf("expected default severity warning, got %s", alerts[0].Severity)
	}
}

func TestRuntimeErrorSkipsRule(t *testing.T) {
	engine, err := NewEngine([]Rule{
		{ID: "div", Expression: "int(amount) / int(fraud) > 1"},
		{ID: "always", Expression: "true"},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	got := ruleIDs(engine.Evaluate(result(0, 10, 100)))
	if len(got) != 1 || got[0] != "always" {
		t.Errorf("alerts = %v, want [always]", got)
	}
}

func TestEvaluateNil(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())
	if alerts := engine.Evaluate(nil); alerts != nil {
		t.Errorf("expected nil, got %v", alerts)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())

	if err := engine.ReloadRules([]Rule{{ID: "bad", Expression: "!!!"}}); err == nil {
		t.Fatal("expected error")
	}
	if engine.RulesCount() != 3 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}

	if err := engine.ReloadRules([]Rule{{ID: "any", Name: "Any", Expression: "overall > 0.0"}}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	rules := engine.Rules()
	if len(rules) != 1 || rules[0].ID != "any" {
		t.Errorf("unexpected rules after reload: %+v", rules)
	}
}

func TestConcurrentEvaluate(t *testing.T) {
	engine, _ := NewEngine(DefaultRules())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n := len(engine.Evaluate(result(95, 82, 15000))); n != 3 {
				t.Errorf("expected 3 alerts, got %d", n)
			}
		}()
		if i == 25 {
			_ = engine.ReloadRules(DefaultRules())
		}
	}
	wg.Wait()
}
