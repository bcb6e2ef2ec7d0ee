package domain

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		unit float64
		want RiskClass
	}{
		{0, RiskLow},
		{0.29, RiskLow},
		{0.3, RiskMedium},
		{0.69, RiskMedium},
		{0.7, RiskHigh},
		{1, RiskHigh},
	}
	for _, c := range cases {
		if got := Classify(c.unit); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.unit, got, c.want)
		}
	}
}

func TestScoreScale(t *testing.T) {
	t.Run("Percent", func(t *testing.T) {
		cases := []struct {
			score float64
			want  RiskClass
		}{
			{0.5, RiskLow},
			{1, RiskLow},
			{1.5, RiskLow},
			{29, RiskLow},
			{30, RiskMedium},
			{69.9, RiskMedium},
			{70, RiskHigh},
			{78, RiskHigh},
			{100, RiskHigh},
		}
		for _, c := range cases {
			if got := Classify(ScalePercent.ToUnit(c.score)); got != c.want {
				t.Errorf("percent %v: got %s, want %s", c.score, got, c.want)
			}
		}
	})

	t.Run("PercentIsMonotonic", func(t *testing.T) {
		rank := map[RiskClass]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}
		prev := RiskLow
		for v := 0.0; v <= 100; v += 0.25 {
			got := Classify(ScalePercent.ToUnit(v))
			if rank[got] < rank[prev] {
				t.Fatalf("class drops from %s to %s at %v", prev, got, v)
			}
			prev = got
		}
	})

	t.Run("Unit", func(t *testing.T) {
		if got := ScaleUnit.ToUnit(0.78); got != 0.78 {
			t.Errorf("unit 0.78 -> %v", got)
		}
		if got := Classify(ScaleUnit.ToUnit(1)); got != RiskHigh {
			t.Errorf("unit 1.0 -> %s, want High", got)
		}
	})

	t.Run("AutoAndUnset", func(t *testing.T) {
		for _, s := range []ScoreScale{ScaleAuto, ""} {
			if got := s.ToUnit(78); got != 0.78 {
				t.Errorf("%q: 78 -> %v", s, got)
			}
			if got := s.ToUnit(0.4); got != 0.4 {
				t.Errorf("%q: 0.4 -> %v", s, got)
			}
		}
	})

	t.Run("Parse", func(t *testing.T) {
		for _, s := range []string{"percent", "unit", "auto"} {
			if _, ok := ParseScoreScale(s); !ok {
				t.Errorf("expected %q to be accepted", s)
			}
		}
		if _, ok := ParseScoreScale("ratio"); ok {
			t.Error("unknown scale accepted")
		}
	})

	t.Run("ResultUsesOwnScale", func(t *testing.T) {
		r := &ScoringResult{OverallRisk: 1, ScoreScale: ScalePercent}
		if got := r.Unit(r.OverallRisk); got != 0.01 {
			t.Errorf("Unit = %v, want 0.01", got)
		}
	})
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"plaid", "stripe", "mock"} {
		if _, ok := ParseSource(s); !ok {
			t.Errorf("expected %q to be accepted", s)
		}
	}
	if _, ok := ParseSource("manual"); ok {
		t.Error("manual is not a feed source")
	}
	if _, ok := ParseSource(""); ok {
		t.Error("empty source must be rejected")
	}
}

func TestScoringResultClone(t *testing.T) {
	r := &ScoringResult{ID: "a", Details: map[string]any{"model": "v1"}}
	c := r.Clone()
	c.Details["model"] = "v2"
	c.ID = "b"

	if r.Details["model"] != "v1" {
		t.Error("clone shares details map")
	}
	if r.ID != "a" {
		t.Error("clone shares struct")
	}
}

func TestLegacyEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &TransactionRecord{
		TransactionAmount:  250.5,
		ProductCode:        "W",
		CardID:             4321,
		BillingAddress:     300,
		DistanceFromHome:   42.9,
		EmailDomain:        "gmail.com",
		UserID:             "user_1",
		DeviceFingerprint:  "fp_1",
		IPAddress:          "10.0.0.1",
		Browser:            "Chrome",
		UserAccountAgeDays: 90,
		TransactionText:    "Coffee",
		Timestamp:          ts,
	}

	t.Run("WithoutFeatures", func(t *testing.T) {
		env := rec.Legacy()
		if env.TransactionData.TransactionAmt != 250.5 {
			t.Errorf("amount = %v", env.TransactionData.TransactionAmt)
		}
		if env.TransactionData.Card1 != 4321 || env.TransactionData.Addr1 != 300 {
			t.Errorf("card/addr not mapped: %+v", env.TransactionData)
		}
		if env.TransactionData.Dist1 != 42 {
			t.Errorf("dist1 = %d, want 42", env.TransactionData.Dist1)
		}
		if env.TransactionData.TransactionDT != ts.Unix() {
			t.Errorf("TransactionDT = %d", env.TransactionData.TransactionDT)
		}
		if env.TransactionSequence == nil || len(env.TransactionSequence) != 0 {
			t.Errorf("expected empty sequence, got %v", env.TransactionSequence)
		}
		if env.NetworkData.Nodes == nil || env.NetworkData.Edges == nil {
			t.Error("expected empty graph, got nil")
		}
		if env.Metadata.LoginTime != "2024-03-01T12:00:00Z" {
			t.Errorf("login time = %s", env.Metadata.LoginTime)
		}
	})

	t.Run("WithFeatures", func(t *testing.T) {
		withFeatures := *rec
		withFeatures.Features = &ModelFeatures{
			Card2:    111,
			V95:      1.25,
			Sequence: [][]float64{{1, 2, 3}},
		}
		env := withFeatures.Legacy()
		if env.TransactionData.Card2 != 111 || env.TransactionData.V95 != 1.25 {
			t.Errorf("features not mapped: %+v", env.TransactionData)
		}
		if len(env.TransactionSequence) != 1 {
			t.Errorf("sequence len = %d", len(env.TransactionSequence))
		}
	})
}
