package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "archive", "finsentinel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleResult(id string, ts time.Time) *domain.ScoringResult {
	return &domain.ScoringResult{
		ID:                     id,
		FraudPercent:           82,
		CompliancePercent:      75,
		BehaviorAnomalyPercent: 68,
		OverallRisk:            78,
		RiskClass:              domain.RiskHigh,
		ServiceRiskClass:       "HIGH",
		ScoreScale:             domain.ScalePercent,
		Timestamp:              ts,
		TransactionAmount:      15000,
		TransactionText:        "Wire transfer to offshore account",
		APISource:              domain.SourceStripe,
		Details:                map[string]any{"model": "ensemble-v2"},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetResult", func(t *testing.T) {
		res := sampleResult("res-001", base)
		if err := repo.SaveResult(ctx, res); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}

		got, err := repo.GetResult(ctx, res.ID)
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}

		if got.OverallRisk != 78 || got.FraudPercent != 82 || got.TransactionAmount != 15000 {
			t.Errorf("scores not preserved: %+v", got)
		}
		if got.ScoreScale != domain.ScalePercent {
			t.Errorf("score scale = %q, want percent", got.ScoreScale)
		}
		if got.RiskClass != domain.RiskHigh || got.ServiceRiskClass != "HIGH" {
			t.Errorf("classes not preserved: %+v", got)
		}
		if got.APISource != domain.SourceStripe || got.TransactionText != res.TransactionText {
			t.Errorf("metadata not preserved: %+v", got)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("expected timestamp %v, got %v", base, got.Timestamp)
		}
		if got.Details["model"] != "ensemble-v2" {
			t.Errorf("details not preserved: %v", got.Details)
		}
	})

	t.Run("SaveIsIdempotent", func(t *testing.T) {
		res := sampleResult("res-001", base)
		res.OverallRisk = 10
		if err := repo.SaveResult(ctx, res); err != nil {
			t.Fatalf("second SaveResult failed: %v", err)
		}

		got, _ := repo.GetResult(ctx, "res-001")
		if got.OverallRisk != 78 {
			t.Errorf("duplicate save overwrote the first copy: %v", got.OverallRisk)
		}
	})

	t.Run("WithoutOptionalFields", func(t *testing.T) {
		res := &domain.ScoringResult{
			ID:        "res-bare",
			RiskClass: domain.RiskLow,
			APISource: domain.SourceManual,
			Timestamp: base.Add(-time.Hour),
		}
		if err := repo.SaveResult(ctx, res); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}
		got, err := repo.GetResult(ctx, "res-bare")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got.Details != nil || got.ServiceRiskClass != "" {
			t.Errorf("expected empty optional fields, got %+v", got)
		}
	})

	t.Run("ListResultsNewestFirst", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			res := sampleResult(fmt.Sprintf("res-list-%d", i), base.Add(time.Duration(i)*time.Minute))
			if err := repo.SaveResult(ctx, res); err != nil {
				t.Fatalf("SaveResult failed: %v", err)
			}
		}

		list, err := repo.ListResults(ctx, 2)
		if err != nil {
			t.Fatalf("ListResults failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 results, got %d", len(list))
		}
		if list[0].ID != "res-list-3" || list[1].ID != "res-list-2" {
			t.Errorf("unexpected order: %s, %s", list[0].ID, list[1].ID)
		}

		all, _ := repo.ListResults(ctx, 0)
		if len(all) != 5 {
			t.Errorf("expected 5 results with default limit, got %d", len(all))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetResult(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		if err := repo.SaveResult(ctx, &domain.ScoringResult{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if err := repo.SaveAlert(ctx, &domain.Alert{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		for i, rule := range []string{"high-overall-risk", "fraud-spike"} {
			alert := &domain.Alert{
				ID:        fmt.Sprintf("alert-%d", i),
				RuleID:    rule,
				RuleName:  rule,
				Severity:  "critical",
				ResultID:  "res-001",
				Overall:   78,
				Amount:    15000,
				Source:    domain.SourceStripe,
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.SaveAlert(ctx, alert); err != nil {
				t.Fatalf("SaveAlert failed: %v", err)
			}
			if err := repo.SaveAlert(ctx, alert); err != nil {
				t.Fatalf("duplicate SaveAlert failed: %v", err)
			}
		}

		alerts, err := repo.ListAlerts(ctx, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 2 {
			t.Fatalf("expected 2 alerts, got %d", len(alerts))
		}
		if alerts[0].RuleID != "fraud-spike" {
			t.Errorf("expected newest alert first, got %s", alerts[0].RuleID)
		}
		if alerts[1].Source != domain.SourceStripe || alerts[1].ResultID != "res-001" {
			t.Errorf("alert fields not preserved: %+v", alerts[1])
		}
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsentinel.db")
	cfg := domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path}

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	ctx := context.Background()
	if err := first.SaveResult(ctx, sampleResult("keep", time.Now().UTC())); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	first.Close()

	second, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	if _, err := second.GetResult(ctx, "keep"); err != nil {
		t.Errorf("result lost across reopen: %v", err)
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveResult(ctx, sampleResult("mem", time.Now().UTC())); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if _, err := repo.GetResult(ctx, "mem"); err != nil {
		t.Errorf("GetResult failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{})
		want := "host=localhost port=5432 dbname=finsentinel sslmode=disable"
		if got != want {
			t.Errorf("postgresDSN = %q, want %q", got, want)
		}
	})

	t.Run("Explicit", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db",
			PostgresPort:     6543,
			PostgresUser:     "fs",
			PostgresPassword: "secret",
			PostgresDB:       "archive",
			PostgresSSLMode:  "require",
		})
		want := "host=db port=6543 dbname=archive sslmode=require user=fs password=secret"
		if got != want {
			t.Errorf("postgresDSN = %q, want %q", got, want)
		}
	})
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if q := sqlite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Errorf("sqlite rebind changed query: %q", q)
	}
}
