// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps list queries that pass a non-positive limit.
const DefaultListLimit = 100

// SQLRepository implements domain.ResultRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveResult archives a scoring result. Saving an ID twice keeps the first copy.
func (r *SQLRepository) SaveResult(ctx context.Context, res *domain.ScoringResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("%w: result id is required", ErrInvalidInput)
	}

	var details []byte
	if len(res.Details) > 0 {
		var err error
		if details, err = json.Marshal(res.Details); err != nil {
			return fmt.Errorf("failed to encode details: %w", err)
		}
	}

	query := `
		INSERT INTO scoring_results (
			id, api_source, fraud_percent, compliance_percent, behavior_anomaly_percent,
			overall_risk, risk_class, service_risk_class, score_scale, transaction_amount,
			transaction_text, timestamp, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, string(res.APISource),
		res.FraudPercent, res.CompliancePercent, res.BehaviorAnomalyPercent,
		res.OverallRisk, string(res.RiskClass), res.ServiceRiskClass, string(res.ScoreScale),
		res.TransactionAmount, res.TransactionText,
		res.Timestamp.UTC(), string(details), time.Now().UTC(),
	)
	return err
}

const selectResult = `
	SELECT id, api_source, fraud_percent, compliance_percent, behavior_anomaly_percent,
		   overall_risk, risk_class, service_risk_class, score_scale, transaction_amount,
		   transaction_text, timestamp, details
	FROM scoring_results
`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*domain.ScoringResult, error) {
	var res domain.ScoringResult
	var source, class string
	var serviceClass, scale, text, details sql.NullString

	if err := row.Scan(
		&res.ID, &source,
		&res.FraudPercent, &res.CompliancePercent, &res.BehaviorAnomalyPercent,
		&res.OverallRisk, &class, &serviceClass, &scale,
		&res.TransactionAmount, &text, &res.Timestamp, &details,
	); err != nil {
		return nil, err
	}

	res.APISource = domain.Source(source)
	res.RiskClass = domain.RiskClass(class)
	res.ServiceRiskClass = serviceClass.String
	res.ScoreScale = domain.ScoreScale(scale.String)
	res.TransactionText = text.String
	res.Timestamp = res.Timestamp.UTC()

	if details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &res.Details); err != nil {
			return nil, fmt.Errorf("failed to parse details for %s: %w", res.ID, err)
		}
	}
	return &res, nil
}

// GetResult retrieves a result by ID.
func (r *SQLRepository) GetResult(ctx context.Context, id string) (*domain.ScoringResult, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectResult+" WHERE id = ?"), id)

	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListResults returns up to limit results, newest first.
func (r *SQLRepository) ListResults(ctx context.Context, limit int) ([]*domain.ScoringResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := selectResult + " ORDER BY timestamp DESC, id DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoringResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, rows.Err()
}

// SaveAlert archives a rule match. Saving an ID twice keeps the first copy.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			id, rule_id, rule_name, severity, result_id,
			overall_risk, transaction_amount, api_source, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.RuleID, alert.RuleName, alert.Severity, alert.ResultID,
		alert.Overall, alert.Amount, string(alert.Source), alert.Timestamp.UTC(),
	)
	return err
}

// ListAlerts returns up to limit alerts, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, rule_id, rule_name, severity, result_id,
			   overall_risk, transaction_amount, api_source, timestamp
		FROM alerts
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var name sql.NullString
		var source string

		if err := rows.Scan(
			&a.ID, &a.RuleID, &name, &a.Severity, &a.ResultID,
			&a.Overall, &a.Amount, &source, &a.Timestamp,
		); err != nil {
			return nil, err
		}

		a.RuleName = name.String
		a.Source = domain.Source(source)
		a.Timestamp = a.Timestamp.UTC()
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
