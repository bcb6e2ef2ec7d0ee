package repository

// Schema definitions for the FinSentinel archive.
// Compatible with both SQLite and PostgreSQL.

const schemaResults = `
CREATE TABLE IF NOT EXISTS scoring_results (
    id TEXT PRIMARY KEY,
    api_source TEXT NOT NULL,
    fraud_percent REAL NOT NULL,
    compliance_percent REAL NOT NULL,
    behavior_anomaly_percent REAL NOT NULL,
    overall_risk REAL NOT NULL,
    risk_class TEXT NOT NULL,
    service_risk_class TEXT,
    score_scale TEXT,
    transaction_amount REAL NOT NULL,
    transaction_text TEXT,
    timestamp TIMESTAMP NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scoring_results_timestamp ON scoring_results(timestamp);
CREATE INDEX IF NOT EXISTS idx_scoring_results_risk ON scoring_results(risk_class);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    rule_name TEXT,
    severity TEXT NOT NULL,
    result_id TEXT NOT NULL,
    overall_risk REAL NOT NULL,
    transaction_amount REAL NOT NULL,
    api_source TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_result ON alerts(result_id);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaResults,
		schemaAlerts,
	}
}
