package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    application_id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    age INTEGER NOT NULL,
    gender TEXT NOT NULL,
    marital_status TEXT NOT NULL,
    education TEXT NOT NULL,
    housing_type TEXT NOT NULL,
    annual_income REAL NOT NULL,
    employment_status TEXT NOT NULL,
    work_experience_years INTEGER NOT NULL,
    existing_loans_count INTEGER NOT NULL,
    total_existing_debt REAL NOT NULL,
    credit_card_utilization REAL NOT NULL,
    past_delinquencies INTEGER NOT NULL,
    loan_amount REAL NOT NULL,
    loan_term_months INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_request ON applications(request_id);
`

// The audit log is append-only. Timestamps are stored as fixed-width
// UTC text so range filters can compare lexically.
const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    request_id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    model_version TEXT NOT NULL,
    prediction_score REAL NOT NULL,
    risk_category TEXT NOT NULL,
    decision TEXT NOT NULL,
    explanation_summary TEXT NOT NULL,
    masked_features_hash TEXT NOT NULL,
    user_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    reason TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(enabled);
`

const schemaModels = `
CREATE TABLE IF NOT EXISTS models (
    version TEXT PRIMARY KEY,
    trained_at TEXT NOT NULL,
    accuracy REAL NOT NULL,
    auc REAL NOT NULL,
    feature_count INTEGER NOT NULL,
    artifact_path TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_models_active ON models(active);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplications,
		schemaAuditLog,
		schemaPolicies,
		schemaModels,
	}
}
