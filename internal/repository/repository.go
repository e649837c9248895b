// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
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

	// Run migrations
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

// SaveApplication stores a credit application, replacing any earlier
// submission with the same application ID.
func (r *SQLRepository) SaveApplication(ctx context.Context, requestID string, app *domain.CreditApplication) error {
	if app == nil || app.ApplicationID == "" {
		return fmt.Errorf("%w: application with application_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO applications (
			application_id, request_id, age, gender, marital_status,
			education, housing_type, annual_income, employment_status,
			work_experience_years, existing_loans_count, total_existing_debt,
			credit_card_utilization, past_delinquencies,
			loan_amount, loan_term_months, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(application_id) DO UPDATE SET
			request_id = excluded.request_id,
			age = excluded.age,
			gender = excluded.gender,
			marital_status = excluded.marital_status,
			education = excluded.education,
			housing_type = excluded.housing_type,
			annual_income = excluded.annual_income,
			employment_status = excluded.employment_status,
			work_experience_years = excluded.work_experience_years,
			existing_loans_count = excluded.existing_loans_count,
			total_existing_debt = excluded.total_existing_debt,
			credit_card_utilization = excluded.credit_card_utilization,
			past_delinquencies = excluded.past_delinquencies,
			loan_amount = excluded.loan_amount,
			loan_term_months = excluded.loan_term_months,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ApplicationID, requestID,
		app.Age, app.Gender, app.MaritalStatus,
		app.Education, app.HousingType,
		app.AnnualIncome, app.EmploymentStatus,
		app.WorkExperienceYears, app.ExistingLoansCount, app.TotalExistingDebt,
		app.CreditCardUtilization, app.PastDelinquencies,
		app.LoanAmount, app.LoanTermMonths,
		time.Now().UTC(),
	)
	return err
}

// GetApplication retrieves a credit application by its ID.
func (r *SQLRepository) GetApplication(ctx context.Context, applicationID string) (*domain.CreditApplication, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("%w: applicationID is required", ErrInvalidInput)
	}

	query := `
		SELECT application_id, age, gender, marital_status, education,
			   housing_type, annual_income, employment_status,
			   work_experience_years, existing_loans_count, total_existing_debt,
			   credit_card_utilization, past_delinquencies,
			   loan_amount, loan_term_months
		FROM applications
		WHERE application_id = ?
	`

	var app domain.CreditApplication
	err := r.db.QueryRowContext(ctx, r.rebind(query), applicationID).Scan(
		&app.ApplicationID, &app.Age, &app.Gender, &app.MaritalStatus, &app.Education,
		&app.HousingType, &app.AnnualIncome, &app.EmploymentStatus,
		&app.WorkExperienceYears, &app.ExistingLoansCount, &app.TotalExistingDebt,
		&app.CreditCardUtilization, &app.PastDelinquencies,
		&app.LoanAmount, &app.LoanTermMonths,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &app, nil
}

// AppendAuditEntry adds one row to the append-only audit log.
func (r *SQLRepository) AppendAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	if entry == nil || entry.RequestID == "" {
		return fmt.Errorf("%w: audit entry with request_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO audit_log (
			request_id, timestamp, model_version, prediction_score,
			risk_category, decision, explanation_summary,
			masked_features_hash, user_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.RequestID, entry.Timestamp, entry.ModelVersion, entry.PredictionScore,
		entry.RiskCategory, entry.Decision, entry.ExplanationSummary,
		entry.MaskedFeaturesHash, entry.UserID,
	)
	return err
}

const auditSelectColumns = `
	SELECT request_id, timestamp, model_version, prediction_score,
		   risk_category, decision, explanation_summary,
		   masked_features_hash, user_id
	FROM audit_log
`

// QueryAuditEntries returns entries within the inclusive date range,
// keeping the most recent `limit` rows in chronological order. Empty
// bounds are open; date prefixes compare lexically against the stored
// fixed-width timestamps.
func (r *SQLRepository) QueryAuditEntries(ctx context.Context, startDate, endDate string, limit int) ([]*domain.AuditEntry, error) {
	query := auditSelectColumns + ` WHERE 1=1`
	var args []any

	if startDate != "" {
		query += ` AND timestamp >= ?`
		args = append(args, startDate)
	}
	if endDate != "" {
		// A bare date prefix means "through the end of that day".
		if len(endDate) == len("2006-01-02") {
			endDate += "T23:59:59.999999999Z"
		}
		query += ` AND timestamp <= ?`
		args = append(args, endDate)
	}

	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries, err := r.scanAuditEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// The LIMIT kept the newest rows; flip back to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListAuditEntries returns the full audit log in chronological order.
func (r *SQLRepository) ListAuditEntries(ctx context.Context) ([]*domain.AuditEntry, error) {
	return r.scanAuditEntries(ctx, auditSelectColumns+` ORDER BY timestamp ASC`)
}

func (r *SQLRepository) scanAuditEntries(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.RequestID, &e.Timestamp, &e.ModelVersion, &e.PredictionScore,
			&e.RiskCategory, &e.Decision, &e.ExplanationSummary,
			&e.MaskedFeaturesHash, &e.UserID,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// SavePolicy stores a policy configuration, upserting on (id, version).
func (r *SQLRepository) SavePolicy(ctx context.Context, policy *domain.PolicyConfig) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy with id is required", ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, name, description, version, expression, action, reason, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			reason = excluded.reason,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, policy.Name, policy.Description,
		policy.Version, policy.Expression, policy.Action, policy.Reason,
		policy.Priority, enabled,
		now, now,
	)
	return err
}

// GetPolicy retrieves the latest enabled version of a policy.
func (r *SQLRepository) GetPolicy(ctx context.Context, policyID string) (*domain.PolicyConfig, error) {
	if policyID == "" {
		return nil, fmt.Errorf("%w: policyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, version, expression, action, reason, priority, enabled
		FROM policies
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.PolicyConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), policyID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Action, &cfg.Reason,
		&cfg.Priority, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListPolicies retrieves all enabled policy configurations.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]*domain.PolicyConfig, error) {
	query := `
		SELECT id, name, description, version, expression, action, reason, priority, enabled
		FROM policies
		WHERE enabled = 1
		ORDER BY priority DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PolicyConfig
	for rows.Next() {
		var cfg domain.PolicyConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.Action, &cfg.Reason,
			&cfg.Priority, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveModelRecord stores a model registry entry. Marking a record
// active deactivates all others.
func (r *SQLRepository) SaveModelRecord(ctx context.Context, rec *domain.ModelRecord) error {
	if rec == nil || rec.Version == "" {
		return fmt.Errorf("%w: model record with version is required", ErrInvalidInput)
	}

	active := 0
	if rec.Active {
		active = 1
		if _, err := r.db.ExecContext(ctx, `UPDATE models SET active = 0`); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO models (
			version, trained_at, accuracy, auc, feature_count, artifact_path, active
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			trained_at = excluded.trained_at,
			accuracy = excluded.accuracy,
			auc = excluded.auc,
			feature_count = excluded.feature_count,
			artifact_path = excluded.artifact_path,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.Version, rec.TrainedAt, rec.Accuracy, rec.AUC,
		rec.FeatureCount, rec.ArtifactPath, active,
	)
	return err
}

// GetActiveModelRecord retrieves the currently active model.
func (r *SQLRepository) GetActiveModelRecord(ctx context.Context) (*domain.ModelRecord, error) {
	query := `
		SELECT version, trained_at, accuracy, auc, feature_count, artifact_path, active
		FROM models
		WHERE active = 1
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var rec domain.ModelRecord
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query)).Scan(
		&rec.Version, &rec.TrainedAt, &rec.Accuracy, &rec.AUC,
		&rec.FeatureCount, &rec.ArtifactPath, &active,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Active = active == 1
	return &rec, nil
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
