// Package audit records scoring decisions to the append-only audit
// log with PII masking, and serves queries and CSV export over it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNoAuditLog indicates an export was requested before any entries
// were recorded.
var ErrNoAuditLog = errors.New("no audit log entries recorded")

// Fixed-width UTC layout so lexical comparison of stored timestamps
// equals chronological comparison.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Raw monetary values are never persisted; they are bucketed to the
// nearest 10 million before hashing.
const monetaryBucket = 1e7

const maxSummaryLength = 200

// Recorder writes masked audit entries through a Repository.
type Recorder struct {
	repo domain.Repository
	now  func() time.Time
}

// NewRecorder creates an audit recorder.
func NewRecorder(repo domain.Repository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// Record masks the application, builds the audit entry, and appends it
// to the log. Returns the request ID (generated when empty). Errors
// are reported to the caller but must never fail the scoring call
// itself.
func (r *Recorder) Record(ctx context.Context, requestID string, app *domain.CreditApplication,
	probability float64, category domain.RiskCategory, decision domain.Decision,
	summary, modelVersion, userID string) (string, error) {

	if requestID == "" {
		requestID = uuid.New().String()
	}
	if userID == "" {
		userID = "anonymous"
	}

	maskedHash, err := maskedFeaturesHash(app)
	if err != nil {
		return requestID, fmt.Errorf("failed to hash masked features: %w", err)
	}

	entry := &domain.AuditEntry{
		RequestID:          requestID,
		Timestamp:          r.now().UTC().Format(timestampLayout),
		ModelVersion:       modelVersion,
		PredictionScore:    math.Round(probability*10000) / 10000,
		RiskCategory:       category,
		Decision:           decision,
		ExplanationSummary: truncate(summary, maxSummaryLength),
		MaskedFeaturesHash: maskedHash,
		UserID:             userID,
	}

	if err := r.repo.AppendAuditEntry(ctx, entry); err != nil {
		return requestID, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return requestID, nil
}

// Query returns audit entries filtered by inclusive date range and
// bounded by limit. Dates are compared lexically against the stored
// fixed-width timestamps, so plain YYYY-MM-DD prefixes work as bounds.
func (r *Recorder) Query(ctx context.Context, startDate, endDate string, limit int) ([]*domain.AuditEntry, error) {
	return r.repo.QueryAuditEntries(ctx, startDate, endDate, limit)
}

// Export writes the complete audit log as CSV. Fails with ErrNoAuditLog
// when no entries have been recorded.
func (r *Recorder) Export(ctx context.Context, w io.Writer) error {
	entries, err := r.repo.ListAuditEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return ErrNoAuditLog
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(domain.AuditColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.RequestID,
			e.Timestamp,
			e.ModelVersion,
			strconv.FormatFloat(e.PredictionScore, 'f', 4, 64),
			string(e.RiskCategory),
			string(e.Decision),
			e.ExplanationSummary,
			e.MaskedFeaturesHash,
			e.UserID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// maskedFeaturesHash builds a stable fingerprint of the application
// with all PII masked. Identifiers are replaced by truncated SHA-256
// digests and monetary amounts are bucketed, so the raw values cannot
// be recovered from the log.
func maskedFeaturesHash(app *domain.CreditApplication) (string, error) {
	masked := map[string]any{
		"application_id":          hashValue(app.ApplicationID),
		"age":                     app.Age,
		"gender":                  app.Gender,
		"marital_status":          app.MaritalStatus,
		"education":               app.Education,
		"housing_type":            app.HousingType,
		"annual_income":           bucketMonetary(app.AnnualIncome),
		"employment_status":       app.EmploymentStatus,
		"work_experience_years":   app.WorkExperienceYears,
		"existing_loans_count":    app.ExistingLoansCount,
		"total_existing_debt":     bucketMonetary(app.TotalExistingDebt),
		"credit_card_utilization": app.CreditCardUtilization,
		"past_delinquencies":      app.PastDelinquencies,
		"loan_amount":             bucketMonetary(app.LoanAmount),
		"loan_term_months":        app.LoanTermMonths,
	}

	// json.Marshal sorts map keys, so the digest is order-independent.
	data, err := json.Marshal(masked)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func hashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:16]
}

func bucketMonetary(v float64) float64 {
	return math.Round(v/monetaryBucket) * monetaryBucket
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
