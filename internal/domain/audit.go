package domain

// AuditEntry is one immutable row of the scoring audit log.
// Timestamps are fixed-width UTC strings so lexical comparison equals
// chronological comparison.
type AuditEntry struct {
	RequestID          string       `json:"request_id"`
	Timestamp          string       `json:"timestamp"`
	ModelVersion       string       `json:"model_version"`
	PredictionScore    float64      `json:"prediction_score"`
	RiskCategory       RiskCategory `json:"risk_category"`
	Decision           Decision     `json:"decision"`
	ExplanationSummary string       `json:"explanation_summary"`
	MaskedFeaturesHash string       `json:"masked_features_hash"`
	UserID             string       `json:"user_id"`
}

// AuditColumns is the persisted audit log column set and order. It is
// the compatibility contract for export/import tooling.
var AuditColumns = []string{
	"request_id", "timestamp", "model_version",
	"prediction_score", "risk_category",
	"decision", "explanation_summary",
	"masked_features_hash", "user_id",
}
