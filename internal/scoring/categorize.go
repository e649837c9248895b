// Package scoring runs the end-to-end prediction pipeline: ratios,
// vectorization, classification, categorization, attribution, policy
// overrides, and audit recording.
package scoring

import "github.com/opensource-finance/kestrel/internal/domain"

// Categorize maps a default probability to its risk tier. Boundaries
// are half-open: a probability sitting exactly on a boundary falls
// into the higher tier.
func Categorize(probability float64) domain.RiskCategory {
	switch {
	case probability < 0.2:
		return domain.RiskVeryLow
	case probability < 0.4:
		return domain.RiskLow
	case probability < 0.6:
		return domain.RiskMedium
	case probability < 0.8:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

// Decide applies the approve/reject threshold. REJECT only when the
// probability strictly exceeds the threshold; a probability exactly at
// the threshold is approved.
func Decide(probability, threshold float64) domain.Decision {
	if probability > threshold {
		return domain.DecisionReject
	}
	return domain.DecisionApprove
}
