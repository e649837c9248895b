package domain

// RiskCategory is one of five ordered risk tiers derived from the
// default probability.
type RiskCategory string

const (
	RiskVeryLow  RiskCategory = "VERY_LOW"
	RiskLow      RiskCategory = "LOW"
	RiskMedium   RiskCategory = "MEDIUM"
	RiskHigh     RiskCategory = "HIGH"
	RiskVeryHigh RiskCategory = "VERY_HIGH"
)

// Decision is the approve/reject outcome of a scoring call.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Prediction is the classifier output for one application.
type Prediction struct {
	Probability  float64      `json:"probability"`
	RiskCategory RiskCategory `json:"risk_category"`
	Decision     Decision     `json:"decision"`
}

// Contribution directions for feature attribution.
const (
	ImpactIncreasesRisk = "increases_risk"
	ImpactDecreasesRisk = "decreases_risk"
)

// FeatureContribution is one feature's additive contribution to a
// single prediction relative to the baseline expectation.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
	FeatureValue float64 `json:"feature_value"`
	Impact       string  `json:"impact"`
}

// Explanation is the per-prediction attribution result. When attribution
// cannot be computed, Failed is set and Error carries the cause; the
// prediction and decision are unaffected.
type Explanation struct {
	BaseValue    float64               `json:"base_value"`
	TopFeatures  []FeatureContribution `json:"top_features"`
	Summary      string                `json:"explanation"`
	Probability  float64               `json:"prediction_probability"`
	RiskCategory RiskCategory          `json:"risk_category,omitempty"`
	Failed       bool                  `json:"failed,omitempty"`
	Error        string                `json:"error,omitempty"`
}
