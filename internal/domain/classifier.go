package domain

import (
	"context"
	"errors"
)

// ErrClassifierUnavailable indicates the classifier could not produce a
// prediction. Scoring for the request aborts; no partial decision is
// returned.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Classifier is the trained default-probability model, consumed as an
// opaque oracle. Implementations must be safe for concurrent use once
// loaded.
type Classifier interface {
	// PredictProbability returns the default probability in [0,1] for a
	// processed feature vector. The context carries the caller's
	// deadline; a hung model must respect cancellation.
	PredictProbability(ctx context.Context, features []float64) (float64, error)
}

// Decomposer is the optional attribution capability of a classifier:
// a per-feature additive decomposition of a single prediction.
// The returned contributions satisfy base + sum(contributions) =
// PredictProbability(features) for the positive class.
type Decomposer interface {
	Decompose(features []float64) (contributions []float64, base float64, err error)
}

// ModelRecord is the registry entry for one trained model version.
type ModelRecord struct {
	Version      string  `json:"version"`
	TrainedAt    string  `json:"trained_at"`
	Accuracy     float64 `json:"accuracy"`
	AUC          float64 `json:"auc"`
	FeatureCount int     `json:"feature_count"`
	ArtifactPath string  `json:"artifact_path"`
	Active       bool    `json:"active"`
}
