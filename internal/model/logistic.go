// Package model provides the trained default-probability classifier
// and its serialized artifact format.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrDimensionMismatch indicates a feature vector whose length does not
// match the trained weight vector.
var ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

// Logistic is an L2-regularized logistic regression classifier over
// vectorized applications. It implements domain.Classifier and
// domain.Decomposer and is immutable (and thus safe for concurrent
// use) once trained or loaded.
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// PredictProbability returns the default probability for a processed
// feature vector.
func (m *Logistic) PredictProbability(ctx context.Context, features []float64) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, ctx.Err())
	default:
	}

	margin, err := m.margin(features)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

// Decompose produces the per-feature additive attribution of one
// prediction in probability space. The base value is the model's
// output at the feature baseline (all-zero standardized vector), and
// base + sum(contributions) equals the predicted probability exactly.
//
// Raw per-feature effects are computed in margin space (w_i * x_i,
// which is exact for a linear model) and rescaled into probability
// space so the additive identity holds after the sigmoid.
func (m *Logistic) Decompose(features []float64) ([]float64, float64, error) {
	margin, err := m.margin(features)
	if err != nil {
		return nil, 0, err
	}

	base := sigmoid(m.Bias)
	p := sigmoid(margin)

	contributions := make([]float64, len(features))
	var marginSum float64
	for i, x := range features {
		contributions[i] = m.Weights[i] * x
		marginSum += contributions[i]
	}

	if marginSum == 0 {
		// Prediction equals the baseline; nothing to attribute.
		return contributions, base, nil
	}

	scale := (p - base) / marginSum
	for i := range contributions {
		contributions[i] *= scale
	}

	return contributions, base, nil
}

// FeatureWeights returns a copy of the trained weight vector. With
// standardized inputs, |weight| is the global importance of a feature.
func (m *Logistic) FeatureWeights() []float64 {
	w := make([]float64, len(m.Weights))
	copy(w, m.Weights)
	return w
}

func (m *Logistic) margin(features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("%w: got %d features, model expects %d",
			ErrDimensionMismatch, len(features), len(m.Weights))
	}

	margin := m.Bias
	for i, x := range features {
		margin += m.Weights[i] * x
	}
	return margin, nil
}

func sigmoid(z float64) float64 {
	// Split to avoid overflow in Exp for large |z|.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// TrainConfig holds gradient descent hyperparameters.
type TrainConfig struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultTrainConfig returns reasonable training defaults.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       500,
		LearningRate: 0.1,
		L2:           0.001,
	}
}

// Train fits a logistic regression on vectorized training rows using
// full-batch gradient descent.
func Train(features [][]float64, labels []int, cfg TrainConfig) (*Logistic, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("cannot train on empty dataset")
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("got %d feature rows but %d labels", len(features), len(labels))
	}

	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d",
				ErrDimensionMismatch, i, len(row), width)
		}
	}

	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultTrainConfig().Epochs
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultTrainConfig().LearningRate
	}

	m := &Logistic{Weights: make([]float64, width)}
	n := float64(len(features))
	grad := make([]float64, width)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for i := range grad {
			grad[i] = 0
		}
		var gradBias float64

		for r, row := range features {
			margin := m.Bias
			for i, x := range row {
				margin += m.Weights[i] * x
			}
			err := sigmoid(margin) - float64(labels[r])
			for i, x := range row {
				grad[i] += err * x
			}
			gradBias += err
		}

		for i := range m.Weights {
			m.Weights[i] -= cfg.LearningRate * (grad[i]/n + cfg.L2*m.Weights[i])
		}
		m.Bias -= cfg.LearningRate * gradBias / n
	}

	return m, nil
}
