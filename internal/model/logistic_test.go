package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestPredictProbability(t *testing.T) {
	m := &Logistic{Weights: []float64{1.0, -0.5}, Bias: 0.2}
	ctx := context.Background()

	t.Run("KnownInput", func(t *testing.T) {
		p, err := m.PredictProbability(ctx, []float64{2.0, 1.0})
		if err != nil {
			t.Fatalf("PredictProbability failed: %v", err)
		}
		// sigmoid(0.2 + 2.0 - 0.5) = sigmoid(1.7)
		want := 1.0 / (1.0 + math.Exp(-1.7))
		if math.Abs(p-want) > 1e-12 {
			t.Errorf("probability = %v, want %v", p, want)
		}
	})

	t.Run("ProbabilityInRange", func(t *testing.T) {
		for _, features := range [][]float64{
			{1000, 1000},
			{-1000, -1000},
			{0, 0},
		} {
			p, err := m.PredictProbability(ctx, features)
			if err != nil {
				t.Fatalf("PredictProbability failed: %v", err)
			}
			if p < 0 || p > 1 {
				t.Errorf("probability %v out of [0,1] for %v", p, features)
			}
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := m.PredictProbability(ctx, []float64{1.0})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got: %v", err)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.PredictProbability(cancelled, []float64{1.0, 1.0})
		if !errors.Is(err, domain.ErrClassifierUnavailable) {
			t.Errorf("expected ErrClassifierUnavailable, got: %v", err)
		}
	})
}

func TestDecompose(t *testing.T) {
	m := &Logistic{Weights: []float64{0.8, -1.2, 0.3}, Bias: -0.4}
	ctx := context.Background()

	t.Run("Additivity", func(t *testing.T) {
		features := []float64{1.5, 0.7, -2.1}

		contribs, base, err := m.Decompose(features)
		if err != nil {
			t.Fatalf("Decompose failed: %v", err)
		}

		p, _ := m.PredictProbability(ctx, features)

		sum := base
		for _, c := range contribs {
			sum += c
		}
		if math.Abs(sum-p) > 1e-9 {
			t.Errorf("base + contributions = %v, want probability %v", sum, p)
		}
	})

	t.Run("ZeroFeatures", func(t *testing.T) {
		contribs, base, err := m.Decompose([]float64{0, 0, 0})
		if err != nil {
			t.Fatalf("Decompose failed: %v", err)
		}

		for i, c := range contribs {
			if c != 0 {
				t.Errorf("contribution[%d] = %v, want 0 for zero input", i, c)
			}
		}

		want := 1.0 / (1.0 + math.Exp(0.4))
		if math.Abs(base-want) > 1e-12 {
			t.Errorf("base = %v, want sigmoid(bias) = %v", base, want)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, _, err := m.Decompose([]float64{1.0})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got: %v", err)
		}
	})
}

func TestFeatureWeights(t *testing.T) {
	m := &Logistic{Weights: []float64{1, 2, 3}, Bias: 0}

	w := m.FeatureWeights()
	w[0] = 99

	if m.Weights[0] != 1 {
		t.Error("FeatureWeights must return a copy")
	}
}

func TestTrain(t *testing.T) {
	// Linearly separable toy data on one dimension.
	features := [][]float64{
		{-2.0}, {-1.5}, {-1.0}, {-0.5},
		{0.5}, {1.0}, {1.5}, {2.0},
	}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	m, err := Train(features, labels, DefaultTrainConfig())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	ctx := context.Background()

	pLow, _ := m.PredictProbability(ctx, []float64{-2.0})
	pHigh, _ := m.PredictProbability(ctx, []float64{2.0})

	if pLow >= 0.5 {
		t.Errorf("negative-class probability = %v, want < 0.5", pLow)
	}
	if pHigh <= 0.5 {
		t.Errorf("positive-class probability = %v, want > 0.5", pHigh)
	}
	if pHigh <= pLow {
		t.Errorf("expected separation, got pLow=%v pHigh=%v", pLow, pHigh)
	}

	t.Run("EmptyDataset", func(t *testing.T) {
		_, err := Train(nil, nil, DefaultTrainConfig())
		if err == nil {
			t.Error("expected error for empty dataset")
		}
	})

	t.Run("LabelCountMismatch", func(t *testing.T) {
		_, err := Train([][]float64{{1}}, []int{0, 1}, DefaultTrainConfig())
		if err == nil {
			t.Error("expected error for label count mismatch")
		}
	})

	t.Run("RaggedRows", func(t *testing.T) {
		_, err := Train([][]float64{{1, 2}, {1}}, []int{0, 1}, DefaultTrainConfig())
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got: %v", err)
		}
	})
}

func TestAccuracy(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.2, 0.1}
	labels := []int{1, 0, 0, 1}

	// Correct at indices 0 and 2.
	got := Accuracy(probs, labels)
	if got != 0.5 {
		t.Errorf("Accuracy = %v, want 0.5", got)
	}

	if Accuracy(nil, nil) != 0 {
		t.Error("expected 0 accuracy on empty input")
	}
}

func TestAUC(t *testing.T) {
	t.Run("PerfectRanking", func(t *testing.T) {
		probs := []float64{0.1, 0.2, 0.8, 0.9}
		labels := []int{0, 0, 1, 1}

		if got := AUC(probs, labels); got != 1.0 {
			t.Errorf("AUC = %v, want 1.0", got)
		}
	})

	t.Run("InvertedRanking", func(t *testing.T) {
		probs := []float64{0.9, 0.8, 0.2, 0.1}
		labels := []int{0, 0, 1, 1}

		if got := AUC(probs, labels); got != 0.0 {
			t.Errorf("AUC = %v, want 0.0", got)
		}
	})

	t.Run("TiedScores", func(t *testing.T) {
		probs := []float64{0.5, 0.5}
		labels := []int{0, 1}

		if got := AUC(probs, labels); got != 0.5 {
			t.Errorf("AUC = %v, want 0.5 for fully tied scores", got)
		}
	})

	t.Run("SingleClass", func(t *testing.T) {
		probs := []float64{0.3, 0.7}
		labels := []int{1, 1}

		if got := AUC(probs, labels); got != 0.5 {
			t.Errorf("AUC = %v, want 0.5 when only one class present", got)
		}
	})
}
