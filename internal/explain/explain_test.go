package explain

import (
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

func TestExplain(t *testing.T) {
	m := &model.Logistic{
		Weights: []float64{0.9, -1.4, 0.2, 0.05},
		Bias:    -0.3,
	}
	names := []string{"debt_service_ratio", "annual_income", "age", "loan_term_months"}
	features := []float64{1.2, -0.8, 0.5, 0.1}

	probability := 0.73

	exp, err := Explain(features, names, m, probability, 3)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}

	t.Run("TopKRespected", func(t *testing.T) {
		if len(exp.TopFeatures) != 3 {
			t.Errorf("got %d top features, want 3", len(exp.TopFeatures))
		}
	})

	t.Run("RankedByMagnitude", func(t *testing.T) {
		for i := 1; i < len(exp.TopFeatures); i++ {
			prev := math.Abs(exp.TopFeatures[i-1].Contribution)
			cur := math.Abs(exp.TopFeatures[i].Contribution)
			if cur > prev {
				t.Errorf("ranking violated at %d: |%v| > |%v|", i, cur, prev)
			}
		}
	})

	t.Run("Additivity", func(t *testing.T) {
		contribs, base, err := m.Decompose(features)
		if err != nil {
			t.Fatalf("Decompose failed: %v", err)
		}
		sum := base
		for _, c := range contribs {
			sum += c
		}
		if math.Abs(sum-sigmoidMargin(m, features)) > 1e-9 {
			t.Errorf("contributions do not sum to the prediction: %v", sum)
		}
		if exp.BaseValue != base {
			t.Errorf("BaseValue = %v, want %v", exp.BaseValue, base)
		}
	})

	t.Run("ImpactDirections", func(t *testing.T) {
		for _, fc := range exp.TopFeatures {
			want := domain.ImpactDecreasesRisk
			if fc.Contribution > 0 {
				want = domain.ImpactIncreasesRisk
			}
			if fc.Impact != want {
				t.Errorf("feature %s: impact %s, want %s", fc.Feature, fc.Impact, want)
			}
		}
	})

	t.Run("SummaryFormat", func(t *testing.T) {
		if !strings.HasPrefix(exp.Summary, "Credit Default Risk: HIGH (73.0% probability)\n\n") {
			t.Errorf("unexpected summary header: %q", exp.Summary)
		}
		if !strings.Contains(exp.Summary, "Key factors influencing this decision:\n") {
			t.Errorf("summary missing factors header: %q", exp.Summary)
		}
		if !strings.Contains(exp.Summary, "1. ") {
			t.Errorf("summary missing numbered factors: %q", exp.Summary)
		}
		for _, fc := range exp.TopFeatures {
			if !strings.Contains(exp.Summary, fc.Feature) {
				t.Errorf("summary missing feature %s", fc.Feature)
			}
		}
	})

	t.Run("LowRiskSummary", func(t *testing.T) {
		low, err := Explain(features, names, m, 0.12, 2)
		if err != nil {
			t.Fatalf("Explain failed: %v", err)
		}
		if !strings.HasPrefix(low.Summary, "Credit Default Risk: LOW (12.0% probability)") {
			t.Errorf("unexpected low-risk summary: %q", low.Summary)
		}
	})

	t.Run("TopKClamped", func(t *testing.T) {
		exp, err := Explain(features, names, m, probability, 100)
		if err != nil {
			t.Fatalf("Explain failed: %v", err)
		}
		if len(exp.TopFeatures) != len(names) {
			t.Errorf("got %d features, want clamp to %d", len(exp.TopFeatures), len(names))
		}
	})

	t.Run("DefaultTopK", func(t *testing.T) {
		exp, err := Explain(features, names, m, probability, 0)
		if err != nil {
			t.Fatalf("Explain failed: %v", err)
		}
		// Only four features exist, so the default of five clamps.
		if len(exp.TopFeatures) != len(names) {
			t.Errorf("got %d features, want %d", len(exp.TopFeatures), len(names))
		}
	})

	t.Run("NameCountMismatch", func(t *testing.T) {
		_, err := Explain(features, names[:2], m, probability, 3)
		if err == nil {
			t.Error("expected error for name count mismatch")
		}
	})
}

func TestStableTieBreak(t *testing.T) {
	// Two features with identical weights and values contribute equally;
	// vector order must decide their ranking.
	m := &model.Logistic{Weights: []float64{0.5, 0.5}, Bias: 0}
	names := []string{"first", "second"}

	exp, err := Explain([]float64{1.0, 1.0}, names, m, 0.6, 2)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}

	if exp.TopFeatures[0].Feature != "first" || exp.TopFeatures[1].Feature != "second" {
		t.Errorf("tie-break not stable: got %s then %s",
			exp.TopFeatures[0].Feature, exp.TopFeatures[1].Feature)
	}
}

func TestFailure(t *testing.T) {
	exp := Failure("decomposition unavailable")

	if !exp.Failed {
		t.Error("expected Failed to be set")
	}
	if exp.Error != "decomposition unavailable" {
		t.Errorf("Error = %q, want the failure reason", exp.Error)
	}
	if exp.Summary != "No explanation available" {
		t.Errorf("Summary = %q, want 'No explanation available'", exp.Summary)
	}
	if len(exp.TopFeatures) != 0 {
		t.Errorf("expected no top features, got %d", len(exp.TopFeatures))
	}
}

func TestGlobalImportance(t *testing.T) {
	names := []string{"a", "b", "c"}
	weights := []float64{0.1, -2.0, 0.5}

	ranked, err := GlobalImportance(names, weights)
	if err != nil {
		t.Fatalf("GlobalImportance failed: %v", err)
	}

	if ranked[0].Feature != "b" || ranked[1].Feature != "c" || ranked[2].Feature != "a" {
		t.Errorf("unexpected ranking: %s, %s, %s",
			ranked[0].Feature, ranked[1].Feature, ranked[2].Feature)
	}
	if ranked[0].Impact != domain.ImpactDecreasesRisk {
		t.Errorf("negative weight should decrease risk, got %s", ranked[0].Impact)
	}

	t.Run("LengthMismatch", func(t *testing.T) {
		if _, err := GlobalImportance(names, weights[:1]); err == nil {
			t.Error("expected error for length mismatch")
		}
	})
}

func sigmoidMargin(m *model.Logistic, features []float64) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		z += w * features[i]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}
