// Package explain turns classifier attributions into ranked feature
// contributions and a human-readable narrative.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTopK is the number of ranked features included when the
// caller does not specify one.
const DefaultTopK = 5

// Explain ranks the per-feature contributions for one prediction and
// builds the narrative summary. Contributions sum with the base value
// to the predicted probability; ordering is by absolute contribution
// descending, with ties broken by the feature's position in the
// vector.
func Explain(features []float64, names []string, dec domain.Decomposer, probability float64, topK int) (*domain.Explanation, error) {
	contributions, base, err := dec.Decompose(features)
	if err != nil {
		return nil, fmt.Errorf("failed to decompose prediction: %w", err)
	}
	if len(contributions) != len(names) {
		return nil, fmt.Errorf("got %d contributions for %d feature names",
			len(contributions), len(names))
	}

	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > len(contributions) {
		topK = len(contributions)
	}

	order := make([]int, len(contributions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(contributions[order[a]]) > math.Abs(contributions[order[b]])
	})

	top := make([]domain.FeatureContribution, 0, topK)
	for _, i := range order[:topK] {
		impact := domain.ImpactDecreasesRisk
		if contributions[i] > 0 {
			impact = domain.ImpactIncreasesRisk
		}
		top = append(top, domain.FeatureContribution{
			Feature:      names[i],
			Contribution: contributions[i],
			FeatureValue: features[i],
			Impact:       impact,
		})
	}

	return &domain.Explanation{
		BaseValue:   base,
		TopFeatures: top,
		Summary:     summarize(probability, top),
		Probability: probability,
	}, nil
}

// Failure returns the marker explanation recorded when attribution
// cannot be produced. The prediction itself still stands.
func Failure(reason string) *domain.Explanation {
	return &domain.Explanation{
		Failed:  true,
		Error:   reason,
		Summary: "No explanation available",
	}
}

func summarize(probability float64, top []domain.FeatureContribution) string {
	level := "LOW"
	if probability > 0.5 {
		level = "HIGH"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Credit Default Risk: %s (%.1f%% probability)\n\n", level, probability*100)
	b.WriteString("Key factors influencing this decision:\n")
	for i, fc := range top {
		direction := "decreases"
		if fc.Impact == domain.ImpactIncreasesRisk {
			direction = "increases"
		}
		fmt.Fprintf(&b, "%d. %s: %s risk\n", i+1, fc.Feature, direction)
	}
	return b.String()
}

// GlobalImportance ranks features by the absolute magnitude of their
// model weight. With standardized inputs this is the model-wide
// importance ordering.
func GlobalImportance(names []string, weights []float64) ([]domain.FeatureContribution, error) {
	if len(names) != len(weights) {
		return nil, fmt.Errorf("got %d weights for %d feature names", len(weights), len(names))
	}

	ranked := make([]domain.FeatureContribution, len(names))
	for i := range names {
		impact := domain.ImpactDecreasesRisk
		if weights[i] > 0 {
			impact = domain.ImpactIncreasesRisk
		}
		ranked[i] = domain.FeatureContribution{
			Feature:      names[i],
			Contribution: weights[i],
			Impact:       impact,
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return math.Abs(ranked[a].Contribution) > math.Abs(ranked[b].Contribution)
	})
	return ranked, nil
}
