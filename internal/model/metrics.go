package model

import "sort"

// Metrics holds holdout evaluation results recorded alongside a
// trained artifact.
type Metrics struct {
	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc"`
	Samples  int     `json:"samples"`
}

// Accuracy is the fraction of predictions on the correct side of 0.5.
func Accuracy(probs []float64, labels []int) float64 {
	if len(probs) == 0 {
		return 0
	}
	var correct int
	for i, p := range probs {
		predicted := 0
		if p > 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(probs))
}

// AUC computes the area under the ROC curve via the rank-sum
// formulation, with midranks for tied scores. Returns 0.5 when either
// class is absent.
func AUC(probs []float64, labels []int) float64 {
	n := len(probs)
	if n == 0 {
		return 0.5
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[idx[j]] == probs[idx[i]] {
			j++
		}
		// Midrank across the tie group, 1-based.
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = mid
		}
		i = j
	}

	var positives, rankSum float64
	for i, label := range labels {
		if label == 1 {
			positives++
			rankSum += ranks[i]
		}
	}
	negatives := float64(n) - positives
	if positives == 0 || negatives == 0 {
		return 0.5
	}

	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}
