// Package evaluation scores smoothed predictions against ground truth with
// accuracy and Cohen's kappa, optionally averaged per participant so large
// recordings cannot dominate the score.
package evaluation

import (
	"sort"

	"github.com/pkg/errors"
)

// Accuracy returns the fraction of matching predictions.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, errors.Errorf("length mismatch: %d truths vs %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return 0, errors.New("cannot score an empty sequence")
	}

	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue)), nil
}

// CohenKappa returns the chance-corrected agreement between truth and
// prediction. A kappa of 1 is perfect agreement, 0 is chance level.
func CohenKappa(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, errors.Errorf("length mismatch: %d truths vs %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return 0, errors.New("cannot score an empty sequence")
	}

	k := 0
	for i := range yTrue {
		if yTrue[i] >= k {
			k = yTrue[i] + 1
		}
		if yPred[i] >= k {
			k = yPred[i] + 1
		}
	}

	confusion := make([]float64, k*k)
	for i := range yTrue {
		confusion[yTrue[i]*k+yPred[i]]++
	}

	n := float64(len(yTrue))
	var po, pe float64
	for i := 0; i < k; i++ {
		po += confusion[i*k+i] / n

		var rowSum, colSum float64
		for j := 0; j < k; j++ {
			rowSum += confusion[i*k+j]
			colSum += confusion[j*k+i]
		}
		pe += (rowSum / n) * (colSum / n)
	}

	if 1-pe == 0 {
		// Both marginals concentrated on one class. That forces total
		// agreement, so report perfect agreement instead of 0/0.
		return 1, nil
	}
	return (po - pe) / (1 - pe), nil
}

// GroupedAccuracy averages per-participant accuracy over the unique
// participant ids in groups. A nil group slice falls back to the pooled
// score.
func GroupedAccuracy(yTrue, yPred, groups []int) (float64, error) {
	return grouped(yTrue, yPred, groups, Accuracy)
}

// GroupedKappa averages per-participant kappa over the unique participant
// ids in groups. A nil group slice falls back to the pooled score.
func GroupedKappa(yTrue, yPred, groups []int) (float64, error) {
	return grouped(yTrue, yPred, groups, CohenKappa)
}

func grouped(yTrue, yPred, groups []int, score func([]int, []int) (float64, error)) (float64, error) {
	if groups == nil {
		return score(yTrue, yPred)
	}
	if len(groups) != len(yTrue) {
		return 0, errors.Errorf("length mismatch: %d groups vs %d truths", len(groups), len(yTrue))
	}

	byGroup := make(map[int][]int)
	for i, g := range groups {
		byGroup[g] = append(byGroup[g], i)
	}

	ids := make([]int, 0, len(byGroup))
	for g := range byGroup {
		ids = append(ids, g)
	}
	sort.Ints(ids)

	total := 0.0
	for _, g := range ids {
		idx := byGroup[g]
		t := make([]int, len(idx))
		p := make([]int, len(idx))
		for i, j := range idx {
			t[i] = yTrue[j]
			p[i] = yPred[j]
		}
		s, err := score(t, p)
		if err != nil {
			return 0, errors.Wrapf(err, "scoring participant %d", g)
		}
		total += s
	}
	return total / float64(len(ids)), nil
}
