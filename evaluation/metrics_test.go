package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]int{0, 1, 1, 0}, []int{0, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-12)

	_, err = Accuracy([]int{0}, []int{0, 1})
	assert.Error(t, err, "mismatched lengths must be rejected")

	_, err = Accuracy(nil, nil)
	assert.Error(t, err, "empty sequences must be rejected")
}

func TestCohenKappaKnownValue(t *testing.T) {
	// Confusion matrix [[2,0],[1,1]]: po=0.75, pe=0.5, kappa=0.5.
	kappa, err := CohenKappa([]int{0, 0, 1, 1}, []int{0, 0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, kappa, 1e-12)
}

func TestCohenKappaBounds(t *testing.T) {
	perfect, err := CohenKappa([]int{0, 1, 2, 1}, []int{0, 1, 2, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, perfect, 1e-12, "perfect agreement scores 1")

	// Systematic disagreement on two balanced classes scores -1.
	opposite, err := CohenKappa([]int{0, 1, 0, 1}, []int{1, 0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, opposite, 1e-12)
}

func TestCohenKappaDegenerateMarginals(t *testing.T) {
	// A single class on both sides forces agreement; the chance-corrected
	// score is taken as 1 rather than 0/0.
	kappa, err := CohenKappa([]int{2, 2, 2}, []int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, kappa)
}

func TestGroupedScoresAveragePerParticipant(t *testing.T) {
	// Participant 1 scores accuracy 1.0 on two frames, participant 2 scores
	// 0.5 on two frames; the grouped score is the unweighted mean 0.75.
	yTrue := []int{0, 1, 0, 1}
	yPred := []int{0, 1, 0, 0}
	groups := []int{1, 1, 2, 2}

	acc, err := GroupedAccuracy(yTrue, yPred, groups)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-12)
}

func TestGroupedScoresIgnoreGroupSizes(t *testing.T) {
	// Participant 1 contributes six frames, participant 2 only two. The
	// grouped mean still weights both participants equally.
	yTrue := []int{0, 0, 0, 0, 0, 0, 1, 1}
	yPred := []int{0, 0, 0, 0, 0, 0, 0, 0}
	groups := []int{1, 1, 1, 1, 1, 1, 2, 2}

	acc, err := GroupedAccuracy(yTrue, yPred, groups)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, acc, 1e-12, "(1.0 + 0.0) / 2")
}

func TestGroupedFallsBackWhenNil(t *testing.T) {
	acc, err := GroupedAccuracy([]int{0, 1}, []int{0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	_, err = GroupedAccuracy([]int{0, 1}, []int{0, 1}, []int{1})
	assert.Error(t, err, "group slice of the wrong length must be rejected")
}
