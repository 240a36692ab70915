package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedianFilter(t *testing.T) {
	// An isolated spike disappears under a width-3 median.
	in := []float64{1, 1, 100, 1, 1}
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, MedianFilter(in, 3))

	// Window 1 and empty input are pass-throughs.
	assert.Equal(t, in, MedianFilter(in, 1))
	assert.Empty(t, MedianFilter(nil, 3))

	// The input itself is never modified.
	assert.Equal(t, []float64{1, 1, 100, 1, 1}, in)
}

func TestMedianFilterEvenWindow(t *testing.T) {
	// Even windows select the single rank window/2 element rather than
	// averaging the central pair.
	out := MedianFilter([]float64{1, 3, 5, 7}, 2)
	assert.Equal(t, []float64{1, 3, 5, 7}, out)

	out = MedianFilter([]float64{4, 1, 3, 2}, 4)
	// Window of 4 centered at i covers i-2..i+1, reflected at the edges.
	// i=0: {1,4,4,1} -> 4; i=1: {4,4,1,3} -> 4; i=2: {4,1,3,2} -> 3;
	// i=3: {1,3,2,2} -> 2.
	assert.Equal(t, []float64{4, 4, 3, 2}, out)
}

func TestReflectIndex(t *testing.T) {
	assert.Equal(t, 0, reflectIndex(-1, 5))
	assert.Equal(t, 1, reflectIndex(-2, 5))
	assert.Equal(t, 4, reflectIndex(5, 5))
	assert.Equal(t, 3, reflectIndex(6, 5))
	assert.Equal(t, 2, reflectIndex(2, 5))
}

func TestSaveLossPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")

	loss := make([]float64, 500)
	for i := range loss {
		loss[i] = 2.0 / float64(i+1)
	}
	require.NoError(t, SaveLossPlot(path, loss, 100))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveLossPlot(path, nil, 100), "an empty series cannot be plotted")
}

func TestSaveScorePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kappa.png")

	series := map[string][]float64{
		"train": {0.1, 0.4, 0.6},
		"test":  {0.1, 0.3, 0.5},
	}
	require.NoError(t, SaveScorePlot(path, series, "epoch", "kappa"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveScorePlot(path, nil, "epoch", "kappa"))
}
