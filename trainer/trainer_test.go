package trainer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/har-ai/go-har/dataset"
	"github.com/har-ai/go-har/spectrogram"
)

// syntheticDataset builds eight single-channel windows of two tone classes
// across two participants, enough to exercise the full loop end to end.
func syntheticDataset() *dataset.Dataset {
	const (
		n       = 8
		samples = 3000
		nperseg = 256
	)

	x := make([]float32, n*samples)
	y := make([]int, n)
	pid := make([]int, n)
	for i := 0; i < n; i++ {
		cls := i % 2
		freq := 8.0
		if cls == 1 {
			freq = 48.0
		}
		for s := 0; s < samples; s++ {
			x[i*samples+s] = float32(math.Sin(2 * math.Pi * freq * float64(s) / nperseg))
		}
		y[i] = cls
		pid[i] = 1 + i/4 // windows 0..3 -> participant 1, 4..7 -> participant 2
	}

	return &dataset.Dataset{
		X: x, Y: y, PID: pid,
		N: n, Channels: 1, Samples: samples,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 1
	cfg.Progress = false
	cfg.TestParticipants = []int{2}
	cfg.Network.BatchSize = 4
	cfg.Network.InitFilters = 1
	cfg.Spectrogram.Progress = false
	return cfg
}

func TestTrainerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full training pass")
	}

	ds := syntheticDataset()
	cfg := testConfig()

	store, _, err := spectrogram.Generate(ds, cfg.Spectrogram, nil)
	require.NoError(t, err)
	defer store.Close()

	tr, err := New(cfg, ds, store, nil)
	require.NoError(t, err)
	defer tr.Close()

	hist, err := tr.Run()
	require.NoError(t, err)

	// One epoch over four training windows at batch 4 is one step.
	require.Len(t, hist.Loss, 1)
	assert.False(t, math.IsNaN(hist.Loss[0]), "loss must stay finite")
	assert.Greater(t, hist.Loss[0], 0.0)

	for _, key := range []string{"train", "test"} {
		require.Len(t, hist.Kappa[key], 1, "%s kappa history has one entry per epoch", key)
		require.Len(t, hist.Accuracy[key], 1)
		assert.GreaterOrEqual(t, hist.Kappa[key][0], -1.0)
		assert.LessOrEqual(t, hist.Kappa[key][0], 1.0)
		assert.GreaterOrEqual(t, hist.Accuracy[key][0], 0.0)
		assert.LessOrEqual(t, hist.Accuracy[key][0], 1.0)
	}
}

func TestNewRejectsInconsistentStore(t *testing.T) {
	ds := syntheticDataset()
	cfg := testConfig()

	store, err := spectrogram.NewStore("", ds.N+1, 1, 129, 126)
	require.NoError(t, err)
	defer store.Close()

	_, err = New(cfg, ds, store, nil)
	assert.Error(t, err, "store and dataset window counts must agree")
}

func TestNewRejectsDegenerateSplit(t *testing.T) {
	ds := syntheticDataset()
	cfg := testConfig()
	cfg.TestParticipants = []int{1, 2} // everything held out

	store, _, err := spectrogram.Generate(ds, cfg.Spectrogram, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = New(cfg, ds, store, nil)
	assert.Error(t, err, "a split with no training windows cannot train")
}
