package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, []int{2, 3}, cfg.TestParticipants)
	assert.Equal(t, 32, cfg.Network.BatchSize)
	assert.InDelta(t, 1e-3, cfg.Network.LearnRate, 1e-12)
	assert.Equal(t, 256, cfg.Spectrogram.NPerSeg)
	assert.Equal(t, 232, cfg.Spectrogram.NOverlap)
	assert.True(t, cfg.Progress)
	assert.True(t, cfg.Spectrogram.Progress, "spectrogram generation shows progress by default")
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigSectionProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	body := `
spectrogram:
  progress: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.False(t, cfg.Spectrogram.Progress, "the per-section knob is honored")
	assert.True(t, cfg.Progress, "the top-level default is untouched")
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	body := `
epochs: 3
test_participants: [5]
network:
  batch_size: 16
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Epochs, "mentioned fields are overridden")
	assert.Equal(t, []int{5}, cfg.TestParticipants)
	assert.Equal(t, 16, cfg.Network.BatchSize)
	assert.Equal(t, int64(42), cfg.Seed, "unmentioned fields keep defaults")
	assert.Equal(t, 256, cfg.Spectrogram.NPerSeg)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: -1\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err, "invalid values are rejected on load")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestParticipants = nil
	assert.Error(t, cfg.Validate(), "an empty holdout set cannot be scored")

	cfg = DefaultConfig()
	cfg.Spectrogram.NPerSeg = 0
	assert.Error(t, cfg.Validate())
}
