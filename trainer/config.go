package trainer

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/har-ai/go-har/cnn"
	"github.com/har-ai/go-har/spectrogram"
)

// Config collects every knob of the experiment. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// RawPath is the .npy file of raw windows.
	RawPath string `yaml:"raw_path"`
	// MetaPath is the .npz archive with labels and participant ids.
	MetaPath string `yaml:"meta_path"`
	// OutDir receives plots and reports.
	OutDir string `yaml:"out_dir"`

	// TestParticipants are held out of training entirely.
	TestParticipants []int `yaml:"test_participants"`

	// Epochs is the number of full passes over the training split.
	Epochs int `yaml:"epochs"`
	// Seed fixes shuffling and weight initialization.
	Seed int64 `yaml:"seed"`
	// SampleGridPerClass is the number of example spectrograms rendered per
	// class in the sample grid plot.
	SampleGridPerClass int `yaml:"sample_grid_per_class"`
	// Progress draws terminal progress bars during the long phases.
	Progress bool `yaml:"progress"`

	// Spectrogram controls the STFT and its staging.
	Spectrogram spectrogram.Config `yaml:"spectrogram"`
	// Network controls the CNN and its optimizer. Height, width, input
	// channels and class count are derived from the data at run time.
	Network cnn.Config `yaml:"network"`
}

// DefaultConfig returns the experiment defaults: 10 epochs of batch-32 Adam
// at 1e-3 on 129x126 spectrograms, participants 2 and 3 held out, seed 42.
func DefaultConfig() Config {
	spec := spectrogram.DefaultConfig()
	spec.Progress = true

	return Config{
		RawPath:            "X_raw.npy",
		MetaPath:           "capture24.npz",
		OutDir:             ".",
		TestParticipants:   []int{2, 3},
		Epochs:             10,
		Seed:               42,
		SampleGridPerClass: 10,
		Progress:           true,
		Spectrogram:        spec,
		Network:            cnn.DefaultConfig(),
	}
}

// LoadConfig reads a YAML experiment file over the defaults, so partial
// files only override what they mention.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the trainer cannot honor.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if len(c.TestParticipants) == 0 {
		return errors.New("at least one held-out participant is required")
	}
	if err := c.Spectrogram.Validate(); err != nil {
		return errors.Wrap(err, "spectrogram section")
	}
	if err := c.Network.Validate(); err != nil {
		return errors.Wrap(err, "network section")
	}
	return nil
}
