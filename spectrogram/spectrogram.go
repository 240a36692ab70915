// Package spectrogram converts raw accelerometer windows into log-magnitude
// time-frequency images suitable for 2D convolutional classifiers.
//
// Each window channel is run through a short-time Fourier transform with a
// periodic Hann window, per-segment constant detrend and zero extension at
// the boundaries, then compressed with log(|Z| + eps). Computation proceeds
// in chunks and results are staged into a memory-mapped file so peak memory
// stays bounded.
package spectrogram

import (
	"math"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/har-ai/go-har/dataset"
)

// logEps keeps the log-magnitude finite on silent segments.
const logEps = 1e-16

// Config controls the short-time Fourier transform and the staging behavior.
type Config struct {
	// NPerSeg is the segment length of the transform.
	NPerSeg int `yaml:"nperseg"`
	// NOverlap is the overlap between consecutive segments. The hop is
	// NPerSeg-NOverlap.
	NOverlap int `yaml:"noverlap"`
	// ChunkSize is the number of windows transformed per pass.
	ChunkSize int `yaml:"chunk_size"`
	// StagingPath backs the result array. Empty means a temporary file. A
	// non-empty path that already holds an array of the right size is reused
	// without recomputation.
	StagingPath string `yaml:"staging_path"`
	// Progress draws a terminal progress bar during generation.
	Progress bool `yaml:"progress"`
}

// DefaultConfig returns the experiment defaults: 256-sample segments with
// 232 samples of overlap, which turns a 3000-sample window into a 129x126
// image.
func DefaultConfig() Config {
	return Config{
		NPerSeg:   256,
		NOverlap:  232,
		ChunkSize: 4096,
	}
}

// Validate rejects configurations the transform cannot honor.
func (c Config) Validate() error {
	if c.NPerSeg <= 0 {
		return errors.Errorf("nperseg must be positive, got %d", c.NPerSeg)
	}
	if c.NOverlap < 0 || c.NOverlap >= c.NPerSeg {
		return errors.Errorf("noverlap must be in [0, nperseg), got %d", c.NOverlap)
	}
	if c.ChunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// Hop returns the segment step.
func (c Config) Hop() int { return c.NPerSeg - c.NOverlap }

// FreqBins returns the number of frequency rows of the output image.
func (c Config) FreqBins() int { return c.NPerSeg/2 + 1 }

// TimeBins returns the number of time columns for a window of the given
// sample count, accounting for the zero extension at both boundaries.
func (c Config) TimeBins(samples int) int { return samples/c.Hop() + 1 }

// stft carries the reusable scratch state of the transform.
type stft struct {
	cfg    Config
	fft    *fourier.FFT
	window []float64
	winSum float64

	padded []float64
	seg    []float64
	coefs  []complex128
}

func newSTFT(cfg Config, samples int) *stft {
	n := cfg.NPerSeg
	win := make([]float64, n)
	sum := 0.0
	for i := range win {
		// Periodic Hann window.
		win[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
		sum += win[i]
	}

	return &stft{
		cfg:    cfg,
		fft:    fourier.NewFFT(n),
		window: win,
		winSum: sum,
		padded: make([]float64, samples+n),
		seg:    make([]float64, n),
		coefs:  make([]complex128, n/2+1),
	}
}

// transform writes the log-magnitude spectrogram of one signal channel into
// dst, a (FreqBins, TimeBins) row-major plane.
func (s *stft) transform(src []float32, dst []float32) {
	n := s.cfg.NPerSeg
	hop := s.cfg.Hop()
	freqBins := s.cfg.FreqBins()
	timeBins := s.cfg.TimeBins(len(src))

	// Zero-extend by half a segment on both ends so the first and last
	// samples sit at segment centers.
	half := n / 2
	for i := range s.padded {
		s.padded[i] = 0
	}
	for i, v := range src {
		s.padded[half+i] = float64(v)
	}

	scale := 1 / s.winSum
	for t := 0; t < timeBins; t++ {
		seg := s.padded[t*hop : t*hop+n]

		// Constant detrend: remove the segment mean before windowing.
		mean := 0.0
		for _, v := range seg {
			mean += v
		}
		mean /= float64(n)
		for i, v := range seg {
			s.seg[i] = (v - mean) * s.window[i]
		}

		s.fft.Coefficients(s.coefs, s.seg)
		for k := 0; k < freqBins; k++ {
			amp := float32(cmplxAbs(s.coefs[k]) * scale)
			dst[k*timeBins+t] = math32.Log(amp + logEps)
		}
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// Generate computes the spectrogram of every window in ds and stages the
// results. When cfg.StagingPath already holds a complete array of the right
// size, the existing file is mapped and returned without recomputation.
//
// Arguments:
//   - ds: The loaded dataset of raw windows.
//   - cfg: Transform and staging parameters.
//   - log: Sugared logger for phase reporting. May be nil.
//
// Returns:
//   - *Store: The staged (N, Channels, FreqBins, TimeBins) array.
//   - bool: True when an existing staging file was reused.
//   - error: An error if the transform or staging fails.
func Generate(ds *dataset.Dataset, cfg Config, log *zap.SugaredLogger) (*Store, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	freqBins := cfg.FreqBins()
	timeBins := cfg.TimeBins(ds.Samples)

	if cfg.StagingPath != "" {
		if _, err := os.Stat(cfg.StagingPath); err == nil {
			store, err := OpenStore(cfg.StagingPath, ds.N, ds.Channels, freqBins, timeBins)
			if err == nil {
				log.Infow("reusing staged spectrograms",
					"path", cfg.StagingPath, "windows", ds.N)
				return store, true, nil
			}
			log.Warnw("staging file not reusable, regenerating",
				"path", cfg.StagingPath, "reason", err)
		}
	}

	// Stage into a scratch name first so an interrupted run can never be
	// mistaken for a complete array by the reuse check above.
	stagePath := ""
	if cfg.StagingPath != "" {
		stagePath = cfg.StagingPath + ".partial"
	}
	store, err := NewStore(stagePath, ds.N, ds.Channels, freqBins, timeBins)
	if err != nil {
		return nil, false, err
	}

	var bar *pb.ProgressBar
	if cfg.Progress {
		bar = pb.StartNew(ds.N)
	}

	tr := newSTFT(cfg, ds.Samples)
	for start := 0; start < ds.N; start += cfg.ChunkSize {
		end := start + cfg.ChunkSize
		if end > ds.N {
			end = ds.N
		}

		for i := start; i < end; i++ {
			for ch := 0; ch < ds.Channels; ch++ {
				tr.transform(ds.ChannelOf(i, ch), store.Channel(i, ch))
			}
			if bar != nil {
				bar.Increment()
			}
		}

		// Flush per chunk to bound the dirty page set.
		if err := store.Flush(); err != nil {
			store.Close()
			return nil, false, err
		}
	}

	if bar != nil {
		bar.Finish()
	}

	if cfg.StagingPath != "" {
		if err := store.Close(); err != nil {
			return nil, false, err
		}
		if err := os.Rename(stagePath, cfg.StagingPath); err != nil {
			return nil, false, errors.Wrap(err, "publishing staging file")
		}
		store, err = OpenStore(cfg.StagingPath, ds.N, ds.Channels, freqBins, timeBins)
		if err != nil {
			return nil, false, err
		}
	}
	log.Infow("spectrograms staged",
		"windows", ds.N, "shape", []int{ds.Channels, freqBins, timeBins}, "path", store.Path())
	return store, false, nil
}
