// Package trainer orchestrates the experiment: mini-batch gradient descent
// on the CNN, per-epoch HMM refitting, and participant-grouped scoring of
// the smoothed predictions.
package trainer

import (
	"math/rand"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/har-ai/go-har/cnn"
	"github.com/har-ai/go-har/dataset"
	"github.com/har-ai/go-har/evaluation"
	"github.com/har-ai/go-har/hmm"
	"github.com/har-ai/go-har/spectrogram"
)

// History records the metric trajectories of a run. Loss has one entry per
// optimizer step; Kappa and Accuracy have one entry per epoch under the
// "train" and "test" keys.
type History struct {
	Loss     []float64
	Kappa    map[string][]float64
	Accuracy map[string][]float64
}

func newHistory() *History {
	return &History{
		Kappa:    map[string][]float64{"train": {}, "test": {}},
		Accuracy: map[string][]float64{"train": {}, "test": {}},
	}
}

// Trainer drives the epoch loop over a staged spectrogram store.
type Trainer struct {
	cfg   Config
	ds    *dataset.Dataset
	store *spectrogram.Store
	net   *cnn.Network
	rng   *rand.Rand
	log   *zap.SugaredLogger

	trainIdx, testIdx []int
	trainY, testY     []int
	trainPID, testPID []int

	batchX []float32
	batchY []int
}

// New splits the dataset by participant, derives the network input shape
// from the staged spectrograms and builds the CNN.
//
// Arguments:
//   - cfg: Validated experiment configuration.
//   - ds: The loaded dataset (labels and participant ids are used here).
//   - store: Staged spectrogram images for every window of ds.
//   - log: Sugared logger. May be nil.
//
// Returns:
//   - *Trainer: Ready to Run.
//   - error: An error on inconsistent inputs or a rejected architecture.
func New(cfg Config, ds *dataset.Dataset, store *spectrogram.Store, log *zap.SugaredLogger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	n, c, h, w := store.Dims()
	if n != ds.N {
		return nil, errors.Errorf("store holds %d windows, dataset %d", n, ds.N)
	}

	trainIdx, testIdx := ds.SplitByParticipant(cfg.TestParticipants)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, errors.Errorf("degenerate split: %d train / %d test windows", len(trainIdx), len(testIdx))
	}

	netCfg := cfg.Network
	netCfg.InChannels = c
	netCfg.Height = h
	netCfg.Width = w
	netCfg.NumClasses = ds.NumClasses()

	rng := rand.New(rand.NewSource(cfg.Seed))
	net, err := cnn.New(netCfg, rng)
	if err != nil {
		return nil, errors.Wrap(err, "building network")
	}
	log.Infow("participant split",
		"train_windows", len(trainIdx), "test_windows", len(testIdx),
		"held_out", cfg.TestParticipants, "classes", netCfg.NumClasses)

	return &Trainer{
		cfg:      cfg,
		ds:       ds,
		store:    store,
		net:      net,
		rng:      rng,
		log:      log,
		trainIdx: trainIdx,
		testIdx:  testIdx,
		trainY:   ds.LabelsAt(trainIdx),
		testY:    ds.LabelsAt(testIdx),
		trainPID: ds.ParticipantsAt(trainIdx),
		testPID:  ds.ParticipantsAt(testIdx),
		batchX:   make([]float32, netCfg.BatchSize*store.WindowSize()),
		batchY:   make([]int, netCfg.BatchSize),
	}, nil
}

// Run executes the configured number of epochs. After every epoch an HMM is
// refit from the network's training-split probabilities and both splits are
// scored on the smoothed predictions.
func (t *Trainer) Run() (*History, error) {
	hist := newHistory()

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		losses, err := t.trainEpoch()
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d", epoch)
		}
		hist.Loss = append(hist.Loss, losses...)

		trainProbs, err := t.forwardByBatches(t.trainIdx)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d: training split forward pass", epoch)
		}
		model, err := hmm.Fit(trainProbs, t.trainY, t.net.Config().NumClasses)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d: fitting HMM", epoch)
		}

		trainKappa, trainAcc, err := t.score(model, trainProbs, t.trainY, t.trainPID)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d: scoring training split", epoch)
		}

		testProbs, err := t.forwardByBatches(t.testIdx)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d: test split forward pass", epoch)
		}
		testKappa, testAcc, err := t.score(model, testProbs, t.testY, t.testPID)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d: scoring test split", epoch)
		}

		hist.Kappa["train"] = append(hist.Kappa["train"], trainKappa)
		hist.Kappa["test"] = append(hist.Kappa["test"], testKappa)
		hist.Accuracy["train"] = append(hist.Accuracy["train"], trainAcc)
		hist.Accuracy["test"] = append(hist.Accuracy["test"], testAcc)

		t.log.Infow("epoch complete",
			"epoch", epoch,
			"mean_loss", mean(losses),
			"train_kappa", trainKappa, "test_kappa", testKappa,
			"train_accuracy", trainAcc, "test_accuracy", testAcc)
	}

	return hist, nil
}

// trainEpoch runs one shuffled pass of mini-batch gradient descent and
// returns the per-iteration losses. The trailing partial batch is dropped;
// the graph's batch dimension is fixed.
func (t *Trainer) trainEpoch() ([]float64, error) {
	batch := t.net.BatchSize()

	order := make([]int, len(t.trainIdx))
	copy(order, t.trainIdx)
	t.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	steps := len(order) / batch
	var bar *pb.ProgressBar
	if t.cfg.Progress {
		bar = pb.StartNew(steps)
	}

	losses := make([]float64, 0, steps)
	for s := 0; s < steps; s++ {
		idx := order[s*batch : (s+1)*batch]
		if err := t.store.Gather(idx, t.batchX); err != nil {
			return nil, err
		}
		for i, j := range idx {
			t.batchY[i] = t.ds.Y[j]
		}

		loss, err := t.net.Step(t.batchX, t.batchY)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", s)
		}
		losses = append(losses, float64(loss))
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return losses, nil
}

// forwardByBatches runs inference over the listed windows in graph-sized
// batches, padding the final batch by repetition and trimming the surplus.
// Batchnorm uses running statistics for the duration of the pass.
func (t *Trainer) forwardByBatches(idx []int) (*mat.Dense, error) {
	t.net.SetTraining(false)
	defer t.net.SetTraining(true)

	batch := t.net.BatchSize()
	classes := t.net.Config().NumClasses
	out := mat.NewDense(len(idx), classes, nil)

	padded := make([]int, batch)
	for start := 0; start < len(idx); start += batch {
		end := start + batch
		if end > len(idx) {
			end = len(idx)
		}
		m := copy(padded, idx[start:end])
		for i := m; i < batch; i++ {
			padded[i] = idx[end-1]
		}

		if err := t.store.Gather(padded, t.batchX); err != nil {
			return nil, err
		}
		probs, err := t.net.Predict(t.batchX)
		if err != nil {
			return nil, errors.Wrapf(err, "predicting windows %d..%d", start, end)
		}

		for i := 0; i < m; i++ {
			for j := 0; j < classes; j++ {
				out.Set(start+i, j, float64(probs[i*classes+j]))
			}
		}
	}
	return out, nil
}

// score smooths the argmax predictions with the HMM and computes the
// participant-grouped agreement metrics.
func (t *Trainer) score(model *hmm.Model, probs *mat.Dense, yTrue, pids []int) (kappa, accuracy float64, err error) {
	smoothed := model.Smooth(probs)

	kappa, err = evaluation.GroupedKappa(yTrue, smoothed, pids)
	if err != nil {
		return 0, 0, err
	}
	accuracy, err = evaluation.GroupedAccuracy(yTrue, smoothed, pids)
	if err != nil {
		return 0, 0, err
	}
	return kappa, accuracy, nil
}

// Close releases the network resources.
func (t *Trainer) Close() error {
	return t.net.Close()
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}
