// Command har-train runs the spectrogram activity-recognition experiment:
// it loads the raw accelerometer windows, stages their spectrograms, trains
// the CNN with per-epoch HMM smoothing, and writes metric plots.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"go.uber.org/zap"

	"github.com/har-ai/go-har/dataset"
	"github.com/har-ai/go-har/profiler"
	"github.com/har-ai/go-har/report"
	"github.com/har-ai/go-har/spectrogram"
	"github.com/har-ai/go-har/trainer"
)

// lossFilterWindow is the median filter width applied to the loss curve
// before plotting.
const lossFilterWindow = 100

func main() {
	parser := argparse.NewParser("har-train", "Train a spectrogram CNN with HMM smoothing on wrist accelerometer data.")
	cfgPath := parser.String("c", "config", &argparse.Options{Help: "YAML experiment config. Defaults apply when omitted."})
	rawPath := parser.String("x", "raw", &argparse.Options{Help: "Raw windows .npy file (overrides config)."})
	metaPath := parser.String("d", "data", &argparse.Options{Help: "Labels/participants .npz archive (overrides config)."})
	outDir := parser.String("o", "outdir", &argparse.Options{Help: "Directory for plots (overrides config)."})
	staging := parser.String("m", "staging", &argparse.Options{Help: "Spectrogram staging file, reused across runs (overrides config)."})
	epochs := parser.Int("e", "epochs", &argparse.Options{Help: "Number of training epochs (overrides config).", Default: 0})
	seed := parser.Int("s", "seed", &argparse.Options{Help: "RNG seed (overrides config).", Default: -1})
	quiet := parser.Flag("q", "quiet", &argparse.Options{Help: "Disable progress bars."})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := run(*cfgPath, *rawPath, *metaPath, *outDir, *staging, *epochs, *seed, *quiet, log); err != nil {
		log.Fatalf("experiment failed: %v", err)
	}
}

func run(cfgPath, rawPath, metaPath, outDir, staging string, epochs, seed int, quiet bool, log *zap.SugaredLogger) error {
	cfg := trainer.DefaultConfig()
	if cfgPath != "" {
		var err error
		cfg, err = trainer.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
	}
	if rawPath != "" {
		cfg.RawPath = rawPath
	}
	if metaPath != "" {
		cfg.MetaPath = metaPath
	}
	if outDir != "" {
		cfg.OutDir = outDir
	}
	if staging != "" {
		cfg.Spectrogram.StagingPath = staging
	}
	if epochs > 0 {
		cfg.Epochs = epochs
	}
	if seed >= 0 {
		cfg.Seed = int64(seed)
	}
	if quiet {
		cfg.Progress = false
		cfg.Spectrogram.Progress = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return err
	}

	prof := profiler.New()

	done := prof.Phase("load dataset")
	ds, err := dataset.Load(cfg.RawPath, cfg.MetaPath)
	done()
	if err != nil {
		return err
	}
	log.Infow("dataset loaded",
		"windows", ds.N, "channels", ds.Channels, "samples", ds.Samples,
		"classes", ds.NumClasses())

	done = prof.Phase("generate spectrograms")
	store, reused, err := spectrogram.Generate(ds, cfg.Spectrogram, log)
	done()
	if err != nil {
		return err
	}
	defer store.Close()
	if reused {
		log.Infow("skipped spectrogram generation", "staging", store.Path())
	}

	classNames := dataset.DefaultClassNames
	if ds.NumClasses() != len(classNames) {
		classNames = nil
	}
	gridPath := filepath.Join(cfg.OutDir, "spectrogram.png")
	if err := report.SaveSpectrogramGrid(gridPath, store, ds.Y, classNames, ds.NumClasses(), cfg.SampleGridPerClass); err != nil {
		return err
	}
	log.Infow("sample grid saved", "path", gridPath)

	t, err := trainer.New(cfg, ds, store, log)
	if err != nil {
		return err
	}
	defer t.Close()

	done = prof.Phase("train")
	hist, err := t.Run()
	done()
	if err != nil {
		return err
	}

	lossPath := filepath.Join(cfg.OutDir, "spectro_loss.png")
	if err := report.SaveLossPlot(lossPath, hist.Loss, lossFilterWindow); err != nil {
		return err
	}
	kappaPath := filepath.Join(cfg.OutDir, "spectro_kappa_scores.png")
	if err := report.SaveScorePlot(kappaPath, hist.Kappa, "epoch", "kappa"); err != nil {
		return err
	}
	accPath := filepath.Join(cfg.OutDir, "spectro_accuracy_scores.png")
	if err := report.SaveScorePlot(accPath, hist.Accuracy, "epoch", "accuracy"); err != nil {
		return err
	}
	log.Infow("plots saved", "loss", lossPath, "kappa", kappaPath, "accuracy", accPath)

	last := len(hist.Kappa["test"]) - 1
	log.Infow("final scores",
		"test_kappa", hist.Kappa["test"][last],
		"test_accuracy", hist.Accuracy["test"][last],
		"train_kappa", hist.Kappa["train"][last],
		"train_accuracy", hist.Accuracy["train"][last])

	prof.LogSummary(log)
	return nil
}
