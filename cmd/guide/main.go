// Package main is the guide CLI: train the MNIST classifier, or classify one
// test image with the trained artifact.
//
// Environment:
//
//	GUIDE_ARTIFACT_DIR  artifact directory (default /tmp/guide)
//	GUIDE_DATA_DIR      directory holding the MNIST IDX files (default ./data)
//	GUIDE_SYNTHETIC=1   use generated band images instead of MNIST
//	GUIDE_DEVICE        cpu (default), webgpu or auto
//	GUIDE_DEBUG=1       debug logging and stack traces on failure
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/backend/cpu"
	"github.com/born-ml/guide/internal/backend/webgpu"
	"github.com/born-ml/guide/internal/dataset"
	"github.com/born-ml/guide/internal/infer"
	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/optim"
	"github.com/born-ml/guide/internal/train"
)

const (
	defaultArtifactDir = "/tmp/guide"
	defaultDataDir     = "./data"

	// inferIndex is the test split sample classified by the infer command.
	inferIndex = 12

	syntheticSeed = 7
)

const usage = `Usage: guide <command>

Commands:
  train    train the classifier and write the artifact
  infer    classify test image 12 with the trained artifact
`

// app carries everything a command needs from the process.
type app struct {
	getenv func(string) string
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger

	// trainingConfig returns the configuration used by the train command.
	trainingConfig func() train.TrainingConfig

	// Synthetic split sizes for GUIDE_SYNTHETIC=1.
	syntheticTrain int
	syntheticTest  int
}

func main() {
	os.Exit(run(os.Args[1:], newApp(os.Getenv, os.Stdout, os.Stderr)))
}

func newApp(getenv func(string) string, stdout, stderr io.Writer) *app {
	level := slog.LevelInfo
	if getenv("GUIDE_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return &app{
		getenv: getenv,
		stdout: stdout,
		stderr: stderr,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		trainingConfig: func() train.TrainingConfig {
			return train.NewTrainingConfig(model.NewModelConfig(10, 512), optim.NewAdamConfig())
		},
		syntheticTrain: 6000,
		syntheticTest:  1000,
	}
}

func run(args []string, a *app) int {
	if len(args) == 0 {
		fmt.Fprint(a.stdout, usage)
		return 0
	}

	var err error
	switch args[0] {
	case "train":
		err = a.train()
	case "infer":
		err = a.infer()
	default:
		fmt.Fprintf(a.stdout, "invalid command %q\n\n", args[0])
		fmt.Fprint(a.stdout, usage)
		return 0
	}

	if err != nil {
		if a.getenv("GUIDE_DEBUG") == "1" {
			fmt.Fprintf(a.stderr, "guide %s: %+v\n", args[0], err)
		} else {
			fmt.Fprintf(a.stderr, "guide %s: %v\n", args[0], err)
		}
		return 1
	}
	return 0
}

func (a *app) train() error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	defer dev.Release()

	trainSrc, err := a.split(dataset.SplitTrain)
	if err != nil {
		return err
	}
	testSrc, err := a.split(dataset.SplitTest)
	if err != nil {
		return err
	}

	trainer := &train.Trainer{
		Config:   a.trainingConfig(),
		Device:   dev,
		Logger:   a.log,
		LogEvery: 50,
	}
	report, err := trainer.Run(a.artifactDir(), trainSrc, testSrc)
	if err != nil {
		return err
	}

	final := report.Final()
	fmt.Fprintf(a.stdout, "Trained %d epochs: train loss %.4f, valid loss %.4f, valid accuracy %.2f%%\n",
		final.Epoch, final.TrainLoss, final.ValidLoss, 100*final.ValidAccuracy)
	fmt.Fprintf(a.stdout, "Artifact written to %s\n", report.ArtifactDir)
	return nil
}

func (a *app) infer() error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	defer dev.Release()

	testSrc, err := a.split(dataset.SplitTest)
	if err != nil {
		return err
	}
	sample, err := testSrc.Get(inferIndex)
	if err != nil {
		return errors.Wrap(err, "failed to read test sample")
	}

	pred, err := infer.Infer(a.artifactDir(), dev, sample)
	if err != nil {
		return err
	}
	a.log.Debug("prediction", "confidence", pred.Confidence, "probabilities", pred.Probabilities)
	fmt.Fprintf(a.stdout, "Predicted %d Expected %d Confidence %.4f\n", pred.Label, pred.Expected, pred.Confidence)
	return nil
}

func (a *app) artifactDir() string {
	if dir := a.getenv("GUIDE_ARTIFACT_DIR"); dir != "" {
		return dir
	}
	return defaultArtifactDir
}

func (a *app) split(split string) (dataset.Source, error) {
	if a.getenv("GUIDE_SYNTHETIC") == "1" {
		n, seed := a.syntheticTrain, int64(syntheticSeed)
		if split == dataset.SplitTest {
			n, seed = a.syntheticTest, syntheticSeed+1
		}
		src, err := dataset.Synthetic(dataset.NewSyntheticConfig(n, seed))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return src, nil
	}

	dir := a.getenv("GUIDE_DATA_DIR")
	if dir == "" {
		dir = defaultDataDir
	}
	src, err := dataset.LoadMNIST(dir, split)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load MNIST %s split from %s", split, dir)
	}
	return src, nil
}

func (a *app) device() (backend.Device, error) {
	switch name := a.getenv("GUIDE_DEVICE"); name {
	case "", "cpu":
		return cpu.New(), nil
	case "webgpu":
		dev, err := webgpu.New()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return dev, nil
	case "auto":
		if dev, err := webgpu.New(); err == nil {
			return dev, nil
		}
		a.log.Info("webgpu unavailable, using cpu")
		return cpu.New(), nil
	default:
		return nil, errors.Errorf("unknown device %q (want cpu, webgpu or auto)", name)
	}
}
