package train

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/checkpoint"
	"github.com/born-ml/guide/internal/dataset"
	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/nn"
	"github.com/born-ml/guide/internal/optim"
)

// Files written to the artifact directory besides the checkpoint artifact.
const (
	ConfigFile  = "config.json"
	MetricsFile = "metrics.json"
)

// Trainer runs a training configuration on a device.
type Trainer struct {
	Config TrainingConfig
	Device backend.Device
	Logger *slog.Logger

	// Batcher converts samples to batches; zero means dataset.NewMNISTBatcher.
	Batcher *dataset.Batcher

	// ResumeFrom, when set, names an artifact whose parameters replace the
	// fresh initialization. Training continues after the artifact's epoch.
	// Optimizer moments are not persisted and restart at zero.
	ResumeFrom string

	// LogEvery logs training progress every N batches at debug level; 0 disables.
	LogEvery int
}

// Report summarizes a completed run.
type Report struct {
	RunID       string
	ArtifactDir string
	NumParams   int
	InitialLoss float64 // mean training loss before the first update, dropout disabled
	Epochs      []EpochMetrics
}

// Final returns the metrics of the last epoch.
func (r *Report) Final() EpochMetrics {
	if len(r.Epochs) == 0 {
		return EpochMetrics{}
	}
	return r.Epochs[len(r.Epochs)-1]
}

// run holds the mutable state of one Run call.
type run struct {
	*Trainer
	log     *slog.Logger
	dir     string
	clf     *model.Classifier
	opt     *optim.Adam
	batcher dataset.Batcher
	runID   string
	steps   int64
	metrics Metrics
}

// Run trains on trainSrc and validates on validSrc after every epoch.
//
// artifactDir receives config.json, metrics.json, the final checkpoint artifact
// and, when CheckpointEvery is set, checkpoint/epoch-<n>/ artifacts. A batch
// that fails to build, a non-finite loss, gradient or update, or a failed
// checkpoint write aborts the run.
func (t *Trainer) Run(artifactDir string, trainSrc, validSrc dataset.Source) (*Report, error) {
	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t.Device == nil {
		return nil, errors.New("trainer has no device")
	}
	if trainSrc == nil || trainSrc.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "empty training split")
	}
	if validSrc == nil || validSrc.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "empty validation split")
	}

	r, startEpoch, err := t.prepare(artifactDir)
	if err != nil {
		return nil, err
	}
	if startEpoch >= cfg.NumEpochs {
		return nil, errors.Wrapf(ErrInvalidConfig, "resumed artifact already at epoch %d of %d", startEpoch, cfg.NumEpochs)
	}

	trainLoader := &dataset.Loader{
		Source:    trainSrc,
		Batcher:   r.batcher,
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed,
		Workers:   cfg.NumWorkers,
	}
	validLoader := &dataset.Loader{
		Source:    validSrc,
		Batcher:   r.batcher,
		BatchSize: cfg.validBatchSize(),
		Workers:   cfg.NumWorkers,
	}

	report := &Report{RunID: r.runID, ArtifactDir: artifactDir, NumParams: r.clf.NumParams()}
	report.InitialLoss, _, err = r.evaluate(&dataset.Loader{
		Source:    trainSrc,
		Batcher:   r.batcher,
		BatchSize: cfg.validBatchSize(),
		Workers:   cfg.NumWorkers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initial evaluation")
	}

	r.log.Info("training started",
		"run_id", r.runID,
		"device", t.Device.Name(),
		"params", report.NumParams,
		"train_samples", trainSrc.Len(),
		"valid_samples", validSrc.Len(),
		"epochs", cfg.NumEpochs,
		"start_epoch", startEpoch+1,
		"initial_loss", report.InitialLoss)

	for epoch := startEpoch + 1; epoch <= cfg.NumEpochs; epoch++ {
		started := time.Now()
		trainLoss, trainAcc, err := r.trainEpoch(trainLoader, epoch)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d", epoch)
		}
		validLoss, validAcc, err := r.evaluate(validLoader)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		m := EpochMetrics{
			Epoch:         epoch,
			Steps:         r.steps,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValidLoss:     validLoss,
			ValidAccuracy: validAcc,
			Seconds:       time.Since(started).Seconds(),
		}
		report.Epochs = append(report.Epochs, m)
		r.metrics.Epochs = append(r.metrics.Epochs, m)
		if err := r.metrics.write(filepath.Join(artifactDir, MetricsFile)); err != nil {
			return nil, err
		}

		r.log.Info("epoch complete",
			"epoch", epoch,
			"train_loss", trainLoss,
			"train_accuracy", trainAcc,
			"valid_loss", validLoss,
			"valid_accuracy", validAcc,
			"seconds", m.Seconds)

		if cfg.CheckpointEvery > 0 && epoch%cfg.CheckpointEvery == 0 {
			dir := checkpoint.EpochDir(artifactDir, epoch)
			if _, err := checkpoint.Save(dir, r.clf, r.manifest(m, true)); err != nil {
				return nil, errors.Wrapf(err, "epoch %d checkpoint", epoch)
			}
			r.log.Debug("checkpoint written", "dir", dir)
		}
	}

	if _, err := checkpoint.Save(artifactDir, r.clf, r.manifest(report.Final(), false)); err != nil {
		return nil, errors.Wrap(err, "final checkpoint")
	}
	r.log.Info("training complete",
		"artifact_dir", artifactDir,
		"valid_accuracy", report.Final().ValidAccuracy)
	return report, nil
}

// prepare creates the artifact directory, builds the classifier and optimizer,
// and applies ResumeFrom. It returns the last completed epoch.
func (t *Trainer) prepare(artifactDir string) (*run, int, error) {
	cfg := t.Config
	logger := t.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	batcher := dataset.NewMNISTBatcher()
	if t.Batcher != nil {
		batcher = *t.Batcher
	}

	clf, err := model.NewClassifier(cfg.Model, t.Device, cfg.Seed)
	if err != nil {
		return nil, 0, err
	}
	r := &run{
		Trainer: t,
		log:     logger,
		dir:     artifactDir,
		clf:     clf,
		batcher: batcher,
		runID:   checkpoint.NewRunID(),
	}

	startEpoch := 0
	if t.ResumeFrom != "" {
		startEpoch, err = r.resume()
		if err != nil {
			return nil, 0, err
		}
	} else if err := clearArtifacts(artifactDir); err != nil {
		return nil, 0, err
	}

	if err := os.MkdirAll(artifactDir, 0o750); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to create artifact dir %s", artifactDir)
	}
	if err := cfg.Save(filepath.Join(artifactDir, ConfigFile)); err != nil {
		return nil, 0, err
	}

	r.opt = optim.NewAdam(clf.Parameters(), cfg.Optimizer, cfg.LearningRate)
	r.metrics.RunID = r.runID
	return r, startEpoch, nil
}

// resume loads ResumeFrom into the classifier and recovers earlier metrics.
func (r *run) resume() (int, error) {
	loaded, manifest, err := checkpoint.Load(r.ResumeFrom, r.Device)
	if err != nil {
		return 0, errors.Wrap(err, "resume")
	}
	if manifest.Model != r.Config.Model {
		return 0, errors.Wrapf(ErrInvalidConfig, "resume: artifact model %+v differs from config %+v",
			manifest.Model, r.Config.Model)
	}
	if err := r.clf.LoadStateDict(loaded.StateDict()); err != nil {
		return 0, errors.Wrap(err, "resume")
	}
	r.runID = manifest.RunID
	r.steps = manifest.Step

	if prev, err := ReadMetrics(filepath.Join(r.dir, MetricsFile)); err == nil && prev.RunID == manifest.RunID {
		for _, m := range prev.Epochs {
			if m.Epoch <= manifest.Epoch {
				r.metrics.Epochs = append(r.metrics.Epochs, m)
			}
		}
	}

	r.log.Info("resuming",
		"from", r.ResumeFrom,
		"run_id", manifest.RunID,
		"epoch", manifest.Epoch,
		"note", "optimizer moments restart at zero")
	return manifest.Epoch, nil
}

// trainEpoch runs forward, loss, backward and optimizer step over every batch.
func (r *run) trainEpoch(loader *dataset.Loader, epoch int) (loss, accuracy float64, err error) {
	var acc accumulator
	batchIdx := 0
	for batch, err := range loader.Batches(epoch) {
		if err != nil {
			return 0, 0, err
		}

		r.opt.ZeroGrad()
		logits, err := r.clf.Forward(batch.Images, true)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "batch %d forward", batchIdx)
		}
		batchLoss, grad, err := nn.CrossEntropy(logits, batch.Labels)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "batch %d loss", batchIdx)
		}
		if !isFinite(batchLoss) {
			return 0, 0, errors.Wrapf(ErrNumericalInstability, "batch %d: loss is %v", batchIdx, batchLoss)
		}
		if err := r.clf.Backward(grad); err != nil {
			return 0, 0, errors.Wrapf(err, "batch %d backward", batchIdx)
		}
		for _, p := range r.clf.Parameters() {
			if !p.Grad().AllFinite() {
				return 0, 0, errors.Wrapf(ErrNumericalInstability, "batch %d: gradient of %s is not finite", batchIdx, p.Name())
			}
		}
		if err := r.opt.Step(); err != nil {
			if errors.Is(err, optim.ErrNonFinite) {
				return 0, 0, errors.Wrapf(ErrNumericalInstability, "batch %d: %v", batchIdx, err)
			}
			return 0, 0, errors.Wrapf(err, "batch %d step", batchIdx)
		}
		r.steps++

		batchAcc, err := nn.Accuracy(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		acc.add(batchLoss, batchAcc, batch.Size())

		if r.LogEvery > 0 && (batchIdx+1)%r.LogEvery == 0 {
			l, a := acc.mean()
			r.log.Debug("training progress",
				"epoch", epoch,
				"batch", batchIdx+1,
				"batches", loader.NumBatches(),
				"loss", l,
				"accuracy", a)
		}
		batchIdx++
	}

	loss, accuracy = acc.mean()
	return loss, accuracy, nil
}

// evaluate computes mean loss and accuracy with dropout disabled and no updates.
func (r *run) evaluate(loader *dataset.Loader) (loss, accuracy float64, err error) {
	var acc accumulator
	for batch, err := range loader.Batches(0) {
		if err != nil {
			return 0, 0, err
		}
		logits, err := r.clf.Forward(batch.Images, false)
		if err != nil {
			return 0, 0, err
		}
		batchLoss, _, err := nn.CrossEntropy(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		if !isFinite(batchLoss) {
			return 0, 0, errors.Wrapf(ErrNumericalInstability, "loss is %v", batchLoss)
		}
		batchAcc, err := nn.Accuracy(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		acc.add(batchLoss, batchAcc, batch.Size())
	}
	loss, accuracy = acc.mean()
	return loss, accuracy, nil
}

func (r *run) manifest(m EpochMetrics, intermediate bool) checkpoint.Manifest {
	return checkpoint.Manifest{
		Normalization: r.batcher.Norm,
		RunID:         r.runID,
		Epoch:         m.Epoch,
		Step:          r.steps,
		TrainLoss:     m.TrainLoss,
		Intermediate:  intermediate,
	}
}

// clearArtifacts removes the files a previous run left in dir. Other files
// are left alone.
func clearArtifacts(dir string) error {
	for _, name := range []string{
		ConfigFile,
		MetricsFile,
		checkpoint.ManifestFile,
		checkpoint.ParamsFile,
		checkpoint.IntervalDir,
	} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return errors.Wrapf(err, "failed to clear %s", name)
		}
	}
	return nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
