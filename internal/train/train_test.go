package train

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/guide/internal/backend/cpu"
	"github.com/born-ml/guide/internal/checkpoint"
	"github.com/born-ml/guide/internal/dataset"
	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/optim"
	"github.com/born-ml/guide/internal/tensor"
)

const (
	testClasses = 4
	testSize    = 12
)

func bands(t *testing.T, n int, seed int64) *dataset.InMemory {
	t.Helper()
	src, err := dataset.Synthetic(dataset.SyntheticConfig{
		NumSamples: n,
		NumClasses: testClasses,
		Height:     testSize,
		Width:      testSize,
		Seed:       seed,
		Noise:      32,
	})
	require.NoError(t, err)
	return src
}

func smallConfig() TrainingConfig {
	cfg := NewTrainingConfig(
		model.NewModelConfig(testClasses, 32, model.WithDropout(0.1)),
		optim.NewAdamConfig(),
	)
	cfg.NumEpochs = 3
	cfg.BatchSize = 16
	cfg.NumWorkers = 2
	cfg.LearningRate = 1e-3
	return cfg
}

func newTrainer(cfg TrainingConfig) *Trainer {
	return &Trainer{Config: cfg, Device: cpu.New()}
}

type failingSource struct {
	n int
}

func (s failingSource) Len() int { return s.n }

func (s failingSource) Get(index int) (dataset.Sample, error) {
	return dataset.Sample{}, fmt.Errorf("%w: %d", dataset.ErrIndexOutOfRange, index+s.n)
}

func TestRunLearnsSyntheticBands(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()

	report, err := newTrainer(cfg).Run(dir, bands(t, 192, 1), bands(t, 64, 2))
	require.NoError(t, err)

	require.Len(t, report.Epochs, cfg.NumEpochs)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, dir, report.ArtifactDir)
	assert.Positive(t, report.NumParams)

	final := report.Final()
	assert.Equal(t, cfg.NumEpochs, final.Epoch)
	assert.Equal(t, int64(cfg.NumEpochs*12), final.Steps)
	assert.Less(t, final.TrainLoss, report.InitialLoss)
	assert.Less(t, final.ValidLoss, report.InitialLoss)
	assert.Greater(t, final.ValidAccuracy, 1.0/testClasses)

	for _, name := range []string{ConfigFile, MetricsFile, checkpoint.ManifestFile, checkpoint.ParamsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	manifest, err := checkpoint.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, manifest.RunID)
	assert.Equal(t, cfg.NumEpochs, manifest.Epoch)
	assert.Equal(t, final.Steps, manifest.Step)
	assert.Equal(t, cfg.Model, manifest.Model)
	assert.False(t, manifest.Intermediate)
	assert.Equal(t, dataset.NewMNISTBatcher().Norm, manifest.Normalization)

	metrics, err := ReadMetrics(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, metrics.RunID)
	assert.Equal(t, report.Epochs, metrics.Epochs)

	saved, err := LoadTrainingConfig(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, cfg, saved)
}

func TestRunDeterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.NumEpochs = 1
	train, valid := bands(t, 64, 3), bands(t, 32, 4)

	a, err := newTrainer(cfg).Run(t.TempDir(), train, valid)
	require.NoError(t, err)
	b, err := newTrainer(cfg).Run(t.TempDir(), train, valid)
	require.NoError(t, err)

	assert.Equal(t, a.InitialLoss, b.InitialLoss)
	assert.Equal(t, a.Final().TrainLoss, b.Final().TrainLoss)
	assert.Equal(t, a.Final().ValidLoss, b.Final().ValidLoss)
}

func TestRunNonFiniteInput(t *testing.T) {
	dir := t.TempDir()
	src := bands(t, 32, 5)
	samples := make([]dataset.Sample, src.Len())
	for i := range samples {
		s, err := src.Get(i)
		require.NoError(t, err)
		samples[i] = s
	}
	poisoned := append([]float32(nil), samples[3].Image...)
	poisoned[0] = float32(math.NaN())
	samples[3].Image = poisoned

	_, err := newTrainer(smallConfig()).Run(dir, dataset.NewInMemory(samples), bands(t, 16, 6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumericalInstability), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, checkpoint.ManifestFile))
}

func TestRunMixedSampleSizes(t *testing.T) {
	dir := t.TempDir()
	samples := []dataset.Sample{
		{Image: make([]float32, testSize*testSize), Height: testSize, Width: testSize, Label: 0},
		{Image: make([]float32, 10*10), Height: 10, Width: 10, Label: 1},
	}

	_, err := newTrainer(smallConfig()).Run(dir, dataset.NewInMemory(samples), bands(t, 16, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, checkpoint.ManifestFile))
}

func TestRunSourceError(t *testing.T) {
	_, err := newTrainer(smallConfig()).Run(t.TempDir(), failingSource{n: 8}, bands(t, 16, 8))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataset.ErrIndexOutOfRange), "got %v", err)
}

func TestRunInvalidLabel(t *testing.T) {
	src := bands(t, 16, 9)
	samples := make([]dataset.Sample, src.Len())
	for i := range samples {
		s, err := src.Get(i)
		require.NoError(t, err)
		samples[i] = s
	}
	samples[0].Label = testClasses

	_, err := newTrainer(smallConfig()).Run(t.TempDir(), dataset.NewInMemory(samples), bands(t, 16, 10))
	require.Error(t, err)
}

func TestRunRejectsEmptyValidation(t *testing.T) {
	_, err := newTrainer(smallConfig()).Run(t.TempDir(), bands(t, 16, 11), dataset.NewInMemory(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.BatchSize = 0
	_, err := newTrainer(cfg).Run(t.TempDir(), bands(t, 16, 12), bands(t, 16, 13))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg = smallConfig()
	cfg.Model.NumClasses = 0
	_, err = newTrainer(cfg).Run(t.TempDir(), bands(t, 16, 12), bands(t, 16, 13))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestRunIntervalCheckpoints(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	cfg.NumEpochs = 2
	cfg.CheckpointEvery = 1

	report, err := newTrainer(cfg).Run(dir, bands(t, 48, 14), bands(t, 16, 15))
	require.NoError(t, err)

	for epoch := 1; epoch <= 2; epoch++ {
		manifest, err := checkpoint.ReadManifest(checkpoint.EpochDir(dir, epoch))
		require.NoError(t, err)
		assert.Equal(t, epoch, manifest.Epoch)
		assert.True(t, manifest.Intermediate)
		assert.Equal(t, report.RunID, manifest.RunID)
	}

	latest, epoch, err := checkpoint.Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, epoch)
	assert.Equal(t, checkpoint.EpochDir(dir, 2), latest)
}

func TestRunClearsPreviousArtifacts(t *testing.T) {
	dir := t.TempDir()
	stale := checkpoint.EpochDir(dir, 9)
	require.NoError(t, os.MkdirAll(stale, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stale, checkpoint.ManifestFile), []byte("{}"), 0o600))
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o600))

	cfg := smallConfig()
	cfg.NumEpochs = 1
	_, err := newTrainer(cfg).Run(dir, bands(t, 32, 16), bands(t, 16, 17))
	require.NoError(t, err)

	assert.NoDirExists(t, stale)
	assert.FileExists(t, keep)
}

func TestRunResume(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	cfg.NumEpochs = 2
	train, valid := bands(t, 48, 18), bands(t, 16, 19)

	first, err := newTrainer(cfg).Run(dir, train, valid)
	require.NoError(t, err)

	cfg.NumEpochs = 3
	trainer := newTrainer(cfg)
	trainer.ResumeFrom = dir
	second, err := trainer.Run(dir, train, valid)
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	require.Len(t, second.Epochs, 1)
	assert.Equal(t, 3, second.Final().Epoch)
	assert.Equal(t, first.Final().Steps+3, second.Final().Steps)

	metrics, err := ReadMetrics(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	require.Len(t, metrics.Epochs, 3)
	assert.Equal(t, first.Epochs, metrics.Epochs[:2])

	manifest, err := checkpoint.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.Epoch)
}

func TestRunResumeFinished(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	cfg.NumEpochs = 1
	train, valid := bands(t, 16, 20), bands(t, 16, 21)
	_, err := newTrainer(cfg).Run(dir, train, valid)
	require.NoError(t, err)

	trainer := newTrainer(cfg)
	trainer.ResumeFrom = dir
	_, err = trainer.Run(dir, train, valid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRunResumeModelMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	cfg.NumEpochs = 1
	train, valid := bands(t, 16, 22), bands(t, 16, 23)
	_, err := newTrainer(cfg).Run(dir, train, valid)
	require.NoError(t, err)

	cfg.NumEpochs = 2
	cfg.Model.HiddenSize = 16
	trainer := newTrainer(cfg)
	trainer.ResumeFrom = dir
	_, err = trainer.Run(t.TempDir(), train, valid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRunResumeMissing(t *testing.T) {
	cfg := smallConfig()
	trainer := newTrainer(cfg)
	trainer.ResumeFrom = filepath.Join(t.TempDir(), "absent")
	_, err := trainer.Run(t.TempDir(), bands(t, 16, 24), bands(t, 16, 25))
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrCheckpointNotFound))
}

func TestNewTrainingConfigDefaults(t *testing.T) {
	cfg := NewTrainingConfig(model.NewModelConfig(10, 512), optim.NewAdamConfig())

	assert.Equal(t, 10, cfg.NumEpochs)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.InDelta(t, 1e-4, cfg.LearningRate, 1e-12)
	assert.Zero(t, cfg.CheckpointEvery)
	assert.Equal(t, 64, cfg.validBatchSize())
	assert.NoError(t, cfg.Validate())

	cfg.ValidationBatchSize = 256
	assert.Equal(t, 256, cfg.validBatchSize())
}

func TestTrainingConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainingConfig)
	}{
		{"zero epochs", func(c *TrainingConfig) { c.NumEpochs = 0 }},
		{"negative workers", func(c *TrainingConfig) { c.NumWorkers = -1 }},
		{"zero learning rate", func(c *TrainingConfig) { c.LearningRate = 0 }},
		{"nan learning rate", func(c *TrainingConfig) { c.LearningRate = math.NaN() }},
		{"negative checkpoint interval", func(c *TrainingConfig) { c.CheckpointEvery = -1 }},
		{"negative validation batch", func(c *TrainingConfig) { c.ValidationBatchSize = -2 }},
		{"bad beta", func(c *TrainingConfig) { c.Optimizer.Beta1 = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestTrainingConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	cfg := smallConfig()
	cfg.CheckpointEvery = 2

	require.NoError(t, cfg.Save(path))
	loaded, err := LoadTrainingConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadTrainingConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestAccumulatorWeightsBySamples(t *testing.T) {
	var acc accumulator
	loss, accuracy := acc.mean()
	assert.Zero(t, loss)
	assert.Zero(t, accuracy)

	acc.add(2, 1, 3)
	acc.add(4, 0, 1)
	loss, accuracy = acc.mean()
	assert.InDelta(t, 2.5, loss, 1e-9)
	assert.InDelta(t, 0.75, accuracy, 1e-9)
}
