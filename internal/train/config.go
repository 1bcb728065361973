// Package train runs the epoch loop: batches, loss, backward pass, optimizer
// step, validation, metrics and checkpoints.
package train

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/optim"
)

// Default run parameters.
const (
	DefaultNumEpochs    = 10
	DefaultBatchSize    = 64
	DefaultNumWorkers   = 4
	DefaultSeed         = 42
	DefaultLearningRate = 1.0e-4
)

// TrainingConfig composes the model and optimizer configuration with the run
// parameters. It is immutable for the duration of a run.
type TrainingConfig struct {
	Model     model.ModelConfig `json:"model"`
	Optimizer optim.AdamConfig  `json:"optimizer"`

	NumEpochs    int     `json:"num_epochs"`
	BatchSize    int     `json:"batch_size"`
	NumWorkers   int     `json:"num_workers"`
	Seed         int64   `json:"seed"`
	LearningRate float64 `json:"learning_rate"`

	// CheckpointEvery writes an interval artifact every N epochs; 0 disables.
	CheckpointEvery int `json:"checkpoint_every,omitempty"`

	// ValidationBatchSize defaults to BatchSize when 0.
	ValidationBatchSize int `json:"validation_batch_size,omitempty"`
}

// NewTrainingConfig returns a config with every run parameter at its default:
//   - NumEpochs: 10
//   - BatchSize: 64
//   - NumWorkers: 4
//   - Seed: 42
//   - LearningRate: 1e-4
//   - CheckpointEvery: 0 (final artifact only)
//   - ValidationBatchSize: BatchSize
func NewTrainingConfig(modelCfg model.ModelConfig, optCfg optim.AdamConfig) TrainingConfig {
	return TrainingConfig{
		Model:        modelCfg,
		Optimizer:    optCfg,
		NumEpochs:    DefaultNumEpochs,
		BatchSize:    DefaultBatchSize,
		NumWorkers:   DefaultNumWorkers,
		Seed:         DefaultSeed,
		LearningRate: DefaultLearningRate,
	}
}

// Validate checks every field.
func (c TrainingConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	switch {
	case c.NumEpochs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "num_epochs must be positive, got %d", c.NumEpochs)
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch_size must be positive, got %d", c.BatchSize)
	case c.NumWorkers < 0:
		return errors.Wrapf(ErrInvalidConfig, "num_workers must be non-negative, got %d", c.NumWorkers)
	case c.LearningRate <= 0 || math.IsInf(c.LearningRate, 0) || math.IsNaN(c.LearningRate):
		return errors.Wrapf(ErrInvalidConfig, "learning_rate must be positive and finite, got %g", c.LearningRate)
	case c.CheckpointEvery < 0:
		return errors.Wrapf(ErrInvalidConfig, "checkpoint_every must be non-negative, got %d", c.CheckpointEvery)
	case c.ValidationBatchSize < 0:
		return errors.Wrapf(ErrInvalidConfig, "validation_batch_size must be non-negative, got %d", c.ValidationBatchSize)
	}
	return nil
}

// validBatchSize returns the effective validation batch size.
func (c TrainingConfig) validBatchSize() int {
	if c.ValidationBatchSize > 0 {
		return c.ValidationBatchSize
	}
	return c.BatchSize
}

// Save writes the config as indented JSON.
func (c TrainingConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal training config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// LoadTrainingConfig reads a config written by Save.
func LoadTrainingConfig(path string) (TrainingConfig, error) {
	//nolint:gosec // G304: config path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return TrainingConfig{}, errors.Wrapf(err, "failed to read %s", path)
	}
	var cfg TrainingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return TrainingConfig{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	return cfg, nil
}
