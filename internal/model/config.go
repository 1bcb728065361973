// Package model defines the fixed convolutional classifier and its configuration.
package model

import "fmt"

// Architecture constants.
const (
	Conv1Channels = 8
	Conv2Channels = 16
	KernelSize    = 3
	PoolSize      = 8

	// FlattenSize is the width of the first fully connected layer input.
	FlattenSize = Conv2Channels * PoolSize * PoolSize

	// MinInputSize is the smallest height and width two unpadded 3×3
	// convolutions leave a positive extent for.
	MinInputSize = 2*(KernelSize-1) + 1
)

// DefaultDropout is the dropout rate used when none is configured.
const DefaultDropout = 0.5

// ModelConfig fully determines the shape of a freshly initialized Classifier.
type ModelConfig struct {
	NumClasses  int     `json:"num_classes"`
	HiddenSize  int     `json:"hidden_size"`
	DropoutRate float64 `json:"dropout"`
}

// Option customizes a ModelConfig.
type Option func(*ModelConfig)

// WithDropout sets the dropout rate.
func WithDropout(rate float64) Option {
	return func(c *ModelConfig) {
		c.DropoutRate = rate
	}
}

// NewModelConfig returns a config with every option at its default:
//   - DropoutRate: DefaultDropout (0.5)
func NewModelConfig(numClasses, hiddenSize int, opts ...Option) ModelConfig {
	cfg := ModelConfig{
		NumClasses:  numClasses,
		HiddenSize:  hiddenSize,
		DropoutRate: DefaultDropout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate reports ErrInvalidConfig for non-positive sizes or a dropout rate
// outside [0, 1).
func (c ModelConfig) Validate() error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("%w: num_classes must be positive, got %d", ErrInvalidConfig, c.NumClasses)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden_size must be positive, got %d", ErrInvalidConfig, c.HiddenSize)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.DropoutRate)
	}
	return nil
}
