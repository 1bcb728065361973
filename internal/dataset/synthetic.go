package dataset

import (
	"fmt"
	"math/rand"
)

// SyntheticConfig describes a generated dataset of separable class patterns.
type SyntheticConfig struct {
	NumSamples int
	NumClasses int
	Height     int
	Width      int
	Seed       int64

	// ClassWeights biases how often each class is drawn. Nil means uniform.
	ClassWeights []float64

	// Noise is the maximum background intensity in [0, 255).
	Noise float32
}

// NewSyntheticConfig returns an MNIST-shaped config: 28×28 images, 10 classes.
func NewSyntheticConfig(numSamples int, seed int64) SyntheticConfig {
	return SyntheticConfig{
		NumSamples: numSamples,
		NumClasses: 10,
		Height:     28,
		Width:      28,
		Seed:       seed,
		Noise:      32,
	}
}

// Synthetic generates an in-memory dataset where class c is a bright horizontal
// band covering rows [c*H/K, (c+1)*H/K) over a noisy background.
func Synthetic(cfg SyntheticConfig) (*InMemory, error) {
	if cfg.NumSamples <= 0 || cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset: %d samples, %d classes", cfg.NumSamples, cfg.NumClasses)
	}
	if cfg.Height < cfg.NumClasses || cfg.Width <= 0 {
		return nil, fmt.Errorf("invalid synthetic image size %dx%d for %d classes", cfg.Height, cfg.Width, cfg.NumClasses)
	}
	if cfg.ClassWeights != nil && len(cfg.ClassWeights) != cfg.NumClasses {
		return nil, fmt.Errorf("got %d class weights for %d classes", len(cfg.ClassWeights), cfg.NumClasses)
	}

	cumulative, err := cumulativeWeights(cfg.ClassWeights, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // Using math/rand for reproducible fixtures (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))
	samples := make([]Sample, cfg.NumSamples)
	for i := range samples {
		label := drawClass(rng, cumulative)
		samples[i] = Sample{
			Image:  bandImage(rng, cfg, label),
			Height: cfg.Height,
			Width:  cfg.Width,
			Label:  label,
		}
	}
	return NewInMemory(samples), nil
}

func cumulativeWeights(weights []float64, numClasses int) ([]float64, error) {
	cumulative := make([]float64, numClasses)
	total := 0.0
	for c := range numClasses {
		w := 1.0
		if weights != nil {
			w = weights[c]
		}
		if w < 0 {
			return nil, fmt.Errorf("negative weight %g for class %d", w, c)
		}
		total += w
		cumulative[c] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("class weights sum to zero")
	}
	for c := range cumulative {
		cumulative[c] /= total
	}
	return cumulative, nil
}

func drawClass(rng *rand.Rand, cumulative []float64) int {
	u := rng.Float64()
	for c, edge := range cumulative {
		if u < edge {
			return c
		}
	}
	return len(cumulative) - 1
}

func bandImage(rng *rand.Rand, cfg SyntheticConfig, label int) []float32 {
	img := make([]float32, cfg.Height*cfg.Width)
	top := label * cfg.Height / cfg.NumClasses
	bottom := (label + 1) * cfg.Height / cfg.NumClasses
	for y := range cfg.Height {
		row := img[y*cfg.Width : (y+1)*cfg.Width]
		for x := range row {
			if y >= top && y < bottom {
				row[x] = 255
			} else {
				row[x] = rng.Float32() * cfg.Noise
			}
		}
	}
	return img
}
