// Package dataset supplies labeled image samples and turns groups of them
// into batches.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrIndexOutOfRange is returned by a Source for an index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("sample index out of range")

// Sample is one labeled image: a Height×Width grid of intensities in [0, 255]
// stored row-major, and a class label in [0, num_classes).
type Sample struct {
	Image  []float32
	Height int
	Width  int
	Label  int
}

// Source supplies samples by index. Implementations are read-only.
type Source interface {
	Len() int
	Get(index int) (Sample, error)
}

// InMemory is a Source backed by a slice.
type InMemory struct {
	samples []Sample
}

// NewInMemory wraps samples in a Source. The slice is not copied.
func NewInMemory(samples []Sample) *InMemory {
	return &InMemory{samples: samples}
}

// Len returns the number of samples.
func (s *InMemory) Len() int {
	return len(s.samples)
}

// Get returns the sample at index.
func (s *InMemory) Get(index int) (Sample, error) {
	if index < 0 || index >= len(s.samples) {
		return Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(s.samples))
	}
	return s.samples[index], nil
}

// subset is a Source viewing selected indices of another Source.
type subset struct {
	src     Source
	indices []int
}

// Subset returns a Source over src restricted to indices, in that order.
func Subset(src Source, indices []int) Source {
	return &subset{src: src, indices: indices}
}

func (s *subset) Len() int {
	return len(s.indices)
}

func (s *subset) Get(index int) (Sample, error) {
	if index < 0 || index >= len(s.indices) {
		return Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(s.indices))
	}
	return s.src.Get(s.indices[index])
}

// Split partitions src into a training and a held-out Source.
// validationRatio is the share of samples (after a seeded shuffle) that go to
// the held-out split.
func Split(src Source, validationRatio float64, seed int64) (train, valid Source) {
	n := src.Len()
	//nolint:gosec // Using math/rand for data shuffling (not security-critical)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	splitIdx := int(float64(n) * (1.0 - validationRatio))
	splitIdx = max(0, min(splitIdx, n))
	return Subset(src, perm[:splitIdx]), Subset(src, perm[splitIdx:])
}
