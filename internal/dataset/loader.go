package dataset

import (
	"fmt"
	"iter"
	"math/rand"
	"sync"
)

// Loader draws batches from a Source in a fixed order per epoch.
//
// With Workers > 1, up to Workers batches are materialized concurrently; they
// are still yielded strictly in order.
type Loader struct {
	Source    Source
	Batcher   Batcher
	BatchSize int
	Shuffle   bool
	Seed      int64
	Workers   int
}

// NumBatches returns the number of batches per epoch; the last one may be short.
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Source.Len() + l.BatchSize - 1) / l.BatchSize
}

// Order returns the sample order for an epoch. With Shuffle set the order is a
// permutation determined by (Seed, epoch); otherwise it is the identity.
func (l *Loader) Order(epoch int) []int {
	n := l.Source.Len()
	if !l.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	//nolint:gosec // Using math/rand for data shuffling (not security-critical)
	return rand.New(rand.NewSource(l.Seed + int64(epoch))).Perm(n)
}

// Batches yields the batches of one epoch in order. Iteration stops at the
// first error, which is yielded with a nil batch.
func (l *Loader) Batches(epoch int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		if l.BatchSize <= 0 {
			yield(nil, fmt.Errorf("invalid batch size %d", l.BatchSize))
			return
		}

		order := l.Order(epoch)
		numBatches := l.NumBatches()
		workers := max(l.Workers, 1)

		results := make([]*Batch, workers)
		errs := make([]error, workers)
		for first := 0; first < numBatches; first += workers {
			window := min(workers, numBatches-first)
			if window == 1 {
				results[0], errs[0] = l.makeBatch(order, first)
			} else {
				var wg sync.WaitGroup
				for i := range window {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						results[i], errs[i] = l.makeBatch(order, first+i)
					}(i)
				}
				wg.Wait()
			}

			for i := range window {
				if errs[i] != nil {
					yield(nil, errs[i])
					return
				}
				if !yield(results[i], nil) {
					return
				}
			}
		}
	}
}

// makeBatch builds batch number idx of the epoch order.
func (l *Loader) makeBatch(order []int, idx int) (*Batch, error) {
	start := idx * l.BatchSize
	end := min(start+l.BatchSize, len(order))
	samples := make([]Sample, 0, end-start)
	for _, i := range order[start:end] {
		s, err := l.Source.Get(i)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	batch, err := l.Batcher.MakeBatch(samples)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", idx, err)
	}
	return batch, nil
}
