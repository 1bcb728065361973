package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/guide/internal/tensor"
)

// Dropout zeroes each activation with probability rate during training and
// scales the survivors by 1/(1-rate). At inference, or with rate 0, it is the
// identity.
type Dropout struct {
	name string
	rate float64
	rng  *rand.Rand

	mask []float32 // nil when the latest Forward was the identity
	seen bool
}

// NewDropout creates a dropout stage whose masks are drawn from a generator
// seeded with seed.
func NewDropout(name string, rate float64, seed int64) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate %g not in [0, 1)", rate))
	}
	return &Dropout{
		name: name,
		rate: rate,
		//nolint:gosec // Using math/rand for dropout masks (not security-critical)
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Name returns the layer name.
func (d *Dropout) Name() string { return d.name }

// Rate returns the drop probability.
func (d *Dropout) Rate() float64 { return d.rate }

// Parameters returns nil; dropout has no trainable state.
func (d *Dropout) Parameters() []*Parameter { return nil }

// Forward applies a fresh mask when train is set.
func (d *Dropout) Forward(input *tensor.RawTensor, train bool) (*tensor.RawTensor, error) {
	d.seen = true
	if !train || d.rate == 0 {
		d.mask = nil
		return input, nil
	}

	scale := float32(1.0 / (1.0 - d.rate))
	src := input.AsFloat32()
	if cap(d.mask) < len(src) {
		d.mask = make([]float32, len(src))
	}
	d.mask = d.mask[:len(src)]

	output := tensor.MustRaw(input.Shape(), tensor.Float32)
	out := output.AsFloat32()
	for i, v := range src {
		if d.rng.Float64() < d.rate {
			d.mask[i] = 0
		} else {
			d.mask[i] = scale
		}
		out[i] = v * d.mask[i]
	}
	return output, nil
}

// Backward applies the latest mask to the gradient.
func (d *Dropout) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if !d.seen {
		return nil, fmt.Errorf("%s: %w", d.name, ErrNoForward)
	}
	if d.mask == nil {
		return outputGrad, nil
	}
	grad := outputGrad.AsFloat32()
	if len(grad) != len(d.mask) {
		return nil, fmt.Errorf("%w: %s output grad has %d elements, want %d",
			tensor.ErrShapeMismatch, d.name, len(grad), len(d.mask))
	}

	inputGrad := tensor.MustRaw(outputGrad.Shape(), tensor.Float32)
	dst := inputGrad.AsFloat32()
	for i, g := range grad {
		dst[i] = g * d.mask[i]
	}
	return inputGrad, nil
}
