package nn

import (
	"fmt"

	"github.com/born-ml/guide/internal/tensor"
)

// Parameter is a trainable Float32 tensor together with its gradient.
//
// The gradient buffer has the value's shape and is allocated up front;
// backward passes add into it until ZeroGrad clears it.
type Parameter struct {
	name  string
	value *tensor.RawTensor
	grad  *tensor.RawTensor
}

// NewParameter wraps value as a trainable parameter with a zero gradient.
func NewParameter(name string, value *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:  name,
		value: value,
		grad:  tensor.MustRaw(value.Shape(), tensor.Float32),
	}
}

// Name returns the fully-qualified parameter name (e.g. "conv1.weight").
func (p *Parameter) Name() string {
	return p.name
}

// Value returns the parameter tensor. Optimizers update it in place.
func (p *Parameter) Value() *tensor.RawTensor {
	return p.value
}

// Grad returns the accumulated gradient.
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// AccumulateGrad adds g to the gradient.
func (p *Parameter) AccumulateGrad(g []float32) error {
	dst := p.grad.AsFloat32()
	if len(g) != len(dst) {
		return fmt.Errorf("%w: gradient for %s has %d elements, want %d",
			tensor.ErrShapeMismatch, p.name, len(g), len(dst))
	}
	for i, v := range g {
		dst[i] += v
	}
	return nil
}

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	p.grad.Zero()
}

// SetValue copies src into the parameter. Shapes must match.
func (p *Parameter) SetValue(src *tensor.RawTensor) error {
	if !src.Shape().Equal(p.value.Shape()) {
		return fmt.Errorf("%w: %s has shape %v, got %v",
			tensor.ErrShapeMismatch, p.name, p.value.Shape(), src.Shape())
	}
	if src.DType() != tensor.Float32 {
		return fmt.Errorf("%s: expected float32, got %s", p.name, src.DType())
	}
	copy(p.value.Data(), src.Data())
	return nil
}
