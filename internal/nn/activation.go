package nn

import (
	"fmt"

	"github.com/born-ml/guide/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU struct {
	name   string
	output *tensor.RawTensor
}

// NewReLU creates a ReLU stage.
func NewReLU(name string) *ReLU {
	return &ReLU{name: name}
}

// Name returns the layer name.
func (r *ReLU) Name() string { return r.name }

// Parameters returns nil.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Forward computes max(0, x). NaN inputs stay NaN.
func (r *ReLU) Forward(input *tensor.RawTensor, _ bool) (*tensor.RawTensor, error) {
	output := tensor.MustRaw(input.Shape(), tensor.Float32)
	out := output.AsFloat32()
	for i, v := range input.AsFloat32() {
		if !(v <= 0) {
			out[i] = v
		}
	}
	r.output = output
	return output, nil
}

// Backward passes the gradient where the forward output was positive.
func (r *ReLU) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if r.output == nil {
		return nil, fmt.Errorf("%s: %w", r.name, ErrNoForward)
	}
	if !outputGrad.Shape().Equal(r.output.Shape()) {
		return nil, fmt.Errorf("%w: %s output grad %v, want %v",
			tensor.ErrShapeMismatch, r.name, outputGrad.Shape(), r.output.Shape())
	}

	inputGrad := tensor.MustRaw(outputGrad.Shape(), tensor.Float32)
	dst := inputGrad.AsFloat32()
	out := r.output.AsFloat32()
	for i, g := range outputGrad.AsFloat32() {
		if out[i] > 0 {
			dst[i] = g
		}
	}
	return inputGrad, nil
}
