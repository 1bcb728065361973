package nn

import (
	"fmt"

	"github.com/born-ml/guide/internal/tensor"
)

// Flatten reshapes [N, d1, d2, ...] into [N, d1*d2*...].
type Flatten struct {
	name       string
	inputShape tensor.Shape
}

// NewFlatten creates a Flatten stage.
func NewFlatten(name string) *Flatten {
	return &Flatten{name: name}
}

// Name returns the layer name.
func (f *Flatten) Name() string { return f.name }

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter { return nil }

// Forward returns a view with the trailing dimensions merged.
func (f *Flatten) Forward(input *tensor.RawTensor, _ bool) (*tensor.RawTensor, error) {
	shape := input.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: %s expects at least 2 dims, got %v",
			tensor.ErrShapeMismatch, f.name, shape)
	}
	f.inputShape = shape.Clone()
	return input.Reshape(tensor.Shape{shape[0], shape[1:].NumElements()})
}

// Backward restores the input shape.
func (f *Flatten) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if f.inputShape == nil {
		return nil, fmt.Errorf("%s: %w", f.name, ErrNoForward)
	}
	return outputGrad.Reshape(f.inputShape)
}
