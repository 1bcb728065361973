// Package nn implements the differentiable layers of the classifier.
//
// This package provides:
//   - Layer: forward/backward capability implemented by every stage
//   - Parameter: trainable tensor with accumulated gradient
//   - Conv2D, Linear: parametrized layers computed through the device matmul
//   - Dropout, ReLU, AdaptiveAvgPool2D, Flatten: parameter-free stages
//   - CrossEntropy, Softmax, LogSoftmax: loss and normalization helpers
//
// Reverse mode is explicit: each layer caches what its Backward needs during
// Forward, and Backward accumulates parameter gradients into its Parameters.
package nn

import (
	"errors"

	"github.com/born-ml/guide/internal/tensor"
)

// ErrNoForward is returned by Backward when no Forward pass preceded it.
var ErrNoForward = errors.New("backward called before forward")

// Layer is one differentiable stage of a network.
type Layer interface {
	// Name identifies the layer; parameter names are prefixed with it.
	Name() string

	// Forward computes the output for input. train enables stochastic
	// behavior such as dropout.
	Forward(input *tensor.RawTensor, train bool) (*tensor.RawTensor, error)

	// Backward takes ∂L/∂output of the latest Forward call, accumulates
	// parameter gradients and returns ∂L/∂input.
	Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error)

	// Parameters returns the trainable parameters, empty for stateless stages.
	Parameters() []*Parameter
}
