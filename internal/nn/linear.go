package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
type Linear struct {
	name        string
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
	dev         backend.Device

	input *tensor.RawTensor
}

// NewLinear creates a Linear layer with KaimingUniform(DefaultGain) weights and biases.
func NewLinear(name string, inFeatures, outFeatures int, dev backend.Device, rng *rand.Rand) *Linear {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	weight := KaimingUniform(tensor.Shape{outFeatures, inFeatures}, inFeatures, DefaultGain, rng)
	bias := KaimingUniform(tensor.Shape{outFeatures}, inFeatures, DefaultGain, rng)

	return &Linear{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", bias),
		dev:         dev,
	}
}

// Name returns the layer name.
func (l *Linear) Name() string { return l.name }

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int { return l.outFeatures }

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter { return l.bias }

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Forward computes x @ W.T + b.
func (l *Linear) Forward(input *tensor.RawTensor, _ bool) (*tensor.RawTensor, error) {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		return nil, fmt.Errorf("%w: %s expects [N, %d], got %v",
			tensor.ErrShapeMismatch, l.name, l.inFeatures, shape)
	}
	n := shape[0]

	output := tensor.MustRaw(tensor.Shape{n, l.outFeatures}, tensor.Float32)
	out := output.AsFloat32()
	if err := l.dev.MatMul(out, input.AsFloat32(), l.weight.Value().AsFloat32(),
		n, l.inFeatures, l.outFeatures, false, true, false); err != nil {
		return nil, fmt.Errorf("%s forward: %w", l.name, err)
	}
	bias := l.bias.Value().AsFloat32()
	for i := range n {
		row := out[i*l.outFeatures : (i+1)*l.outFeatures]
		for j := range row {
			row[j] += bias[j]
		}
	}

	l.input = input
	return output, nil
}

// Backward accumulates ∂L/∂W = gradᵀ @ x and ∂L/∂b = Σ grad, and returns grad @ W.
func (l *Linear) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: %w", l.name, ErrNoForward)
	}
	n := l.input.Shape()[0]
	if want := (tensor.Shape{n, l.outFeatures}); !outputGrad.Shape().Equal(want) {
		return nil, fmt.Errorf("%w: %s output grad %v, want %v",
			tensor.ErrShapeMismatch, l.name, outputGrad.Shape(), want)
	}
	grad := outputGrad.AsFloat32()

	if err := l.dev.MatMul(l.weight.Grad().AsFloat32(), grad, l.input.AsFloat32(),
		l.outFeatures, n, l.inFeatures, true, false, true); err != nil {
		return nil, fmt.Errorf("%s weight grad: %w", l.name, err)
	}

	biasGrad := make([]float32, l.outFeatures)
	for i := range n {
		for j, v := range grad[i*l.outFeatures : (i+1)*l.outFeatures] {
			biasGrad[j] += v
		}
	}
	if err := l.bias.AccumulateGrad(biasGrad); err != nil {
		return nil, err
	}

	inputGrad := tensor.MustRaw(tensor.Shape{n, l.inFeatures}, tensor.Float32)
	if err := l.dev.MatMul(inputGrad.AsFloat32(), grad, l.weight.Value().AsFloat32(),
		n, l.outFeatures, l.inFeatures, false, false, false); err != nil {
		return nil, fmt.Errorf("%s input grad: %w", l.name, err)
	}
	return inputGrad, nil
}
