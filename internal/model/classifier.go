package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/nn"
	"github.com/born-ml/guide/internal/tensor"
)

// Classifier maps [N, H, W] image batches to [N, num_classes] logits.
//
// Layers, in order:
//
//	conv1    Conv2D 1→8, 3×3
//	dropout
//	conv2    Conv2D 8→16, 3×3
//	dropout
//	relu
//	pool     AdaptiveAvgPool2D → 8×8
//	flatten  → 1024
//	linear1  1024 → hidden_size
//	dropout
//	relu
//	linear2  hidden_size → num_classes
type Classifier struct {
	cfg    ModelConfig
	dev    backend.Device
	layers []nn.Layer
}

// NewClassifier allocates and initializes a Classifier on dev.
// seed drives both parameter initialization and the dropout masks.
func NewClassifier(cfg ModelConfig, dev backend.Device, seed int64) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng := rand.New(rand.NewSource(seed))
	layers := []nn.Layer{
		nn.NewConv2D("conv1", 1, Conv1Channels, KernelSize, dev, rng),
		nn.NewDropout("dropout1", cfg.DropoutRate, seed+1),
		nn.NewConv2D("conv2", Conv1Channels, Conv2Channels, KernelSize, dev, rng),
		nn.NewDropout("dropout2", cfg.DropoutRate, seed+2),
		nn.NewReLU("relu1"),
		nn.NewAdaptiveAvgPool2D("pool", PoolSize, PoolSize, dev),
		nn.NewFlatten("flatten"),
		nn.NewLinear("linear1", FlattenSize, cfg.HiddenSize, dev, rng),
		nn.NewDropout("dropout3", cfg.DropoutRate, seed+3),
		nn.NewReLU("relu2"),
		nn.NewLinear("linear2", cfg.HiddenSize, cfg.NumClasses, dev, rng),
	}

	return &Classifier{cfg: cfg, dev: dev, layers: layers}, nil
}

// Config returns the configuration the classifier was built from.
func (c *Classifier) Config() ModelConfig {
	return c.cfg
}

// Device returns the device the classifier computes on.
func (c *Classifier) Device() backend.Device {
	return c.dev
}

// Layers returns the ordered layer list.
func (c *Classifier) Layers() []nn.Layer {
	return c.layers
}

// Forward computes logits for images of shape [N, H, W] or [N, 1, H, W].
// train enables dropout.
func (c *Classifier) Forward(images *tensor.RawTensor, train bool) (*tensor.RawTensor, error) {
	shape := images.Shape()
	var n, h, w int
	switch {
	case len(shape) == 3:
		n, h, w = shape[0], shape[1], shape[2]
	case len(shape) == 4 && shape[1] == 1:
		n, h, w = shape[0], shape[2], shape[3]
	default:
		return nil, fmt.Errorf("%w: expected [N, H, W] images, got %v", tensor.ErrShapeMismatch, shape)
	}
	if images.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%w: expected float32 images, got %s", tensor.ErrShapeMismatch, images.DType())
	}
	if h < MinInputSize || w < MinInputSize {
		return nil, fmt.Errorf("%w: %dx%d, need at least %dx%d",
			ErrInputTooSmall, h, w, MinInputSize, MinInputSize)
	}

	x, err := images.Reshape(tensor.Shape{n, 1, h, w})
	if err != nil {
		return nil, err
	}
	for _, layer := range c.layers {
		x, err = layer.Forward(x, train)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", layer.Name(), err)
		}
	}
	return x, nil
}

// Backward propagates ∂L/∂logits of the latest Forward through every layer,
// accumulating parameter gradients.
func (c *Classifier) Backward(logitsGrad *tensor.RawTensor) error {
	grad := logitsGrad
	for i := len(c.layers) - 1; i >= 0; i-- {
		var err error
		grad, err = c.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("%s backward: %w", c.layers[i].Name(), err)
		}
	}
	return nil
}

// Parameters returns all trainable parameters in layer order.
func (c *Classifier) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, layer := range c.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// ZeroGrad clears every parameter gradient.
func (c *Classifier) ZeroGrad() {
	for _, p := range c.Parameters() {
		p.ZeroGrad()
	}
}

// NumParams returns the number of trainable scalars.
func (c *Classifier) NumParams() int {
	return nn.CountParams(c.Parameters())
}

// StateDict returns a copy of every parameter keyed by name.
func (c *Classifier) StateDict() map[string]*tensor.RawTensor {
	return nn.StateDict(c.Parameters())
}

// LoadStateDict replaces the parameters with dict.
func (c *Classifier) LoadStateDict(dict map[string]*tensor.RawTensor) error {
	return nn.LoadStateDict(c.Parameters(), dict)
}

// ParamShapes returns the shape of every parameter a Classifier built from
// cfg would have, keyed by name.
func ParamShapes(cfg ModelConfig) map[string]tensor.Shape {
	return map[string]tensor.Shape{
		"conv1.weight":   {Conv1Channels, 1, KernelSize, KernelSize},
		"conv1.bias":     {Conv1Channels},
		"conv2.weight":   {Conv2Channels, Conv1Channels, KernelSize, KernelSize},
		"conv2.bias":     {Conv2Channels},
		"linear1.weight": {cfg.HiddenSize, FlattenSize},
		"linear1.bias":   {cfg.HiddenSize},
		"linear2.weight": {cfg.NumClasses, cfg.HiddenSize},
		"linear2.bias":   {cfg.NumClasses},
	}
}

// String summarizes the architecture and parameter count.
func (c *Classifier) String() string {
	var sb strings.Builder
	sb.WriteString("Classifier {\n")
	for _, layer := range c.layers {
		fmt.Fprintf(&sb, "  %s", layer.Name())
		switch l := layer.(type) {
		case *nn.Conv2D:
			fmt.Fprintf(&sb, ": Conv2D %v", l.Weight().Value().Shape())
		case *nn.Linear:
			fmt.Fprintf(&sb, ": Linear %d→%d", l.InFeatures(), l.OutFeatures())
		case *nn.Dropout:
			fmt.Fprintf(&sb, ": Dropout p=%g", l.Rate())
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "  params: %d\n}", c.NumParams())
	return sb.String()
}
