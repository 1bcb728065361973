package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/tensor"
)

// Conv2D is a 2D convolution with stride 1 and no padding.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, height-kernel+1, width-kernel+1]
//
// The convolution is lowered to a single GEMM over an im2col matrix of shape
// [in_channels*kernel*kernel, batch*out_h*out_w].
type Conv2D struct {
	name        string
	inChannels  int
	outChannels int
	kernel      int

	weight *Parameter
	bias   *Parameter

	dev backend.Device

	// Forward state.
	inputShape tensor.Shape
	cols       []float32
	outH, outW int
}

// NewConv2D creates a convolution initialized with KaimingUniform(DefaultGain).
//
// Parameters:
//   - name: Layer name, used as parameter prefix
//   - inChannels, outChannels: Channel counts
//   - kernel: Square kernel size
//   - dev: Device computing the matmuls
//   - rng: Random source for initialization
func NewConv2D(name string, inChannels, outChannels, kernel int, dev backend.Device, rng *rand.Rand) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernel <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %d", kernel))
	}

	fanIn := inChannels * kernel * kernel
	weight := KaimingUniform(tensor.Shape{outChannels, inChannels, kernel, kernel}, fanIn, DefaultGain, rng)
	bias := KaimingUniform(tensor.Shape{outChannels}, fanIn, DefaultGain, rng)

	return &Conv2D{
		name:        name,
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", bias),
		dev:         dev,
	}
}

// Name returns the layer name.
func (c *Conv2D) Name() string { return c.name }

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter { return c.weight }

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter { return c.bias }

// Parameters returns [weight, bias].
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// OutputSize returns the spatial output size for an h×w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return h - c.kernel + 1, w - c.kernel + 1
}

// Forward computes the convolution.
func (c *Conv2D) Forward(input *tensor.RawTensor, _ bool) (*tensor.RawTensor, error) {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		return nil, fmt.Errorf("%w: %s expects [N, %d, H, W], got %v",
			tensor.ErrShapeMismatch, c.name, c.inChannels, shape)
	}
	n, h, w := shape[0], shape[2], shape[3]
	outH, outW := c.OutputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%w: %s input %dx%d smaller than kernel %d",
			tensor.ErrShapeMismatch, c.name, h, w, c.kernel)
	}

	rows := c.inChannels * c.kernel * c.kernel
	spatial := outH * outW
	cols := n * spatial
	colData := make([]float32, rows*cols)
	im2col(c.dev, input.AsFloat32(), colData, n, c.inChannels, h, w, c.kernel, outH, outW)

	// [out_channels, rows] @ [rows, batch*spatial]
	product := make([]float32, c.outChannels*cols)
	if err := c.dev.MatMul(product, c.weight.Value().AsFloat32(), colData,
		c.outChannels, rows, cols, false, false, false); err != nil {
		return nil, fmt.Errorf("%s forward: %w", c.name, err)
	}

	output := tensor.MustRaw(tensor.Shape{n, c.outChannels, outH, outW}, tensor.Float32)
	out := output.AsFloat32()
	bias := c.bias.Value().AsFloat32()
	oc := c.outChannels
	c.dev.For(n, func(start, end int) {
		for b := start; b < end; b++ {
			for o := range oc {
				dst := out[(b*oc+o)*spatial : (b*oc+o+1)*spatial]
				src := product[o*cols+b*spatial : o*cols+(b+1)*spatial]
				for i, v := range src {
					dst[i] = v + bias[o]
				}
			}
		}
	})

	c.inputShape = shape.Clone()
	c.cols = colData
	c.outH, c.outW = outH, outW
	return output, nil
}

// Backward accumulates ∂L/∂weight and ∂L/∂bias and returns ∂L/∂input.
func (c *Conv2D) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if c.cols == nil {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNoForward)
	}
	n, h, w := c.inputShape[0], c.inputShape[2], c.inputShape[3]
	want := tensor.Shape{n, c.outChannels, c.outH, c.outW}
	if !outputGrad.Shape().Equal(want) {
		return nil, fmt.Errorf("%w: %s output grad %v, want %v",
			tensor.ErrShapeMismatch, c.name, outputGrad.Shape(), want)
	}

	oc := c.outChannels
	spatial := c.outH * c.outW
	cols := n * spatial
	rows := c.inChannels * c.kernel * c.kernel

	// Rearrange [batch, out_channels, spatial] into [out_channels, batch*spatial].
	grad := outputGrad.AsFloat32()
	grad2 := make([]float32, oc*cols)
	biasGrad := make([]float32, oc)
	c.dev.For(oc, func(start, end int) {
		for o := start; o < end; o++ {
			var sum float32
			for b := range n {
				src := grad[(b*oc+o)*spatial : (b*oc+o+1)*spatial]
				copy(grad2[o*cols+b*spatial:], src)
				for _, v := range src {
					sum += v
				}
			}
			biasGrad[o] = sum
		}
	})
	if err := c.bias.AccumulateGrad(biasGrad); err != nil {
		return nil, err
	}

	// ∂W += grad2 @ colsᵀ
	if err := c.dev.MatMul(c.weight.Grad().AsFloat32(), grad2, c.cols,
		oc, cols, rows, false, true, true); err != nil {
		return nil, fmt.Errorf("%s weight grad: %w", c.name, err)
	}

	// ∂cols = Wᵀ @ grad2
	colGrad := make([]float32, rows*cols)
	if err := c.dev.MatMul(colGrad, c.weight.Value().AsFloat32(), grad2,
		rows, oc, cols, true, false, false); err != nil {
		return nil, fmt.Errorf("%s input grad: %w", c.name, err)
	}

	inputGrad := tensor.MustRaw(c.inputShape, tensor.Float32)
	col2im(c.dev, colGrad, inputGrad.AsFloat32(), n, c.inChannels, h, w, c.kernel, c.outH, c.outW)
	return inputGrad, nil
}

// im2col unfolds input [n, channels, h, w] into cols [channels*k*k, n*outH*outW].
func im2col(dev backend.Device, input, cols []float32, n, channels, h, w, k, outH, outW int) {
	spatial := outH * outW
	stride := n * spatial
	dev.For(n, func(start, end int) {
		for b := start; b < end; b++ {
			for ch := range channels {
				plane := input[(b*channels+ch)*h*w:]
				for ki := range k {
					for kj := range k {
						row := (ch*k+ki)*k + kj
						dst := cols[row*stride+b*spatial:]
						for oy := range outH {
							src := plane[(oy+ki)*w+kj:]
							copy(dst[oy*outW:(oy+1)*outW], src[:outW])
						}
					}
				}
			}
		}
	})
}

// col2im folds cols back into grad [n, channels, h, w], summing overlaps.
func col2im(dev backend.Device, cols, grad []float32, n, channels, h, w, k, outH, outW int) {
	spatial := outH * outW
	stride := n * spatial
	dev.For(n, func(start, end int) {
		for b := start; b < end; b++ {
			for ch := range channels {
				plane := grad[(b*channels+ch)*h*w:]
				for ki := range k {
					for kj := range k {
						row := (ch*k+ki)*k + kj
						src := cols[row*stride+b*spatial:]
						for oy := range outH {
							dst := plane[(oy+ki)*w+kj:]
							for ox := range outW {
								dst[ox] += src[oy*outW+ox]
							}
						}
					}
				}
			}
		}
	})
}
