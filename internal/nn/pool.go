package nn

import (
	"fmt"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/tensor"
)

// AdaptiveAvgPool2D averages [N, C, H, W] down to a fixed [N, C, outH, outW].
//
// Output cell (i, j) averages input rows [floor(i*H/outH), ceil((i+1)*H/outH))
// and columns [floor(j*W/outW), ceil((j+1)*W/outW)). Regions may overlap when
// H is not a multiple of outH; inputs smaller than the output repeat cells.
type AdaptiveAvgPool2D struct {
	name       string
	outH, outW int
	dev        backend.Device

	inputShape tensor.Shape
}

// NewAdaptiveAvgPool2D creates a pooling stage with a fixed output size.
func NewAdaptiveAvgPool2D(name string, outH, outW int, dev backend.Device) *AdaptiveAvgPool2D {
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("adaptive_avg_pool2d: invalid output size %dx%d", outH, outW))
	}
	return &AdaptiveAvgPool2D{name: name, outH: outH, outW: outW, dev: dev}
}

// Name returns the layer name.
func (p *AdaptiveAvgPool2D) Name() string { return p.name }

// Parameters returns nil.
func (p *AdaptiveAvgPool2D) Parameters() []*Parameter { return nil }

// poolRange returns the input range [start, end) averaged by output index i.
func poolRange(i, in, out int) (int, int) {
	start := i * in / out
	end := ((i+1)*in + out - 1) / out
	return start, end
}

// Forward computes the region averages.
func (p *AdaptiveAvgPool2D) Forward(input *tensor.RawTensor, _ bool) (*tensor.RawTensor, error) {
	shape := input.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: %s expects [N, C, H, W], got %v",
			tensor.ErrShapeMismatch, p.name, shape)
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]

	output := tensor.MustRaw(tensor.Shape{n, c, p.outH, p.outW}, tensor.Float32)
	in := input.AsFloat32()
	out := output.AsFloat32()
	oh, ow := p.outH, p.outW

	p.dev.For(n*c, func(start, end int) {
		for plane := start; plane < end; plane++ {
			src := in[plane*h*w : (plane+1)*h*w]
			dst := out[plane*oh*ow : (plane+1)*oh*ow]
			for i := range oh {
				y0, y1 := poolRange(i, h, oh)
				for j := range ow {
					x0, x1 := poolRange(j, w, ow)
					var sum float32
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							sum += src[y*w+x]
						}
					}
					dst[i*ow+j] = sum / float32((y1-y0)*(x1-x0))
				}
			}
		}
	})

	p.inputShape = shape.Clone()
	return output, nil
}

// Backward spreads each output gradient evenly over its region.
func (p *AdaptiveAvgPool2D) Backward(outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if p.inputShape == nil {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNoForward)
	}
	n, c, h, w := p.inputShape[0], p.inputShape[1], p.inputShape[2], p.inputShape[3]
	if want := (tensor.Shape{n, c, p.outH, p.outW}); !outputGrad.Shape().Equal(want) {
		return nil, fmt.Errorf("%w: %s output grad %v, want %v",
			tensor.ErrShapeMismatch, p.name, outputGrad.Shape(), want)
	}

	inputGrad := tensor.MustRaw(p.inputShape, tensor.Float32)
	grad := outputGrad.AsFloat32()
	dstAll := inputGrad.AsFloat32()
	oh, ow := p.outH, p.outW

	p.dev.For(n*c, func(start, end int) {
		for plane := start; plane < end; plane++ {
			src := grad[plane*oh*ow : (plane+1)*oh*ow]
			dst := dstAll[plane*h*w : (plane+1)*h*w]
			for i := range oh {
				y0, y1 := poolRange(i, h, oh)
				for j := range ow {
					x0, x1 := poolRange(j, w, ow)
					g := src[i*ow+j] / float32((y1-y0)*(x1-x0))
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							dst[y*w+x] += g
						}
					}
				}
			}
		}
	})
	return inputGrad, nil
}
