package dataset

import (
	"fmt"

	"github.com/born-ml/guide/internal/tensor"
)

// MNIST normalization constants.
const (
	MNISTMean = 0.1307
	MNISTStd  = 0.3081
)

// Batch is an ordered group of N samples.
type Batch struct {
	Images *tensor.RawTensor // [N, H, W] normalized intensities
	Labels *tensor.RawTensor // [N] int32 class labels
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Labels.NumElements()
}

// Normalization maps raw intensities v to (v*Scale - Mean) / Std.
type Normalization struct {
	Scale float32 `json:"scale"`
	Mean  float32 `json:"mean"`
	Std   float32 `json:"std"`
}

// Batcher stacks samples into a Batch, normalizing intensities on the way.
type Batcher struct {
	Norm Normalization
}

// NewMNISTBatcher returns the batcher used for MNIST: scale to [0, 1] then
// standardize with the dataset mean and standard deviation.
func NewMNISTBatcher() Batcher {
	return Batcher{Norm: Normalization{Scale: 1.0 / 255.0, Mean: MNISTMean, Std: MNISTStd}}
}

// MakeBatch stacks samples into a [N, H, W] image tensor and an aligned label tensor.
// All samples must share the same spatial dimensions.
func (b Batcher) MakeBatch(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty batch", tensor.ErrShapeMismatch)
	}

	h, w := samples[0].Height, samples[0].Width
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: sample 0 has size %dx%d", tensor.ErrShapeMismatch, h, w)
	}
	for i, s := range samples {
		if s.Height != h || s.Width != w {
			return nil, fmt.Errorf("%w: sample %d is %dx%d, batch is %dx%d",
				tensor.ErrShapeMismatch, i, s.Height, s.Width, h, w)
		}
		if len(s.Image) != h*w {
			return nil, fmt.Errorf("%w: sample %d has %d pixels, want %d",
				tensor.ErrShapeMismatch, i, len(s.Image), h*w)
		}
	}

	images, err := tensor.NewRaw(tensor.Shape{len(samples), h, w}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create images tensor: %w", err)
	}
	labels, err := tensor.NewRaw(tensor.Shape{len(samples)}, tensor.Int32)
	if err != nil {
		return nil, fmt.Errorf("failed to create labels tensor: %w", err)
	}

	scale, mean, std := b.Norm.Scale, b.Norm.Mean, b.Norm.Std
	if scale == 0 {
		scale = 1
	}
	if std == 0 {
		std = 1
	}

	imageData := images.AsFloat32()
	labelData := labels.AsInt32()
	for i, s := range samples {
		dst := imageData[i*h*w : (i+1)*h*w]
		for j, v := range s.Image {
			dst[j] = (v*scale - mean) / std
		}
		//nolint:gosec // G115: labels are small class indices
		labelData[i] = int32(s.Label)
	}

	return &Batch{Images: images, Labels: labels}, nil
}
