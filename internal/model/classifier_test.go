package model

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/born-ml/guide/internal/backend/cpu"
	"github.com/born-ml/guide/internal/nn"
	"github.com/born-ml/guide/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomImages(seed int64, shape tensor.Shape) *tensor.RawTensor {
	rng := rand.New(rand.NewSource(seed))
	t := tensor.MustRaw(shape, tensor.Float32)
	for i := range t.AsFloat32() {
		t.AsFloat32()[i] = float32(rng.NormFloat64())
	}
	return t
}

func TestNewModelConfigDefaults(t *testing.T) {
	cfg := NewModelConfig(10, 512)
	assert.Equal(t, ModelConfig{NumClasses: 10, HiddenSize: 512, DropoutRate: 0.5}, cfg)
	assert.NoError(t, cfg.Validate())

	cfg = NewModelConfig(10, 512, WithDropout(0.1))
	assert.InDelta(t, 0.1, cfg.DropoutRate, 1e-12)
}

func TestInvalidConfigRejected(t *testing.T) {
	dev := cpu.New()
	for _, cfg := range []ModelConfig{
		NewModelConfig(0, 512),
		NewModelConfig(10, 0),
		NewModelConfig(-1, 512),
		NewModelConfig(10, 512, WithDropout(1)),
		NewModelConfig(10, 512, WithDropout(-0.1)),
	} {
		clf, err := NewClassifier(cfg, dev, 1)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "config %+v", cfg)
		assert.Nil(t, clf)
	}
}

func TestForwardShapeInvariant(t *testing.T) {
	dev := cpu.New()
	cases := []struct {
		classes, hidden int
		shape           tensor.Shape
	}{
		{10, 32, tensor.Shape{2, 28, 28}},
		{3, 8, tensor.Shape{1, 5, 5}},
		{7, 16, tensor.Shape{3, 7, 11}},
		{2, 4, tensor.Shape{4, 1, 12, 9}},
		{5, 8, tensor.Shape{1, 40, 40}},
	}
	for _, c := range cases {
		clf, err := NewClassifier(NewModelConfig(c.classes, c.hidden), dev, 42)
		require.NoError(t, err)

		for _, train := range []bool{false, true} {
			logits, err := clf.Forward(randomImages(1, c.shape), train)
			require.NoError(t, err, "shape %v", c.shape)
			assert.Equal(t, tensor.Shape{c.shape[0], c.classes}, logits.Shape(), "shape %v", c.shape)
			assert.True(t, logits.AllFinite())
		}
	}
}

func TestForwardInputTooSmall(t *testing.T) {
	clf, err := NewClassifier(NewModelConfig(10, 8), cpu.New(), 1)
	require.NoError(t, err)

	for _, shape := range []tensor.Shape{{1, 4, 4}, {2, 28, 4}, {1, 1, 3, 10}} {
		_, err := clf.Forward(tensor.MustRaw(shape, tensor.Float32), false)
		assert.True(t, errors.Is(err, ErrInputTooSmall), "shape %v", shape)
	}

	_, err = clf.Forward(tensor.MustRaw(tensor.Shape{2, 3, 28, 28}, tensor.Float32), false)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	_, err = clf.Forward(tensor.MustRaw(tensor.Shape{28, 28}, tensor.Float32), false)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
}

func TestForwardDeterministic(t *testing.T) {
	dev := cpu.New()
	clf, err := NewClassifier(NewModelConfig(10, 32), dev, 7)
	require.NoError(t, err)
	images := randomImages(3, tensor.Shape{4, 28, 28})

	first, err := clf.Forward(images, false)
	require.NoError(t, err)
	second, err := clf.Forward(images, false)
	require.NoError(t, err)
	assert.Equal(t, first.AsFloat32(), second.AsFloat32())

	same, err := NewClassifier(NewModelConfig(10, 32), dev, 7)
	require.NoError(t, err)
	third, err := same.Forward(images, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, first.AsFloat32(), third.AsFloat32(), 1e-6)

	other, err := NewClassifier(NewModelConfig(10, 32), dev, 8)
	require.NoError(t, err)
	fourth, err := other.Forward(images, false)
	require.NoError(t, err)
	assert.NotEqual(t, first.AsFloat32(), fourth.AsFloat32())
}

func TestDropoutOnlyInTraining(t *testing.T) {
	clf, err := NewClassifier(NewModelConfig(10, 32, WithDropout(0.5)), cpu.New(), 7)
	require.NoError(t, err)
	images := randomImages(3, tensor.Shape{2, 28, 28})

	a, err := clf.Forward(images, true)
	require.NoError(t, err)
	b, err := clf.Forward(images, true)
	require.NoError(t, err)
	assert.NotEqual(t, a.AsFloat32(), b.AsFloat32(), "consecutive training passes draw new masks")
}

func TestParametersAndCount(t *testing.T) {
	clf, err := NewClassifier(NewModelConfig(10, 512), cpu.New(), 1)
	require.NoError(t, err)

	params := clf.Parameters()
	require.Len(t, params, 8)
	shapes := ParamShapes(clf.Config())
	for _, p := range params {
		want, ok := shapes[p.Name()]
		require.True(t, ok, p.Name())
		assert.Equal(t, want, p.Value().Shape(), p.Name())
	}

	// conv1 80 + conv2 1168 + linear1 524800 + linear2 5130
	assert.Equal(t, 531178, clf.NumParams())
	assert.Contains(t, clf.String(), "params: 531178")
	assert.Contains(t, clf.String(), "linear1: Linear 1024→512")
}

func TestBackwardDescendsLoss(t *testing.T) {
	clf, err := NewClassifier(NewModelConfig(3, 16, WithDropout(0)), cpu.New(), 5)
	require.NoError(t, err)
	images := randomImages(9, tensor.Shape{4, 10, 10})
	labels, err := tensor.FromInt32([]int32{0, 1, 2, 1}, tensor.Shape{4})
	require.NoError(t, err)

	lossAt := func() (float32, *tensor.RawTensor) {
		logits, err := clf.Forward(images, true)
		require.NoError(t, err)
		loss, grad, err := nn.CrossEntropy(logits, labels)
		require.NoError(t, err)
		return loss, grad
	}

	before, grad := lossAt()
	clf.ZeroGrad()
	require.NoError(t, clf.Backward(grad))

	nonZero := false
	for _, p := range clf.Parameters() {
		require.True(t, p.Grad().AllFinite(), p.Name())
		for _, g := range p.Grad().AsFloat32() {
			if g != 0 {
				nonZero = true
			}
		}
	}
	require.True(t, nonZero)

	const lr = 1e-2
	for _, p := range clf.Parameters() {
		values := p.Value().AsFloat32()
		for i, g := range p.Grad().AsFloat32() {
			values[i] -= lr * g
		}
	}
	after, _ := lossAt()
	assert.Less(t, after, before)

	clf.ZeroGrad()
	for _, p := range clf.Parameters() {
		for _, g := range p.Grad().AsFloat32() {
			require.Zero(t, g)
		}
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	dev := cpu.New()
	cfg := NewModelConfig(4, 8)
	src, err := NewClassifier(cfg, dev, 1)
	require.NoError(t, err)
	dst, err := NewClassifier(cfg, dev, 2)
	require.NoError(t, err)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	images := randomImages(4, tensor.Shape{2, 9, 9})
	a, err := src.Forward(images, false)
	require.NoError(t, err)
	b, err := dst.Forward(images, false)
	require.NoError(t, err)
	assert.Equal(t, a.AsFloat32(), b.AsFloat32())

	wrong, err := NewClassifier(NewModelConfig(5, 8), dev, 1)
	require.NoError(t, err)
	assert.True(t, errors.Is(dst.LoadStateDict(wrong.StateDict()), tensor.ErrShapeMismatch))
}
