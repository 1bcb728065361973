package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/guide/internal/tensor"
)

// KaimingUniform creates a tensor drawn from U(-bound, bound) with
// bound = gain * sqrt(3 / fanIn).
//
// Parameters:
//   - shape: Shape of the tensor
//   - fanIn: Number of inputs feeding each output unit
//   - gain: Scaling gain
//   - rng: Random source; the same seed reproduces the same tensor
func KaimingUniform(shape tensor.Shape, fanIn int, gain float64, rng *rand.Rand) *tensor.RawTensor {
	bound := gain * math.Sqrt(3.0/float64(fanIn))
	t := tensor.MustRaw(shape, tensor.Float32)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// DefaultGain is the Kaiming gain used for conv and linear layers, giving
// bound = 1/sqrt(fanIn) for weights and biases alike.
var DefaultGain = 1.0 / math.Sqrt(3.0)
