package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/guide/internal/tensor"
)

// LogSoftmax computes log(softmax(x)) over the last axis of a [N, K] tensor
// using the log-sum-exp trick:
//
//	log_softmax(x_i) = x_i - max(x) - log(Σ exp(x_j - max(x)))
func LogSoftmax(logits *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, k, err := matrixDims(logits)
	if err != nil {
		return nil, err
	}
	output := tensor.MustRaw(logits.Shape(), tensor.Float32)
	in := logits.AsFloat32()
	out := output.AsFloat32()
	for i := range n {
		row := in[i*k : (i+1)*k]
		lse := logSumExp(row)
		for j, v := range row {
			out[i*k+j] = float32(float64(v) - lse)
		}
	}
	return output, nil
}

// Softmax computes exp(x_i) / Σ exp(x_j) over the last axis of a [N, K] tensor.
func Softmax(logits *tensor.RawTensor) (*tensor.RawTensor, error) {
	logProbs, err := LogSoftmax(logits)
	if err != nil {
		return nil, err
	}
	data := logProbs.AsFloat32()
	for i, v := range data {
		data[i] = float32(math.Exp(float64(v)))
	}
	return logProbs, nil
}

// CrossEntropy computes the mean negative log-likelihood of labels under
// softmax(logits) and its gradient with respect to the logits.
//
// Parameters:
//   - logits: Raw class scores [batch_size, num_classes]
//   - labels: Int32 class indices [batch_size]
//
// Returns:
//   - loss: mean over the batch of -log_softmax(logits)[label]
//   - grad: (softmax(logits) - one_hot(labels)) / batch_size
func CrossEntropy(logits, labels *tensor.RawTensor) (float32, *tensor.RawTensor, error) {
	n, k, err := matrixDims(logits)
	if err != nil {
		return 0, nil, err
	}
	if labels.DType() != tensor.Int32 || !labels.Shape().Equal(tensor.Shape{n}) {
		return 0, nil, fmt.Errorf("%w: labels %v (%s) for logits %v",
			tensor.ErrShapeMismatch, labels.Shape(), labels.DType(), logits.Shape())
	}

	in := logits.AsFloat32()
	targets := labels.AsInt32()
	grad := tensor.MustRaw(logits.Shape(), tensor.Float32)
	g := grad.AsFloat32()
	invN := 1.0 / float64(n)

	var total float64
	for i := range n {
		target := int(targets[i])
		if target < 0 || target >= k {
			return 0, nil, fmt.Errorf("%w: label %d at position %d not in [0, %d)",
				ErrInvalidLabel, target, i, k)
		}
		row := in[i*k : (i+1)*k]
		lse := logSumExp(row)
		total -= float64(row[target]) - lse
		for j, v := range row {
			p := math.Exp(float64(v) - lse)
			if j == target {
				p -= 1
			}
			g[i*k+j] = float32(p * invN)
		}
	}
	return float32(total * invN), grad, nil
}

// Argmax returns the index of the largest score in each row of [N, K] scores.
func Argmax(scores *tensor.RawTensor) ([]int, error) {
	n, k, err := matrixDims(scores)
	if err != nil {
		return nil, err
	}
	data := scores.AsFloat32()
	result := make([]int, n)
	for i := range n {
		row := data[i*k : (i+1)*k]
		best := 0
		for j := 1; j < k; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		result[i] = best
	}
	return result, nil
}

// Accuracy returns the fraction of rows whose argmax equals the label.
func Accuracy(logits, labels *tensor.RawTensor) (float64, error) {
	pred, err := Argmax(logits)
	if err != nil {
		return 0, err
	}
	if labels.NumElements() != len(pred) {
		return 0, fmt.Errorf("%w: %d labels for %d predictions",
			tensor.ErrShapeMismatch, labels.NumElements(), len(pred))
	}
	correct := 0
	for i, label := range labels.AsInt32() {
		if pred[i] == int(label) {
			correct++
		}
	}
	return float64(correct) / float64(len(pred)), nil
}

func matrixDims(t *tensor.RawTensor) (int, int, error) {
	shape := t.Shape()
	if len(shape) != 2 || t.DType() != tensor.Float32 {
		return 0, 0, fmt.Errorf("%w: expected float32 [N, K], got %v (%s)",
			tensor.ErrShapeMismatch, shape, t.DType())
	}
	return shape[0], shape[1], nil
}

func logSumExp(row []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}
