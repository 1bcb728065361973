// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients accumulated in nn.Parameter values and update
// the parameter tensors in place.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.NewAdamConfig(), 1e-4)
//
//	for batch := range batches {
//	    model.ZeroGrad()
//	    logits, _ := model.Forward(batch.Images, true)
//	    _, grad, _ := nn.CrossEntropy(logits, batch.Labels)
//	    _ = model.Backward(grad)
//	    if err := optimizer.Step(); err != nil {
//	        return err
//	    }
//	}
package optim

import "errors"

// ErrNonFinite is returned by Step when an update produces NaN or ±Inf.
var ErrNonFinite = errors.New("non-finite parameter update")

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to every parameter from its accumulated gradient.
	Step() error

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float64

	// SetLR changes the learning rate for subsequent steps.
	SetLR(lr float64)
}
