package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/guide/internal/nn"
)

// AdamConfig holds the Adam hyperparameters other than the learning rate.
type AdamConfig struct {
	Beta1       float64 `json:"beta_1"`
	Beta2       float64 `json:"beta_2"`
	Epsilon     float64 `json:"epsilon"`
	WeightDecay float64 `json:"weight_decay,omitempty"`
}

// NewAdamConfig returns the default configuration:
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Epsilon: 1e-5
//   - WeightDecay: 0 (disabled)
func NewAdamConfig() AdamConfig {
	return AdamConfig{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-5,
	}
}

// Validate checks the hyperparameter ranges.
func (c AdamConfig) Validate() error {
	if c.Beta1 < 0 || c.Beta1 >= 1 {
		return fmt.Errorf("adam: beta_1 must be in [0, 1), got %g", c.Beta1)
	}
	if c.Beta2 < 0 || c.Beta2 >= 1 {
		return fmt.Errorf("adam: beta_2 must be in [0, 1), got %g", c.Beta2)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("adam: epsilon must be positive, got %g", c.Epsilon)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("adam: weight_decay must be non-negative, got %g", c.WeightDecay)
	}
	return nil
}

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	g_t = gradient + weight_decay * param               // L2 penalty
//	m_t = beta1 * m_{t-1} + (1-beta1) * g_t             // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * g_t²            // Second moment
//	m_hat = m_t / (1 - beta1^t)                         // Bias correction
//	v_hat = v_t / (1 - beta2^t)                         // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)    // Parameter update
//
// Moment estimates live only in memory; a new Adam starts them at zero.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	cfg    AdamConfig
	lr     float64
	t      int         // Timestep for bias correction
	m      [][]float32 // First moment estimates, aligned with params
	v      [][]float32 // Second moment estimates, aligned with params
}

// NewAdam creates an Adam optimizer over params.
func NewAdam(params []*nn.Parameter, cfg AdamConfig, lr float64) *Adam {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		n := p.Value().NumElements()
		m[i] = make([]float32, n)
		v[i] = make([]float32, n)
	}
	return &Adam{params: params, cfg: cfg, lr: lr, m: m, v: v}
}

// Step performs a single optimization step.
//
// Returns ErrNonFinite, naming the parameter, if any updated value is NaN or ±Inf.
func (a *Adam) Step() error {
	a.t++

	beta1 := float32(a.cfg.Beta1)
	beta2 := float32(a.cfg.Beta2)
	eps := float32(a.cfg.Epsilon)
	decay := float32(a.cfg.WeightDecay)
	lr := float32(a.lr)

	// bias_correction = 1 - beta^t
	biasCorrection1 := float32(1.0 - math.Pow(a.cfg.Beta1, float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(a.cfg.Beta2, float64(a.t)))

	for i, param := range a.params {
		values := param.Value().AsFloat32()
		grads := param.Grad().AsFloat32()
		m, v := a.m[i], a.v[i]

		for j, g := range grads {
			if decay != 0 {
				g += decay * values[j]
			}
			m[j] = beta1*m[j] + (1-beta1)*g
			v[j] = beta2*v[j] + (1-beta2)*g*g

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2
			updated := values[j] - lr*mHat/(float32(math.Sqrt(float64(vHat)))+eps)

			f := float64(updated)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("%w: %s at step %d", ErrNonFinite, param.Name(), a.t)
			}
			values[j] = updated
		}
	}
	return nil
}

// ZeroGrad clears the gradient of every parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// LR returns the learning rate.
func (a *Adam) LR() float64 {
	return a.lr
}

// SetLR sets the learning rate.
func (a *Adam) SetLR(lr float64) {
	a.lr = lr
}

// Steps returns the number of steps taken.
func (a *Adam) Steps() int {
	return a.t
}
