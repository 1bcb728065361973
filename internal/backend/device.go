// Package backend defines the device handle passed to every component that
// allocates or computes on tensors.
//
// A Device is a single shared, non-reentrant resource: callers issue operations
// synchronously and each call returns once its result is in host memory.
package backend

import "fmt"

// Kind identifies the compute device family.
type Kind int

// Supported device kinds.
const (
	CPU Kind = iota
	WebGPU
)

// String returns a human-readable device kind.
func (k Kind) String() string {
	switch k {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// Device is the runtime-dispatched compute handle.
type Device interface {
	// Name describes the concrete device (adapter or CPU model).
	Name() string

	// Kind returns the device family.
	Kind() Kind

	// MatMul computes dst = op(a) @ op(b), or dst += op(a) @ op(b) when
	// accumulate is set. op(x) is x, or xᵀ when the matching trans flag is set.
	// op(a) is [m, k], op(b) is [k, n] and dst is [m, n], all row-major.
	MatMul(dst, a, b []float32, m, k, n int, transA, transB, accumulate bool) error

	// For runs f over contiguous chunks of [0, n), possibly concurrently,
	// and returns once every chunk is done.
	For(n int, f func(start, end int))

	// Release frees device resources. The device must not be used afterwards.
	Release()
}

// CheckMatMul validates operand lengths for a MatMul call.
func CheckMatMul(dst, a, b []float32, m, k, n int) error {
	if m <= 0 || k <= 0 || n <= 0 {
		return fmt.Errorf("matmul: invalid dimensions m=%d k=%d n=%d", m, k, n)
	}
	if len(a) < m*k {
		return fmt.Errorf("matmul: lhs has %d elements, need %d", len(a), m*k)
	}
	if len(b) < k*n {
		return fmt.Errorf("matmul: rhs has %d elements, need %d", len(b), k*n)
	}
	if len(dst) < m*n {
		return fmt.Errorf("matmul: dst has %d elements, need %d", len(dst), m*n)
	}
	return nil
}
