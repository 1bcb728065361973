//go:build !windows

package webgpu

import (
	"github.com/born-ml/guide/internal/backend"
)

// Device is the WebGPU device. Only Windows builds link the wgpu bindings;
// elsewhere New always fails with ErrUnavailable.
type Device struct{}

// New reports ErrUnavailable on this platform.
func New() (*Device, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports false on this platform.
func IsAvailable() bool {
	return false
}

// Name returns the device name.
func (d *Device) Name() string { return "WebGPU" }

// Kind returns backend.WebGPU.
func (d *Device) Kind() backend.Kind { return backend.WebGPU }

// MatMul always fails with ErrUnavailable.
func (d *Device) MatMul(_, _, _ []float32, _, _, _ int, _, _, _ bool) error {
	return ErrUnavailable
}

// For runs f over the whole range on the calling goroutine.
func (d *Device) For(n int, f func(start, end int)) {
	if n > 0 {
		f(0, n)
	}
}

// Release is a no-op.
func (d *Device) Release() {}
