// Package cpu implements the CPU device: SGEMM through gonum's BLAS and
// data-parallel loops over the internal/parallel worker pool.
package cpu

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/parallel"
)

// Device implements backend.Device on the host CPU.
type Device struct {
	cfg parallel.Config
}

// New creates a CPU device using parallel.DefaultConfig.
func New() *Device {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU device with an explicit worker configuration.
func NewWithConfig(cfg parallel.Config) *Device {
	return &Device{cfg: cfg}
}

// Name returns the CPU brand, worker count and the SIMD features detected.
func (d *Device) Name() string {
	brand := strings.TrimSpace(cpuid.CPU.BrandName)
	if brand == "" {
		brand = "unknown CPU"
	}
	name := fmt.Sprintf("%s (%d workers)", brand, d.cfg.NumWorkers)
	if feats := Features(); len(feats) > 0 {
		name += " [" + strings.Join(feats, " ") + "]"
	}
	return name
}

// Kind returns backend.CPU.
func (d *Device) Kind() backend.Kind {
	return backend.CPU
}

// Config returns the worker configuration.
func (d *Device) Config() parallel.Config {
	return d.cfg
}

// MatMul computes dst = op(a) @ op(b) (+ dst) with blas32.Gemm.
func (d *Device) MatMul(dst, a, b []float32, m, k, n int, transA, transB, accumulate bool) error {
	if err := backend.CheckMatMul(dst, a, b, m, k, n); err != nil {
		return err
	}

	lhs := blas32.General{Rows: m, Cols: k, Stride: k, Data: a[:m*k]}
	tA := blas.NoTrans
	if transA {
		// a is stored as [k, m].
		lhs = blas32.General{Rows: k, Cols: m, Stride: m, Data: a[:m*k]}
		tA = blas.Trans
	}

	rhs := blas32.General{Rows: k, Cols: n, Stride: n, Data: b[:k*n]}
	tB := blas.NoTrans
	if transB {
		// b is stored as [n, k].
		rhs = blas32.General{Rows: n, Cols: k, Stride: k, Data: b[:k*n]}
		tB = blas.Trans
	}

	out := blas32.General{Rows: m, Cols: n, Stride: n, Data: dst[:m*n]}
	var beta float32
	if accumulate {
		beta = 1
	}
	blas32.Gemm(tA, tB, 1, lhs, rhs, beta, out)
	return nil
}

// For runs f over chunks of [0, n) on the worker pool.
func (d *Device) For(n int, f func(start, end int)) {
	parallel.ForRange(n, 1, f, d.cfg)
}

// Release is a no-op for the CPU device.
func (d *Device) Release() {}

// Features lists the SIMD extensions relevant to float32 kernels that the CPU supports.
func Features() []string {
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "SSE4.1"},
		{cpuid.AVX2, "AVX2"},
		{cpuid.FMA3, "FMA3"},
		{cpuid.AVX512F, "AVX512F"},
		{cpuid.ASIMD, "NEON"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	return feats
}
