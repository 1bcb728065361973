package cpu

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/parallel"
)

// naiveMatMul is the reference op(a) @ op(b).
func naiveMatMul(a, b []float32, m, k, n int, transA, transB bool) []float32 {
	out := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var sum float32
			for p := range k {
				av := a[i*k+p]
				if transA {
					av = a[p*m+i]
				}
				bv := b[p*n+j]
				if transB {
					bv = b[j*k+p]
				}
				sum += av * bv
			}
			out[i*n+j] = sum
		}
	}
	return out
}

func seq(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%7-3) * scale
	}
	return out
}

func TestMatMulTransposeVariants(t *testing.T) {
	var dev backend.Device = New()
	m, k, n := 3, 4, 5
	a := seq(m*k, 0.5)
	b := seq(k*n, 0.25)

	for _, tc := range []struct {
		name           string
		transA, transB bool
	}{
		{"NN", false, false},
		{"TN", true, false},
		{"NT", false, true},
		{"TT", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]float32, m*n)
			require.NoError(t, dev.MatMul(dst, a, b, m, k, n, tc.transA, tc.transB, false))
			assert.InDeltaSlice(t, naiveMatMul(a, b, m, k, n, tc.transA, tc.transB), dst, 1e-5)
		})
	}
}

func TestMatMulAccumulate(t *testing.T) {
	dev := New()
	a := []float32{1, 2, 3, 4} // [2,2]
	b := []float32{1, 0, 0, 1} // identity
	dst := []float32{10, 10, 10, 10}

	require.NoError(t, dev.MatMul(dst, a, b, 2, 2, 2, false, false, true))
	assert.Equal(t, []float32{11, 12, 13, 14}, dst)

	require.NoError(t, dev.MatMul(dst, a, b, 2, 2, 2, false, false, false))
	assert.Equal(t, []float32{1, 2, 3, 4}, dst)
}

func TestMatMulRejectsShortOperands(t *testing.T) {
	dev := New()
	err := dev.MatMul(make([]float32, 4), make([]float32, 3), make([]float32, 4), 2, 2, 2, false, false, false)
	assert.Error(t, err)
}

func TestForVisitsAll(t *testing.T) {
	dev := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})
	var total int64
	dev.For(100, func(start, end int) {
		atomic.AddInt64(&total, int64(end-start))
	})
	assert.Equal(t, int64(100), total)
}

func TestNameAndKind(t *testing.T) {
	dev := New()
	assert.Equal(t, backend.CPU, dev.Kind())
	assert.NotEmpty(t, dev.Name())
	assert.Equal(t, "CPU", dev.Kind().String())
}
