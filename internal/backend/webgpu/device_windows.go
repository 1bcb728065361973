//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/parallel"
)

// Device implements backend.Device on a WebGPU adapter.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	pipeline *wgpu.ComputePipeline
	mu       sync.Mutex // One submission at a time.

	cfg parallel.Config
}

// New creates a WebGPU device on the default high-performance adapter.
func New() (dev *Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrUnavailable, r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create instance: %w", ErrUnavailable, err)
	}

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %w", ErrUnavailable, err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request device: %w", ErrUnavailable, err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to get queue", ErrUnavailable)
	}

	shader := device.CreateShaderModuleWGSL(matmulShader)
	pipeline := device.CreateComputePipelineSimple(nil, shader, "main")

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		pipeline: pipeline,
		cfg:      parallel.DefaultConfig(),
	}, nil
}

// IsAvailable reports whether a WebGPU adapter can be acquired.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Name returns the adapter description.
func (d *Device) Name() string {
	return "WebGPU"
}

// Kind returns backend.WebGPU.
func (d *Device) Kind() backend.Kind {
	return backend.WebGPU
}

// MatMul runs the matmul shader and copies the result back to dst.
func (d *Device) MatMul(dst, a, b []float32, m, k, n int, transA, transB, accumulate bool) error {
	if err := backend.CheckMatMul(dst, a, b, m, k, n); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bufferA := d.createBuffer(float32Bytes(a[:m*k]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferA.Release()

	bufferB := d.createBuffer(float32Bytes(b[:k*n]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferB.Release()

	//nolint:gosec // G115: matrix dimensions are positive
	resultSize := uint64(m * n * 4)
	bufferResult := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	var flags uint32
	if transA {
		flags |= 1
	}
	if transB {
		flags |= 2
	}
	params := make([]byte, 16)
	//nolint:gosec // G115: matrix dimensions are positive
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	//nolint:gosec // G115: matrix dimensions are positive
	binary.LittleEndian.PutUint32(params[4:8], uint32(k))
	//nolint:gosec // G115: matrix dimensions are positive
	binary.LittleEndian.PutUint32(params[8:12], uint32(n))
	binary.LittleEndian.PutUint32(params[12:16], flags)
	bufferParams := d.createBuffer(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer bufferParams.Release()

	bindGroupLayout := d.pipeline.GetBindGroupLayout(0)
	//nolint:gosec // G115: matrix dimensions are positive
	bindGroup := d.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferA, 0, uint64(m*k*4)),
		wgpu.BufferBindingEntry(1, bufferB, 0, uint64(k*n*4)),
		wgpu.BufferBindingEntry(2, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(3, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(d.pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup counts are positive
	computePass.DispatchWorkgroups(uint32((n+workgroupTile-1)/workgroupTile), uint32((m+workgroupTile-1)/workgroupTile), 1)
	computePass.End()
	d.queue.Submit(encoder.Finish(nil))

	out, err := d.readBuffer(bufferResult, resultSize)
	if err != nil {
		return err
	}

	//nolint:gosec // unsafe.Slice over a buffer of exactly m*n float32 values
	result := unsafe.Slice((*float32)(unsafe.Pointer(&out[0])), m*n)
	if accumulate {
		for i, v := range result {
			dst[i] += v
		}
	} else {
		copy(dst, result)
	}
	return nil
}

// For runs f on the CPU worker pool.
func (d *Device) For(n int, f func(start, end int)) {
	parallel.ForRange(n, 1, f, d.cfg)
}

// Release releases all WebGPU resources.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline != nil {
		d.pipeline.Release()
		d.pipeline = nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// createBuffer creates a GPU buffer initialized with data.
func (d *Device) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := (uint64(len(data)) + 3) &^ 3

	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// readBuffer copies a storage buffer back to host memory through a staging buffer.
func (d *Device) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}

	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	staging.Unmap()

	return result, nil
}

// float32Bytes reinterprets a float32 slice as bytes without copying.
func float32Bytes(v []float32) []byte {
	//nolint:gosec // unsafe.Slice for zero-copy upload
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
