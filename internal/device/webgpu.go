//go:build windows

package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/PatWie/tf-custom-op/internal/tensor"
	"github.com/go-webgpu/webgpu/wgpu"
)

// readback is a finished-on-submit result waiting to be copied to host memory.
type readback struct {
	staging *wgpu.Buffer
	size    uint64
	dst     []byte
	owned   []*wgpu.Buffer // released after the copy
}

// WebGPU is a Launcher backed by a WebGPU device.
// Launches are encoded and submitted immediately; results are copied back
// into the output views by Synchronize. Synchronize calls are serialized, so
// a caller returns only after every readback enqueued before its call has
// been copied, including readbacks taken by a concurrent caller. A failed
// map is sticky: every later Synchronize and launch reports it.
type WebGPU struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// syncMu is held for a whole Synchronize, swap and copy.
	syncMu sync.Mutex

	pendingMu sync.Mutex
	pending   []readback
	closed    bool
	err       error // first map failure
}

// NewWebGPU opens the default high-performance adapter.
// Returns ErrUnavailable if WebGPU cannot be initialised.
func NewWebGPU() (launcher *WebGPU, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			launcher = nil
			err = fmt.Errorf("%w: webgpu native library: %v", ErrUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %w", ErrUnavailable, adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %w", ErrUnavailable, deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: no queue", ErrUnavailable)
	}

	return &WebGPU{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

// WebGPUAvailable reports whether a WebGPU adapter can be opened.
func WebGPUAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns the launcher name.
func (w *WebGPU) Name() string {
	return "webgpu"
}

// SupportsAddBias reports whether WGSL arithmetic exists for dt.
// WGSL has no 64-bit floats; the gradient is a bit copy and runs for every dtype.
func (w *WebGPU) SupportsAddBias(dt tensor.DataType) bool {
	return dt == tensor.Float32 || dt == tensor.Int32
}

// pipeline returns the cached compute pipeline for a shader, compiling it on first use.
func (w *WebGPU) pipeline(name, code string) *wgpu.ComputePipeline {
	w.mu.RLock()
	if p, ok := w.pipelines[name]; ok {
		w.mu.RUnlock()
		return p
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pipelines[name]; ok {
		return p
	}
	shader := w.device.CreateShaderModuleWGSL(code)
	w.shaders[name] = shader
	p := w.device.CreateComputePipelineSimple(nil, shader, "main")
	w.pipelines[name] = p
	return p
}

// upload creates a storage buffer initialised with data.
func (w *WebGPU) upload(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range of size bytes
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buffer.Unmap()
	return buffer
}

// uniform creates a 16-byte aligned uniform buffer.
func (w *WebGPU) uniform(data []byte) *wgpu.Buffer {
	size := (uint64(len(data)) + 15) &^ 15
	buffer := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range of size bytes
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buffer.Unmap()
	return buffer
}

func (w *WebGPU) storage(size uint64) *wgpu.Buffer {
	return w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

func (w *WebGPU) staging(size uint64) *wgpu.Buffer {
	return w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

// grid splits n invocations into an x/y workgroup grid and returns the
// number of invocations per y row.
func grid(n int) (x, y, row uint32) {
	groups := (n + workgroupSize - 1) / workgroupSize
	gx := min(groups, maxWorkgroupsPerDim)
	gy := (groups + gx - 1) / gx
	//nolint:gosec // G115: bounded by maxWorkgroupsPerDim and the element count
	return uint32(gx), uint32(gy), uint32(gx * workgroupSize)
}

// params encodes the shared uniform header: size, row and an optional bias.
func params(n int, row uint32, bias *float32) []byte {
	buf := make([]byte, 16)
	//nolint:gosec // G115: element counts are validated to fit in uint32
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n))
	binary.LittleEndian.PutUint32(buf[4:8], row)
	if bias != nil {
		binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(*bias))
	}
	return buf
}

func (w *WebGPU) checkOpen() error {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.closed {
		return ErrReleased
	}
	return w.err
}

// LaunchAddBias encodes and submits the forward kernel.
func (w *WebGPU) LaunchAddBias(out, a, b tensor.View, bias float32) error {
	if err := ValidateAddBias(out, a, b); err != nil {
		return err
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	var name, code string
	switch out.DType() {
	case tensor.Float32:
		name, code = "add_bias_f32", addBiasF32Shader
	case tensor.Int32:
		name, code = "add_bias_i32", addBiasI32Shader
	default:
		return fmt.Errorf("%w: webgpu has no %s arithmetic", ErrUnsupportedDType, out.DType())
	}
	if uint64(out.Len()) > math.MaxUint32 {
		return fmt.Errorf("%w: %d elements exceed a single dispatch", ErrInvalidLaunch, out.Len())
	}

	pipeline := w.pipeline(name, code)
	size := uint64(out.ByteLen())
	gx, gy, row := grid(out.Len())

	bufA := w.upload(a.Bytes())
	bufB := w.upload(b.Bytes())
	bufOut := w.storage(size)
	bufParams := w.uniform(params(out.Len(), row, &bias))
	staging := w.staging(size)

	bindGroup := w.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufA, 0, size),
		wgpu.BufferBindingEntry(1, bufB, 0, size),
		wgpu.BufferBindingEntry(2, bufOut, 0, size),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := w.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(gx, gy, 1)
	pass.End()
	encoder.CopyBufferToBuffer(bufOut, 0, staging, 0, size)
	w.queue.Submit(encoder.Finish(nil))

	w.enqueueReadback(readback{
		staging: staging,
		size:    size,
		dst:     out.Bytes(),
		owned:   []*wgpu.Buffer{bufA, bufB, bufOut, bufParams},
	})
	return nil
}

// LaunchAddBiasGrad encodes and submits the gradient kernel. a and b are
// validated but never uploaded.
func (w *WebGPU) LaunchAddBiasGrad(grad, a, b, gradA, gradB tensor.View) error {
	if err := ValidateAddBiasGrad(grad, a, b, gradA, gradB); err != nil {
		return err
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	words := grad.ByteLen() / 4
	if uint64(words) > math.MaxUint32 {
		return fmt.Errorf("%w: %d words exceed a single dispatch", ErrInvalidLaunch, words)
	}

	pipeline := w.pipeline("copy2_u32", copy2U32Shader)
	size := uint64(grad.ByteLen())
	gx, gy, row := grid(words)

	bufGrad := w.upload(grad.Bytes())
	bufA := w.storage(size)
	bufB := w.storage(size)
	bufParams := w.uniform(params(words, row, nil))
	stagingA := w.staging(size)
	stagingB := w.staging(size)

	bindGroup := w.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufGrad, 0, size),
		wgpu.BufferBindingEntry(1, bufA, 0, size),
		wgpu.BufferBindingEntry(2, bufB, 0, size),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := w.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(gx, gy, 1)
	pass.End()
	encoder.CopyBufferToBuffer(bufA, 0, stagingA, 0, size)
	encoder.CopyBufferToBuffer(bufB, 0, stagingB, 0, size)
	w.queue.Submit(encoder.Finish(nil))

	w.enqueueReadback(readback{
		staging: stagingA,
		size:    size,
		dst:     gradA.Bytes(),
		owned:   []*wgpu.Buffer{bufGrad, bufA, bufParams},
	})
	w.enqueueReadback(readback{
		staging: stagingB,
		size:    size,
		dst:     gradB.Bytes(),
		owned:   []*wgpu.Buffer{bufB},
	})
	return nil
}

func (w *WebGPU) enqueueReadback(r readback) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending = append(w.pending, r)
}

// Synchronize maps every pending staging buffer and copies it into its
// output view. All buffers are released even if a map fails.
func (w *WebGPU) Synchronize() error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	return w.drain()
}

// drain copies the pending readbacks. Callers hold syncMu.
func (w *WebGPU) drain() error {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = nil
	failed := w.err
	w.pendingMu.Unlock()

	for _, r := range pending {
		if failed == nil {
			if err := r.staging.MapAsync(w.device, wgpu.MapModeRead, 0, r.size); err != nil {
				failed = fmt.Errorf("webgpu: map staging buffer: %w", err)
			} else {
				mapped := r.staging.GetMappedRange(0, r.size)
				//nolint:gosec // unsafe.Slice over the mapped range of size bytes
				copy(r.dst, unsafe.Slice((*byte)(mapped), r.size))
				r.staging.Unmap()
			}
		}
		r.staging.Release()
		for _, buf := range r.owned {
			buf.Release()
		}
	}

	if failed != nil {
		w.pendingMu.Lock()
		if w.err == nil {
			w.err = failed
		}
		failed = w.err
		w.pendingMu.Unlock()
	}
	return failed
}

// Release waits for pending work and frees all WebGPU resources.
func (w *WebGPU) Release() {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	_ = w.drain()

	w.pendingMu.Lock()
	if w.closed {
		w.pendingMu.Unlock()
		return
	}
	w.closed = true
	w.pendingMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pipelines {
		p.Release()
	}
	w.pipelines = nil
	for _, s := range w.shaders {
		s.Release()
	}
	w.shaders = nil

	if w.queue != nil {
		w.queue.Release()
		w.queue = nil
	}
	if w.device != nil {
		w.device.Release()
		w.device = nil
	}
	if w.adapter != nil {
		w.adapter.Release()
		w.adapter = nil
	}
	if w.instance != nil {
		w.instance.Release()
		w.instance = nil
	}
}
