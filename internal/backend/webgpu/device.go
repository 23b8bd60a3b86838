package webgpu

import (
	"context"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/utils"
)

// gpuBuffer is the slot handle payload: the device buffer plus its rounded
// allocation size (bindings must be 4-byte aligned).
type gpuBuffer struct {
	buf  *wgpu.Buffer
	size uint64
}

// Backend dispatches generated WGSL kernels on a WebGPU device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline caches, keyed by a hash of the generated WGSL.
	mu        sync.RWMutex
	shaders   map[uint64]*wgpu.ShaderModule
	pipelines map[uint64]*wgpu.ComputePipeline

	statsMu sync.Mutex
	stats   backend.MemStats
}

// New initializes a WebGPU backend on the best available adapter. It fails
// cleanly when no native WebGPU implementation is present.
func New() (b *Backend, err error) {
	// The native loader panics when the wgpu library is missing.
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = errors.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: create instance")
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: request adapter")
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: request device")
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("webgpu: no queue")
	}
	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   make(map[uint64]*wgpu.ShaderModule),
		pipelines: make(map[uint64]*wgpu.ComputePipeline),
	}, nil
}

// Type implements backend.Backend.
func (b *Backend) Type() string { return "webgpu" }

func roundUp4(n int) uint64 {
	if n < 4 {
		n = 4
	}
	return uint64((n + 3) &^ 3)
}

// Malloc implements backend.Backend.
func (b *Backend) Malloc(byteSize int, initial []byte) (*backend.Slot, error) {
	if byteSize < 0 {
		return nil, errors.Errorf("webgpu: malloc of negative size %d", byteSize)
	}
	if initial != nil && len(initial) > byteSize {
		return nil, errors.Errorf("webgpu: initial data (%d bytes) exceeds allocation (%d bytes)", len(initial), byteSize)
	}
	size := roundUp4(byteSize)
	buf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buf.GetMappedRange(0, size)), size)
	for i := range mapped {
		mapped[i] = 0
	}
	copy(mapped, initial)
	buf.Unmap()

	b.statsMu.Lock()
	b.stats.LiveSlots++
	b.stats.LiveBytes += size
	b.stats.PeakBytes = max(b.stats.PeakBytes, b.stats.LiveBytes)
	b.statsMu.Unlock()

	return backend.NewSlot(byteSize, &gpuBuffer{buf: buf, size: size}), nil
}

// IncRef implements backend.Backend.
func (b *Backend) IncRef(s *backend.Slot) error { return s.Retain() }

// DecRef implements backend.Backend.
func (b *Backend) DecRef(s *backend.Slot) error {
	h, err := s.Handle()
	if err != nil {
		return err
	}
	last, err := s.Release()
	if err != nil {
		return err
	}
	if last {
		gb := h.(*gpuBuffer)
		gb.buf.Release()
		b.statsMu.Lock()
		b.stats.LiveSlots--
		b.stats.LiveBytes -= gb.size
		b.statsMu.Unlock()
	}
	return nil
}

// Read implements backend.Backend.
func (b *Backend) Read(ctx context.Context, s *backend.Slot, start, count int) *backend.Future {
	data, err := b.ReadSync(ctx, s, start, count)
	return backend.Resolved(data, err)
}

// ReadSync implements backend.Backend. Storage buffers cannot be mapped
// directly, so the copy goes through a staging buffer.
func (b *Backend) ReadSync(ctx context.Context, s *backend.Slot, start, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := s.Handle()
	if err != nil {
		return nil, err
	}
	gb := h.(*gpuBuffer)
	if count < 0 {
		count = s.Size() - start
	}
	if start < 0 || start+count > s.Size() {
		return nil, errors.Errorf("webgpu: read [%d, %d) out of range for %d-byte slot", start, start+count, s.Size())
	}
	size := roundUp4(count)

	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(gb.buf, uint64(start), staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, errors.Wrap(err, "webgpu: map staging buffer")
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	out := make([]byte, count)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// Execute implements backend.Backend. Submission is asynchronous on the
// device; the returned future resolves once the work is queued, and reads
// synchronize through the mapped staging path.
func (b *Backend) Execute(ctx context.Context, k kernel.Tuned, inputs, outputs []*backend.Slot) *backend.Future {
	return backend.Resolved(nil, b.ExecuteSync(ctx, k, inputs, outputs))
}

// ExecuteSync implements backend.Backend.
func (b *Backend) ExecuteSync(ctx context.Context, k kernel.Tuned, inputs, outputs []*backend.Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(inputs) != k.NArgs {
		return errors.Errorf("webgpu: kernel wants %d inputs, got %d", k.NArgs, len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("webgpu: kernel writes one output, got %d slots", len(outputs))
	}

	code, err := GenerateWGSL(k)
	if err != nil {
		return err
	}
	pipeline, err := b.pipelineFor(code)
	if err != nil {
		return err
	}

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(k.Size))
	paramsBuf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             16,
		MappedAtCreation: wgpu.True,
	})
	copy(unsafe.Slice((*byte)(paramsBuf.GetMappedRange(0, 16)), 16), params)
	paramsBuf.Unmap()
	defer paramsBuf.Release()

	entries := make([]wgpu.BindGroupEntry, 0, k.NArgs+2)
	for i, s := range inputs {
		h, err := s.Handle()
		if err != nil {
			return err
		}
		gb := h.(*gpuBuffer)
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), gb.buf, 0, gb.size))
	}
	oh, err := outputs[0].Handle()
	if err != nil {
		return err
	}
	ob := oh.(*gpuBuffer)
	entries = append(entries, wgpu.BufferBindingEntry(uint32(k.NArgs), ob.buf, 0, ob.size))
	entries = append(entries, wgpu.BufferBindingEntry(uint32(k.NArgs+1), paramsBuf, 0, 16))

	bindGroup := b.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	defer bindGroup.Release()

	klog.V(2).Infof("webgpu: dispatch size=%d reduction=%v", k.Size, k.Reduction != nil)

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((k.Size + workgroupSize - 1) / workgroupSize)
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))
	return nil
}

func (b *Backend) pipelineFor(code string) (*wgpu.ComputePipeline, error) {
	h := utils.NewFpHash()
	h.WriteString(code)
	key := h.Sum64()

	b.mu.RLock()
	pipeline, ok := b.pipelines[key]
	b.mu.RUnlock()
	if ok {
		return pipeline, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if pipeline, ok := b.pipelines[key]; ok {
		return pipeline, nil
	}
	shader := b.device.CreateShaderModuleWGSL(code)
	if shader == nil {
		return nil, errors.New("webgpu: shader compilation failed")
	}
	pipeline = b.device.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		return nil, errors.New("webgpu: pipeline creation failed")
	}
	b.shaders[key] = shader
	b.pipelines[key] = pipeline
	return pipeline, nil
}

// MemStats implements backend.Backend.
func (b *Backend) MemStats() backend.MemStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// Close releases the device objects. Slots must be freed first.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pipelines {
		p.Release()
	}
	for _, s := range b.shaders {
		s.Release()
	}
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}
