// Package cpu implements the reference backend: tuned kernels are
// interpreted straight from their scalar IR, with the output loop spread
// across cores. It defines the semantics the code-generating backends are
// tested against.
package cpu

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/parallel"
)

type buffer struct {
	data []byte
}

// Backend interprets kernels on the host.
type Backend struct {
	cfg parallel.Config

	mu    sync.Mutex
	stats backend.MemStats
}

// New returns a CPU backend with default parallelism.
func New() *Backend {
	return &Backend{cfg: parallel.DefaultConfig()}
}

// NewSequential returns a single-threaded CPU backend; useful in tests
// where deterministic scheduling matters.
func NewSequential() *Backend {
	return &Backend{cfg: parallel.Config{}}
}

// Type implements backend.Backend.
func (b *Backend) Type() string { return "cpu" }

// Malloc implements backend.Backend.
func (b *Backend) Malloc(byteSize int, initial []byte) (*backend.Slot, error) {
	if byteSize < 0 {
		return nil, errors.Errorf("cpu: malloc of negative size %d", byteSize)
	}
	if initial != nil && len(initial) > byteSize {
		return nil, errors.Errorf("cpu: initial data (%d bytes) exceeds allocation (%d bytes)", len(initial), byteSize)
	}
	buf := &buffer{data: make([]byte, byteSize)}
	copy(buf.data, initial)

	b.mu.Lock()
	b.stats.LiveSlots++
	b.stats.LiveBytes += uint64(byteSize)
	b.stats.PeakBytes = max(b.stats.PeakBytes, b.stats.LiveBytes)
	b.mu.Unlock()

	return backend.NewSlot(byteSize, buf), nil
}

// IncRef implements backend.Backend.
func (b *Backend) IncRef(s *backend.Slot) error { return s.Retain() }

// DecRef implements backend.Backend.
func (b *Backend) DecRef(s *backend.Slot) error {
	last, err := s.Release()
	if err != nil {
		return err
	}
	if last {
		b.mu.Lock()
		b.stats.LiveSlots--
		b.stats.LiveBytes -= uint64(s.Size())
		b.mu.Unlock()
	}
	return nil
}

// Read implements backend.Backend.
func (b *Backend) Read(ctx context.Context, s *backend.Slot, start, count int) *backend.Future {
	data, err := b.ReadSync(ctx, s, start, count)
	return backend.Resolved(data, err)
}

// ReadSync implements backend.Backend.
func (b *Backend) ReadSync(ctx context.Context, s *backend.Slot, start, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := s.Handle()
	if err != nil {
		return nil, err
	}
	data := h.(*buffer).data
	if count < 0 {
		count = len(data) - start
	}
	if start < 0 || start+count > len(data) {
		return nil, errors.Errorf("cpu: read [%d, %d) out of range for %d-byte slot", start, start+count, len(data))
	}
	out := make([]byte, count)
	copy(out, data[start:start+count])
	return out, nil
}

// Execute implements backend.Backend. Interpretation completes before the
// future is returned; the asynchrony of the contract is for backends with
// real device queues.
func (b *Backend) Execute(ctx context.Context, k kernel.Tuned, inputs, outputs []*backend.Slot) *backend.Future {
	return backend.Resolved(nil, b.ExecuteSync(ctx, k, inputs, outputs))
}

// ExecuteSync implements backend.Backend.
func (b *Backend) ExecuteSync(ctx context.Context, k kernel.Tuned, inputs, outputs []*backend.Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(inputs) != k.NArgs {
		return errors.Errorf("cpu: kernel wants %d inputs, got %d", k.NArgs, len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("cpu: kernel writes one output, got %d slots", len(outputs))
	}
	if err := backend.CheckDType(k.OutDType); err != nil {
		return err
	}
	for _, dt := range k.ArgDTypes {
		if err := backend.CheckDType(dt); err != nil {
			return err
		}
	}

	ins := make([][]byte, len(inputs))
	for i, s := range inputs {
		h, err := s.Handle()
		if err != nil {
			return err
		}
		ins[i] = h.(*buffer).data
	}
	oh, err := outputs[0].Handle()
	if err != nil {
		return err
	}
	out := oh.(*buffer).data

	load := func(gid, off int) float64 {
		return backend.Get(k.ArgDTypes[gid], ins[gid], off)
	}

	klog.V(2).Infof("cpu: execute kernel size=%d reduction=%v", k.Size, k.Reduction != nil)

	parallel.For(k.Size, func(g int) {
		env := map[string]int{kernel.GidxName: g}
		var v float64
		if r := k.Reduction; r != nil {
			acc := r.Identity()
			for ri := 0; ri < r.Size; ri++ {
				env[kernel.RidxName] = ri
				x := k.Exp.Evaluate(env, load)
				switch r.Op {
				case alu.OpAdd:
					acc += x
				case alu.OpMul:
					acc *= x
				}
			}
			v = acc
		} else {
			v = k.Exp.Evaluate(env, load)
		}
		backend.Put(k.OutDType, out, g, v)
	}, b.cfg)

	return ctx.Err()
}

// MemStats implements backend.Backend.
func (b *Backend) MemStats() backend.MemStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
