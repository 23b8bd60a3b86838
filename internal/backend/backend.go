// Package backend defines the contract between the core and device
// backends: reference-counted buffer slots, asynchronous kernel dispatch
// with futures, and byte-level reads. A backend receives only tuned
// kernels; their expressions reference nothing but constants, the listed
// loop specials, and flat reads from the input slots in order.
package backend

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/lamng3/gojax/internal/kernel"
)

// Backend is the sole interface the core consumes.
type Backend interface {
	// Type identifies the backend in JIT cache keys.
	Type() string

	// Malloc allocates a slot of byteSize bytes with refcount 1. When
	// initial is non-nil it seeds the buffer contents.
	Malloc(byteSize int, initial []byte) (*Slot, error)

	// IncRef and DecRef adjust a slot's refcount. DecRef frees the device
	// buffer when the count reaches zero.
	IncRef(s *Slot) error
	DecRef(s *Slot) error

	// Read copies [start, start+count) bytes out of a slot; count < 0
	// reads to the end.
	Read(ctx context.Context, s *Slot, start, count int) *Future
	ReadSync(ctx context.Context, s *Slot, start, count int) ([]byte, error)

	// Execute dispatches a tuned kernel over the given slots. Steps must
	// be dispatched in program order; the backend may overlap independent
	// kernels but honors the data dependencies implied by the slot lists.
	Execute(ctx context.Context, k kernel.Tuned, inputs, outputs []*Slot) *Future
	ExecuteSync(ctx context.Context, k kernel.Tuned, inputs, outputs []*Slot) error

	// MemStats reports live allocation counters.
	MemStats() MemStats
}

// MemStats tracks device memory accounting.
type MemStats struct {
	LiveSlots int
	LiveBytes uint64
	PeakBytes uint64
}

func (m MemStats) String() string {
	return fmt.Sprintf("%d slots, %s live (peak %s)",
		m.LiveSlots, humanize.IBytes(m.LiveBytes), humanize.IBytes(m.PeakBytes))
}
