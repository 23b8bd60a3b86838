package core

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/backend/cpu"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/view"
)

var defaultBackend backend.Backend = cpu.New()

// DefaultBackend returns the backend used for values created without an
// explicit one (scalar literals, zeros).
func DefaultBackend() backend.Backend { return defaultBackend }

// SetDefaultBackend swaps the default backend. Existing arrays keep the
// backend they were created on.
func SetDefaultBackend(b backend.Backend) { defaultBackend = b }

// Array is a concrete value: a refcounted device slot viewed through a
// shape tracker. View operations share the slot; only kernel dispatch
// allocates.
type Array struct {
	aval    shapes.ShapedArray
	tracker *view.ShapeTracker
	slot    *backend.Slot
	be      backend.Backend
}

// Aval implements Value.
func (a *Array) Aval() shapes.ShapedArray { return a.aval }

// Shape returns the logical shape.
func (a *Array) Shape() shapes.Shape { return a.aval.Shape }

// DType returns the element type.
func (a *Array) DType() shapes.DType { return a.aval.DType }

// Backend returns the backend holding the buffer.
func (a *Array) Backend() backend.Backend { return a.be }

// Slot returns the underlying device slot.
func (a *Array) Slot() *backend.Slot { return a.slot }

// Tracker returns the view over the buffer.
func (a *Array) Tracker() *view.ShapeTracker { return a.tracker }

// Free releases this array's reference to its slot.
func (a *Array) Free() error { return a.be.DecRef(a.slot) }

// NewArray uploads vals as a contiguous array of the given shape.
func NewArray(be backend.Backend, dtype shapes.DType, dims []int, vals []float64) (*Array, error) {
	aval := shapes.Make(dtype, dims...)
	if len(vals) != aval.Size() {
		return nil, typeErrorf("array %s wants %d values, got %d", aval, aval.Size(), len(vals))
	}
	data, err := backend.Encode(dtype, vals)
	if err != nil {
		return nil, err
	}
	slot, err := be.Malloc(aval.ByteSize(), data)
	if err != nil {
		return nil, err
	}
	return &Array{aval: aval, tracker: view.Contiguous(dims), slot: slot, be: be}, nil
}

// Scalar uploads a single value with the empty shape.
func Scalar(be backend.Backend, dtype shapes.DType, v float64) (*Array, error) {
	return NewArray(be, dtype, nil, []float64{v})
}

func mustScalar(be backend.Backend, dtype shapes.DType, v float64) *Array {
	a, err := Scalar(be, dtype, v)
	if err != nil {
		fail(err)
	}
	return a
}

// withView returns a new array over the same slot seen through tracker.
// The slot gains a reference; both arrays must be freed.
func (a *Array) withView(tracker *view.ShapeTracker, aval shapes.ShapedArray) *Array {
	if err := a.be.IncRef(a.slot); err != nil {
		fail(err)
	}
	return &Array{aval: aval, tracker: tracker, slot: a.slot, be: a.be}
}

func idxExps(shape []int) []*alu.Exp {
	out := make([]*alu.Exp, len(shape))
	for i, d := range shape {
		out[i] = kernel.Idx(i, d)
	}
	return out
}

// Materialize returns a contiguous copy, or the array itself when the view
// is already the identity.
func (a *Array) Materialize(ctx context.Context) (*Array, error) {
	if a.tracker.IsContiguous() {
		return a, nil
	}
	dims := a.aval.Shape
	k := kernel.Kernel{
		NArgs:    1,
		OutShape: dims,
		OutDType: a.aval.DType,
		Exp:      alu.NewGlobalView(0, a.tracker, a.aval.DType, idxExps(dims)),
	}
	slot, err := a.be.Malloc(a.aval.ByteSize(), nil)
	if err != nil {
		return nil, err
	}
	if err := a.be.ExecuteSync(ctx, kernel.Tune(k), []*backend.Slot{a.slot}, []*backend.Slot{slot}); err != nil {
		_ = a.be.DecRef(slot)
		return nil, err
	}
	return &Array{aval: a.aval, tracker: view.Contiguous(dims), slot: slot, be: a.be}, nil
}

// Read fetches the logical contents in row-major order, gathering through
// the view on the host. Masked-out positions read as zero.
func (a *Array) Read(ctx context.Context) ([]float64, error) {
	raw, err := a.be.ReadSync(ctx, a.slot, 0, -1)
	if err != nil {
		return nil, err
	}
	dims := a.aval.Shape
	out := make([]float64, a.aval.Size())
	if len(out) == 0 {
		return out, nil
	}
	elem := a.aval.DType.Size()
	pos := 0
	forEachIndex(dims, func(idx []int) {
		exps := make([]*alu.Exp, len(idx))
		for i, v := range idx {
			exps[i] = alu.ConstInt(v)
		}
		off, valid := a.tracker.LowerIndex(exps)
		if valid.Evaluate(nil, nil) == 0 {
			pos++
			return
		}
		o := int(off.Evaluate(nil, nil))
		if (o+1)*elem > len(raw) {
			err = errors.Errorf("view offset %d outside %d-byte buffer", o, len(raw))
			pos++
			return
		}
		out[pos] = backend.Get(a.aval.DType, raw, o)
		pos++
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func forEachIndex(dims []int, f func(idx []int)) {
	if shapes.Shape(dims).Size() == 0 {
		return
	}
	idx := make([]int, len(dims))
	for {
		f(idx)
		i := len(dims) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
