package cpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/view"
)

func mallocF32(t *testing.T, b *Backend, vals []float64) *backend.Slot {
	t.Helper()
	data, err := backend.Encode(shapes.Float32, vals)
	require.NoError(t, err)
	s, err := b.Malloc(len(data), data)
	require.NoError(t, err)
	return s
}

func readF32(t *testing.T, b *Backend, s *backend.Slot) []float64 {
	t.Helper()
	data, err := b.ReadSync(context.Background(), s, 0, -1)
	require.NoError(t, err)
	vals, err := backend.Decode(shapes.Float32, data)
	require.NoError(t, err)
	return vals
}

func TestMallocReadRoundTrip(t *testing.T) {
	b := New()
	s := mallocF32(t, b, []float64{1.5, -2, 3})
	assert.Equal(t, []float64{1.5, -2, 3}, readF32(t, b, s))

	stats := b.MemStats()
	assert.Equal(t, 1, stats.LiveSlots)
	assert.Equal(t, uint64(12), stats.LiveBytes)

	require.NoError(t, b.DecRef(s))
	assert.Equal(t, 0, b.MemStats().LiveSlots)

	// Slot is gone.
	_, err := b.ReadSync(context.Background(), s, 0, -1)
	var se *backend.SlotError
	assert.ErrorAs(t, err, &se)
}

func TestExecuteElementwise(t *testing.T) {
	b := NewSequential()
	x := mallocF32(t, b, []float64{1, 2, 3, 4})
	y := mallocF32(t, b, []float64{10, 20, 30, 40})
	out, err := b.Malloc(16, nil)
	require.NoError(t, err)

	idx := []*alu.Exp{kernel.Idx(0, 4)}
	tuned := kernel.Tune(kernel.Kernel{
		NArgs:    2,
		OutShape: []int{4},
		OutDType: shapes.Float32,
		Exp: alu.Add(
			alu.NewGlobalView(0, view.Contiguous([]int{4}), shapes.Float32, idx),
			alu.NewGlobalView(1, view.Contiguous([]int{4}), shapes.Float32, idx),
		),
	})
	require.NoError(t, b.ExecuteSync(context.Background(), tuned, []*backend.Slot{x, y}, []*backend.Slot{out}))
	assert.Equal(t, []float64{11, 22, 33, 44}, readF32(t, b, out))
}

func TestExecuteReduction(t *testing.T) {
	b := New()
	x := mallocF32(t, b, []float64{1, 2, 3, 10, 20, 30})
	out, err := b.Malloc(8, nil)
	require.NoError(t, err)

	idx := []*alu.Exp{kernel.Idx(0, 2), kernel.Idx(1, 3)}
	tuned := kernel.Tune(kernel.Kernel{
		NArgs:     1,
		OutShape:  []int{2},
		OutDType:  shapes.Float32,
		Exp:       alu.NewGlobalView(0, view.Contiguous([]int{2, 3}), shapes.Float32, idx),
		Reduction: &kernel.Reduction{DType: shapes.Float32, Op: alu.OpAdd, Size: 3},
	})
	require.NoError(t, b.ExecuteSync(context.Background(), tuned, []*backend.Slot{x}, []*backend.Slot{out}))
	assert.Equal(t, []float64{6, 60}, readF32(t, b, out))
}

func TestExecutePaddedView(t *testing.T) {
	b := NewSequential()
	x := mallocF32(t, b, []float64{5, 7})
	out, err := b.Malloc(16, nil)
	require.NoError(t, err)

	tr := view.Contiguous([]int{2}).Pad([][2]int{{1, 1}})
	tuned := kernel.Tune(kernel.Kernel{
		NArgs:    1,
		OutShape: []int{4},
		OutDType: shapes.Float32,
		Exp:      alu.NewGlobalView(0, tr, shapes.Float32, []*alu.Exp{kernel.Idx(0, 4)}),
	})
	require.NoError(t, b.ExecuteSync(context.Background(), tuned, []*backend.Slot{x}, []*backend.Slot{out}))
	assert.Equal(t, []float64{0, 5, 7, 0}, readF32(t, b, out))
}

func TestExecuteIntDTypes(t *testing.T) {
	b := NewSequential()
	data, err := backend.Encode(shapes.Int32, []float64{-3, 7})
	require.NoError(t, err)
	x, err := b.Malloc(len(data), data)
	require.NoError(t, err)
	out, err := b.Malloc(8, nil)
	require.NoError(t, err)

	tuned := kernel.Tune(kernel.Kernel{
		NArgs:    1,
		OutShape: []int{2},
		OutDType: shapes.Int32,
		Exp: alu.Add(
			alu.NewGlobalView(0, view.Contiguous([]int{2}), shapes.Int32, []*alu.Exp{kernel.Idx(0, 2)}),
			alu.ConstInt(1),
		),
	})
	require.NoError(t, b.ExecuteSync(context.Background(), tuned, []*backend.Slot{x}, []*backend.Slot{out}))

	raw, err := b.ReadSync(context.Background(), out, 0, -1)
	require.NoError(t, err)
	vals, err := backend.Decode(shapes.Int32, raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 8}, vals)
}

func TestExecuteRejectsComplex(t *testing.T) {
	b := NewSequential()
	out, _ := b.Malloc(8, nil)
	tuned := kernel.Tuned{NArgs: 0, OutDType: shapes.Complex64, Size: 1, Exp: alu.Const(shapes.Float32, 0.0)}
	err := b.ExecuteSync(context.Background(), tuned, nil, []*backend.Slot{out})
	assert.Error(t, err)
}

func TestExecuteCancelled(t *testing.T) {
	b := NewSequential()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, _ := b.Malloc(4, nil)
	tuned := kernel.Tuned{OutDType: shapes.Float32, Size: 1, Exp: alu.Const(shapes.Float32, 1.0)}
	err := b.ExecuteSync(ctx, tuned, nil, []*backend.Slot{out})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadRange(t *testing.T) {
	b := New()
	s := mallocF32(t, b, []float64{1, 2, 3, 4})
	data, err := b.ReadSync(context.Background(), s, 4, 8)
	require.NoError(t, err)
	vals, err := backend.Decode(shapes.Float32, data)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, vals)

	_, err = b.ReadSync(context.Background(), s, 12, 8)
	assert.Error(t, err)
}
