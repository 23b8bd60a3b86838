package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/view"
)

func loader(bufs ...[]float64) alu.LoadFunc {
	return func(gid, off int) float64 { return bufs[gid][off] }
}

func noGlobalViews(t *testing.T, e *alu.Exp) {
	t.Helper()
	left := e.Collect(func(n *alu.Exp) bool { return n.Op == alu.OpGlobalView })
	assert.Empty(t, left, "tuned expression must not contain abstract view reads")
}

func TestTuneElementwise(t *testing.T) {
	shape := []int{2, 3}
	idx := []*alu.Exp{Idx(0, 2), Idx(1, 3)}
	a := alu.NewGlobalView(0, view.Contiguous(shape), shapes.Float32, idx)
	b := alu.NewGlobalView(1, view.Contiguous(shape).Permute([]int{1, 0}).Permute([]int{1, 0}), shapes.Float32, idx)

	tuned := Tune(Kernel{
		NArgs:    2,
		OutShape: shape,
		OutDType: shapes.Float32,
		Exp:      alu.Add(a, b),
	})
	require.Equal(t, 6, tuned.Size)
	require.Equal(t, []alu.SpecialArg{{Name: "gidx", Bound: 6}}, tuned.Specials)
	assert.Equal(t, []shapes.DType{shapes.Float32, shapes.Float32}, tuned.ArgDTypes)
	noGlobalViews(t, tuned.Exp)

	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{10, 20, 30, 40, 50, 60}
	for g := 0; g < tuned.Size; g++ {
		got := tuned.Exp.Evaluate(map[string]int{"gidx": g}, loader(x, y))
		assert.Equal(t, x[g]+y[g], got)
	}
}

func TestTuneBroadcastRead(t *testing.T) {
	// b is a [3] vector broadcast over [2,3]; the lowered read must index
	// only the last axis.
	shape := []int{2, 3}
	idx := []*alu.Exp{Idx(0, 2), Idx(1, 3)}
	a := alu.NewGlobalView(0, view.Contiguous(shape), shapes.Float32, idx)
	b := alu.NewGlobalView(1, view.Contiguous([]int{3}).Broadcast(shape, []int{0}), shapes.Float32, idx)

	tuned := Tune(Kernel{NArgs: 2, OutShape: shape, OutDType: shapes.Float32, Exp: alu.Mul(a, b)})
	noGlobalViews(t, tuned.Exp)

	x := []float64{1, 2, 3, 4, 5, 6}
	v := []float64{2, 3, 4}
	for g := 0; g < 6; g++ {
		got := tuned.Exp.Evaluate(map[string]int{"gidx": g}, loader(x, v))
		assert.Equal(t, x[g]*v[g%3], got)
	}
}

func TestTunePaddedReadKeepsMask(t *testing.T) {
	// Reading through a pad wraps the load in a select on the mask.
	tr := view.Contiguous([]int{2}).Pad([][2]int{{1, 1}})
	e := alu.NewGlobalView(0, tr, shapes.Float32, []*alu.Exp{Idx(0, 4)})

	tuned := Tune(Kernel{NArgs: 1, OutShape: []int{4}, OutDType: shapes.Float32, Exp: e})
	noGlobalViews(t, tuned.Exp)
	selects := tuned.Exp.Collect(func(n *alu.Exp) bool { return n.Op == alu.OpWhere })
	require.NotEmpty(t, selects, "masked read must keep its validity select")

	buf := []float64{7, 9}
	want := []float64{0, 7, 9, 0}
	for g := 0; g < 4; g++ {
		got := tuned.Exp.Evaluate(map[string]int{"gidx": g}, loader(buf))
		assert.Equal(t, want[g], got, "gidx %d", g)
	}
}

func TestTuneValidReadDropsMask(t *testing.T) {
	// A fully valid view lowers to a bare load: interval reasoning proves
	// the mask and no select is emitted.
	e := alu.NewGlobalView(0, view.Contiguous([]int{4}), shapes.Float32, []*alu.Exp{Idx(0, 4)})
	tuned := Tune(Kernel{NArgs: 1, OutShape: []int{4}, OutDType: shapes.Float32, Exp: e})
	assert.Equal(t, alu.OpGlobalIndex, tuned.Exp.Op)
	assert.Equal(t, "g0[gidx]", tuned.Exp.String())
}

func TestTuneReduction(t *testing.T) {
	// Row sums of a [2,3] input: output shape [2], reduction axis of 3.
	idx := []*alu.Exp{Idx(0, 2), Idx(1, 3)}
	e := alu.NewGlobalView(0, view.Contiguous([]int{2, 3}), shapes.Float32, idx)

	tuned := Tune(Kernel{
		NArgs:     1,
		OutShape:  []int{2},
		OutDType:  shapes.Float32,
		Exp:       e,
		Reduction: &Reduction{DType: shapes.Float32, Op: alu.OpAdd, Size: 3},
	})
	require.Equal(t, []alu.SpecialArg{{Name: "gidx", Bound: 2}, {Name: "ridx", Bound: 3}}, tuned.Specials)
	noGlobalViews(t, tuned.Exp)

	buf := []float64{1, 2, 3, 10, 20, 30}
	for g := 0; g < 2; g++ {
		acc := tuned.Reduction.Identity()
		for r := 0; r < 3; r++ {
			acc += tuned.Exp.Evaluate(map[string]int{"gidx": g, "ridx": r}, loader(buf))
		}
		assert.Equal(t, []float64{6, 60}[g], acc)
	}
}

func TestTuneScalar(t *testing.T) {
	// Scalar kernels still get a unit-sized grid.
	e := alu.NewGlobalView(0, view.Contiguous(nil), shapes.Float32, nil)
	tuned := Tune(Kernel{NArgs: 1, OutShape: nil, OutDType: shapes.Float32, Exp: alu.Neg(e)})
	assert.Equal(t, 1, tuned.Size)
	assert.Equal(t, 1, tuned.Specials[0].Bound)
	got := tuned.Exp.Evaluate(map[string]int{"gidx": 0}, loader([]float64{5}))
	assert.Equal(t, -5.0, got)
}

func TestReductionIdentity(t *testing.T) {
	assert.Equal(t, 0.0, (&Reduction{Op: alu.OpAdd}).Identity())
	assert.Equal(t, 1.0, (&Reduction{Op: alu.OpMul}).Identity())
}
