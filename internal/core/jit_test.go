package core

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamng3/gojax/internal/shapes"
)

// sinCosSum is the fusion workhorse: one reduction over a fused
// elementwise body.
func sinCosSum(args []Value) []Value {
	x := args[0]
	return []Value{ReduceSum(Mul(Sin(x), Cos(x)), 0)}
}

func TestJitMatchesEval(t *testing.T) {
	vals := []float64{0.1, 0.2, 0.3, 1, 2, 3, -1, -2, -3, 0.5, 1.5, 2.5}
	x := f32arr(t, []int{4, 3}, vals)

	want := valsOf(t, sinCosSum([]Value{x})[0])
	got := valsOf(t, JitFunc(sinCosSum)([]Value{x})[0])
	assert.InDeltaSlice(t, want, got, 1e-5)

	// Host-side reference.
	ref := make([]float64, 3)
	for i, v := range vals {
		ref[i%3] += math.Sin(v) * math.Cos(v)
	}
	assert.InDeltaSlice(t, ref, got, 1e-5)
}

func TestJitFusesToSingleKernel(t *testing.T) {
	jx, consts, err := MakeJaxpr(sinCosSum, []shapes.ShapedArray{shapes.Make(shapes.Float32, 4, 3)})
	require.NoError(t, err)
	require.Empty(t, consts)

	prog, err := Compile(DefaultBackend(), jx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, prog.NumExecutes(), "sin/cos/mul must fuse into the reduction kernel")

	x := f32arr(t, []int{4, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	outs, err := prog.Run(context.Background(), []*Array{x})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.InDeltaSlice(t, valsOf(t, sinCosSum([]Value{x})[0]), valsOf(t, outs[0]), 1e-5)
}

func TestJitReusesCompiledProgram(t *testing.T) {
	f := JitFunc(sinCosSum)
	x := f32arr(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	first := valsOf(t, f([]Value{x})[0])

	progMu.Lock()
	cached := len(progCache)
	progMu.Unlock()

	second := valsOf(t, f([]Value{x})[0])
	assert.InDeltaSlice(t, first, second, 1e-6)

	progMu.Lock()
	assert.Equal(t, cached, len(progCache), "second call with the same shapes must hit the compile cache")
	progMu.Unlock()
}

func TestJitIdempotent(t *testing.T) {
	avals := []shapes.ShapedArray{shapes.Make(shapes.Float32, 4, 3)}
	jx1, _, err := MakeJaxpr(sinCosSum, avals)
	require.NoError(t, err)
	jx2, _, err := MakeJaxpr(JitFunc(sinCosSum), avals)
	require.NoError(t, err)

	f1 := jx1.Flatten().Simplify()
	f2 := jx2.Flatten().Simplify()
	assert.Equal(t, f1.Fingerprint(), f2.Fingerprint())
	assert.Equal(t, f1.String(), f2.String())
}

func TestMakeJaxprGolden(t *testing.T) {
	f := func(args []Value) []Value {
		x := args[0]
		return []Value{Mul(Add(x, constLike(x, 2)), x)}
	}
	jx, consts, err := MakeJaxpr(f, []shapes.ShapedArray{shapes.Make(shapes.Float32, 2, 3)})
	require.NoError(t, err)
	require.Empty(t, consts, "scalar constants inline as literals")
	require.NoError(t, jx.TypeCheck())

	want := "{ lambda a:float32[2,3] .\n" +
		"  let b:float32[2,3] = add a 2\n" +
		"      c:float32[2,3] = mul b a\n" +
		"  in ( c ) }"
	if diff := cmp.Diff(want, jx.String()); diff != "" {
		t.Errorf("jaxpr mismatch (-want +got):\n%s", diff)
	}
}

func TestMakeJaxprTypeChecks(t *testing.T) {
	jx, _, err := MakeJaxpr(sinCosSum, []shapes.ShapedArray{shapes.Make(shapes.Float32, 5, 2)})
	require.NoError(t, err)
	require.NoError(t, jx.TypeCheck())
	require.NoError(t, jx.Flatten().Simplify().TypeCheck())
}

func TestGradOfJit(t *testing.T) {
	grads, err := GradFlat(JitFunc(cube), []Value{f32scalar(t, 4)})
	require.NoError(t, err)
	assert.InDelta(t, 48, valsOf(t, grads[0])[0], 1e-3)
}

func TestJitOfGrad(t *testing.T) {
	df := JitFunc(func(args []Value) []Value {
		return gradFlat(cube, args)
	})
	out := df([]Value{f32scalar(t, 5)})
	assert.InDelta(t, 75, valsOf(t, out[0])[0], 1e-3)
}

func TestJitClosureConstant(t *testing.T) {
	c := f32arr(t, []int{3}, []float64{10, 20, 30})
	f := JitFunc(func(args []Value) []Value {
		return []Value{Add(args[0], c)}
	})
	x := f32arr(t, []int{3}, []float64{1, 2, 3})
	assert.InDeltaSlice(t, []float64{11, 22, 33}, valsOf(t, f([]Value{x})[0]), 1e-5)
}

func TestJitViewOnlyOutput(t *testing.T) {
	f := JitFunc(func(args []Value) []Value {
		return []Value{Transpose(args[0], []int{1, 0})}
	})
	x := f32arr(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	out := f([]Value{x})
	assert.InDeltaSlice(t, []float64{1, 4, 2, 5, 3, 6}, valsOf(t, out[0]), 1e-6)
}
