package jax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarT(t *testing.T, v float64) *Array {
	t.Helper()
	a, err := Scalar(v)
	require.NoError(t, err)
	return a
}

func vecT(t *testing.T, vals ...float64) *Array {
	t.Helper()
	a, err := FromSlice([]int{len(vals)}, vals)
	require.NoError(t, err)
	return a
}

func readT(t *testing.T, v any) []float64 {
	t.Helper()
	a, ok := v.(*Array)
	require.True(t, ok, "expected *Array, got %T", v)
	vals, err := Read(context.Background(), a)
	require.NoError(t, err)
	return vals
}

func TestGradScalar(t *testing.T) {
	cube := func(args ...any) any {
		x := args[0].(Value)
		return Mul(Mul(x, x), x)
	}
	g := Grad(cube)
	assert.InDelta(t, 48, readT(t, g(scalarT(t, 4)))[0], 1e-3)
	assert.InDelta(t, 75, readT(t, g(scalarT(t, 5)))[0], 1e-3)
}

func TestGradComposes(t *testing.T) {
	f := func(args ...any) any {
		return Sin(Cos(args[0].(Value)))
	}
	assert.InDelta(t, -0.077432003, readT(t, Grad(f)(scalarT(t, 3)))[0], 1e-5)
	assert.InDelta(t, 0.559854311, readT(t, Grad(Grad(f))(scalarT(t, 3)))[0], 1e-4)
}

func TestGradMultipleArgs(t *testing.T) {
	f := func(args ...any) any {
		x, y := args[0].(Value), args[1].(Value)
		return Sum(Mul(x, y))
	}
	out := Grad(f)(vecT(t, 1, 2, 3), vecT(t, 10, 20, 30))
	grads := out.([]any)
	require.Len(t, grads, 2)
	assert.InDeltaSlice(t, []float64{10, 20, 30}, readT(t, grads[0]), 1e-5)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, readT(t, grads[1]), 1e-5)
}

// Linearize over a tree of inputs: {a, b} -> {r1: a*a + b, r2: b}.
func TestLinearizeTree(t *testing.T) {
	f := func(args ...any) any {
		in := args[0].(map[string]any)
		a := in["a"].(Value)
		b := in["b"].(Value)
		return map[string]any{
			"r1": Add(Mul(a, a), b),
			"r2": b,
		}
	}
	in := map[string]any{"a": scalarT(t, 3), "b": scalarT(t, 10)}
	out, lin, err := Linearize(f, in)
	require.NoError(t, err)

	outs := out.(map[string]any)
	assert.InDelta(t, 19, readT(t, outs["r1"])[0], 1e-5)
	assert.InDelta(t, 10, readT(t, outs["r2"])[0], 1e-5)

	tangents := map[string]any{"a": scalarT(t, 1), "b": scalarT(t, 0)}
	lout, err := lin(tangents)
	require.NoError(t, err)
	louts := lout.(map[string]any)
	assert.InDelta(t, 6, readT(t, louts["r1"])[0], 1e-5) // 2*a*da
	assert.InDelta(t, 0, readT(t, louts["r2"])[0], 1e-5)

	// Structure mismatches surface as errors.
	_, err = lin([]any{scalarT(t, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestJVPTree(t *testing.T) {
	f := func(args ...any) any {
		pair := args[0].([]any)
		return Mul(pair[0].(Value), pair[1].(Value))
	}
	primals := []any{[]any{scalarT(t, 3), scalarT(t, 4)}}
	tangents := []any{[]any{scalarT(t, 1), scalarT(t, 0)}}
	pout, tout, err := JVP(f, primals, tangents)
	require.NoError(t, err)
	assert.InDelta(t, 12, readT(t, pout)[0], 1e-5)
	assert.InDelta(t, 4, readT(t, tout)[0], 1e-5)
}

func TestVJPPullback(t *testing.T) {
	f := func(args ...any) any {
		x := args[0].(Value)
		return Sum(Mul(Sin(x), x))
	}
	x := vecT(t, 0.5, 1.5)
	_, pullback, err := VJP(f, x)
	require.NoError(t, err)
	ct, err := pullback(scalarT(t, 1))
	require.NoError(t, err)
	grads := readT(t, ct)
	require.Len(t, grads, 2)
}

func TestJitTree(t *testing.T) {
	f := func(args ...any) any {
		x := args[0].(Value)
		return map[string]any{
			"sum": Sum(Mul(Sin(x), Cos(x))),
			"neg": Neg(x),
		}
	}
	x := vecT(t, 1, 2, 3)
	want := f(x).(map[string]any)
	got := Jit(f)(x).(map[string]any)
	assert.InDeltaSlice(t, readT(t, want["sum"]), readT(t, got["sum"]), 1e-5)
	assert.InDeltaSlice(t, readT(t, want["neg"]), readT(t, got["neg"]), 1e-5)
}

func TestCallRecoversTraceErrors(t *testing.T) {
	f := func(args ...any) any {
		return Add(args[0].(Value), args[1].(Value))
	}
	_, err := Call(f, vecT(t, 1, 2, 3), vecT(t, 1, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrType)
}

func TestMakeJaxprRendering(t *testing.T) {
	f := func(args ...any) any {
		x := args[0].(Value)
		return Mul(Sin(x), x)
	}
	x, err := Zeros(2, 2)
	require.NoError(t, err)
	s, err := MakeJaxpr(f, x)
	require.NoError(t, err)
	assert.Contains(t, s, "sin")
	assert.Contains(t, s, "mul")
	assert.Contains(t, s, "float32[2,2]")
}

func TestArrayConstructors(t *testing.T) {
	z, err := Zeros(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, readT(t, z))

	o, err := Ones(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, readT(t, o))

	r, err := Arange(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, readT(t, r))

	fl, err := Full([]int{2}, 2.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 2.5}, readT(t, fl))
}

func TestSprint(t *testing.T) {
	a := vecT(t, 1, 2.5)
	s, err := Sprint(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "float32[2][1 2.5]", s)
}
