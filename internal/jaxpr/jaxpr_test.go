package jaxpr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamng3/gojax/internal/shapes"
)

func f32(dims ...int) shapes.ShapedArray { return shapes.Make(shapes.Float32, dims...) }

// buildAddMul traces x -> (x+2)*x by hand.
func buildAddMul() *Jaxpr {
	a := NewVar(f32(2, 3))
	b := NewVar(f32(2, 3))
	c := NewVar(f32(2, 3))
	return &Jaxpr{
		InBinders: []*Var{a},
		Eqns: []Eqn{
			{Prim: Add, Inputs: []Atom{a, Lit{shapes.Float32, 2}}, OutBinders: []*Var{b}},
			{Prim: Mul, Inputs: []Atom{b, a}, OutBinders: []*Var{c}},
		},
		Outs: []Atom{c},
	}
}

func TestGoldenPrint(t *testing.T) {
	want := "{ lambda a:float32[2,3] .\n" +
		"  let b:float32[2,3] = add a 2\n" +
		"      c:float32[2,3] = mul b a\n" +
		"  in ( c ) }"
	assert.Equal(t, want, buildAddMul().String())
}

func TestPrintParams(t *testing.T) {
	a := NewVar(f32(2, 3))
	b := NewVar(f32(3, 2))
	j := &Jaxpr{
		InBinders: []*Var{a},
		Eqns: []Eqn{
			{Prim: Transpose, Inputs: []Atom{a}, Params: Params{Perm: []int{1, 0}}, OutBinders: []*Var{b}},
		},
		Outs: []Atom{b},
	}
	assert.Contains(t, j.String(), "transpose[perm=(1,0)] a")
}

func TestTypeCheckOK(t *testing.T) {
	require.NoError(t, buildAddMul().TypeCheck())
}

func TestTypeCheckFailures(t *testing.T) {
	a := NewVar(f32(2, 3))
	loose := NewVar(f32(2, 3))
	bad := NewVar(f32(9, 9)) // wrong binder aval

	j := &Jaxpr{
		InBinders: []*Var{a},
		Eqns: []Eqn{
			{Prim: Add, Inputs: []Atom{a, loose}, OutBinders: []*Var{bad}},
		},
		Outs: []Atom{bad},
	}
	err := j.TypeCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound variable")
	assert.Contains(t, err.Error(), "abstract eval says")
}

func TestAbstractEvalRules(t *testing.T) {
	// Broadcasting add keeps the first operand's dtype.
	out, err := AbstractEval(Add, []shapes.ShapedArray{f32(2, 1), f32(3)}, Params{})
	require.NoError(t, err)
	assert.Equal(t, f32(2, 3), out[0])

	// Compare always yields bool.
	out, err = AbstractEval(Compare, []shapes.ShapedArray{f32(4), f32(4)}, Params{CmpOp: CmpLt})
	require.NoError(t, err)
	assert.Equal(t, shapes.Bool, out[0].DType)

	// reduce_sum drops the axis.
	out, err = AbstractEval(ReduceSum, []shapes.ShapedArray{f32(2, 3, 4)}, Params{Axis: 1})
	require.NoError(t, err)
	assert.Equal(t, f32(2, 4), out[0])

	// broadcast inserts axes and expands unit dims.
	out, err = AbstractEval(Broadcast, []shapes.ShapedArray{f32(3)}, Params{Shape: []int{2, 3}, Axes: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, f32(2, 3), out[0])

	// random_bits takes a uint32[2] key.
	key := shapes.Make(shapes.Uint32, 2)
	out, err = AbstractEval(RandomBits, []shapes.ShapedArray{key}, Params{Shape: []int{5}})
	require.NoError(t, err)
	assert.Equal(t, shapes.Make(shapes.Uint32, 5), out[0])

	// Failures are type errors.
	cases := []struct {
		prim   Primitive
		in     []shapes.ShapedArray
		params Params
	}{
		{Sin, []shapes.ShapedArray{shapes.Make(shapes.Int32)}, Params{}},
		{Add, []shapes.ShapedArray{f32(2), f32(3)}, Params{}},
		{Reshape, []shapes.ShapedArray{f32(6)}, Params{Shape: []int{4}}},
		{Transpose, []shapes.ShapedArray{f32(2, 3)}, Params{Perm: []int{0, 0}}},
		{Where, []shapes.ShapedArray{f32(2), f32(2), f32(2)}, Params{}},
		{RandomBits, []shapes.ShapedArray{f32(2)}, Params{Shape: []int{1}}},
		{Primitive("bogus"), nil, Params{}},
	}
	for _, c := range cases {
		_, err := AbstractEval(c.prim, c.in, c.params)
		require.Error(t, err, "%s", c.prim)
		assert.True(t, errors.Is(err, ErrType), "%s: %v", c.prim, err)
	}
}

func TestFlattenInlinesJitCall(t *testing.T) {
	inner := buildAddMul()
	x := NewVar(f32(2, 3))
	y := NewVar(f32(2, 3))
	outer := &Jaxpr{
		InBinders: []*Var{x},
		Eqns: []Eqn{
			{Prim: JitCall, Inputs: []Atom{x}, Params: Params{Jaxpr: inner, NumConsts: 0}, OutBinders: []*Var{y}},
		},
		Outs: []Atom{y},
	}
	require.NoError(t, outer.TypeCheck())

	flat := outer.Flatten()
	for _, eqn := range flat.Eqns {
		assert.NotEqual(t, JitCall, eqn.Prim)
	}
	require.NoError(t, flat.TypeCheck())
	assert.True(t, flat.Equal(buildAddMul()), "inlined body must match the inner jaxpr:\n%s", flat)
}

func TestFlattenNested(t *testing.T) {
	inner := buildAddMul()
	x := NewVar(f32(2, 3))
	y := NewVar(f32(2, 3))
	mid := &Jaxpr{
		InBinders: []*Var{x},
		Eqns:      []Eqn{{Prim: JitCall, Inputs: []Atom{x}, Params: Params{Jaxpr: inner}, OutBinders: []*Var{y}}},
		Outs:      []Atom{y},
	}
	u := NewVar(f32(2, 3))
	v := NewVar(f32(2, 3))
	outer := &Jaxpr{
		InBinders: []*Var{u},
		Eqns:      []Eqn{{Prim: JitCall, Inputs: []Atom{u}, Params: Params{Jaxpr: mid}, OutBinders: []*Var{v}}},
		Outs:      []Atom{v},
	}
	flat := outer.Flatten()
	require.NoError(t, flat.TypeCheck())
	assert.True(t, flat.Equal(buildAddMul()))
}

func TestSimplifyDCE(t *testing.T) {
	a := NewVar(f32(4))
	dead := NewVar(f32(4))
	live := NewVar(f32(4))
	j := &Jaxpr{
		InBinders: []*Var{a},
		Eqns: []Eqn{
			{Prim: Sin, Inputs: []Atom{a}, OutBinders: []*Var{dead}},
			{Prim: Neg, Inputs: []Atom{a}, OutBinders: []*Var{live}},
		},
		Outs: []Atom{live},
	}
	s := j.Simplify()
	require.Len(t, s.Eqns, 1)
	assert.Equal(t, Neg, s.Eqns[0].Prim)
	require.NoError(t, s.TypeCheck())
}

func TestSimplifyConstFold(t *testing.T) {
	a := NewVar(f32())
	b := NewVar(f32())
	j := &Jaxpr{
		InBinders: nil,
		Eqns: []Eqn{
			{Prim: Add, Inputs: []Atom{Lit{shapes.Float32, 2}, Lit{shapes.Float32, 3}}, OutBinders: []*Var{a}},
			{Prim: Neg, Inputs: []Atom{a}, OutBinders: []*Var{b}},
		},
		Outs: []Atom{b},
	}
	s := j.Simplify()
	assert.Empty(t, s.Eqns)
	require.Len(t, s.Outs, 1)
	lit, ok := s.Outs[0].(Lit)
	require.True(t, ok)
	assert.Equal(t, -5.0, lit.Val)
}

func TestSimplifyCSE(t *testing.T) {
	a := NewVar(f32(4))
	s1 := NewVar(f32(4))
	s2 := NewVar(f32(4))
	sum := NewVar(f32(4))
	j := &Jaxpr{
		InBinders: []*Var{a},
		Eqns: []Eqn{
			{Prim: Sin, Inputs: []Atom{a}, OutBinders: []*Var{s1}},
			{Prim: Sin, Inputs: []Atom{a}, OutBinders: []*Var{s2}},
			{Prim: Add, Inputs: []Atom{s1, s2}, OutBinders: []*Var{sum}},
		},
		Outs: []Atom{sum},
	}
	s := j.Simplify()
	require.Len(t, s.Eqns, 2)
	// Both add inputs now reference the same sin.
	assert.Same(t, s.Eqns[1].Inputs[0], s.Eqns[1].Inputs[1])
	require.NoError(t, s.TypeCheck())
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, buildAddMul().Fingerprint(), buildAddMul().Fingerprint())

	other := buildAddMul()
	other.Eqns[0].Inputs[1] = Lit{shapes.Float32, 3}
	assert.NotEqual(t, buildAddMul().Fingerprint(), other.Fingerprint())

	// Params matter.
	a := NewVar(f32(2, 3))
	r0 := &Jaxpr{InBinders: []*Var{a}, Eqns: []Eqn{{Prim: ReduceSum, Params: Params{Axis: 0}, Inputs: []Atom{a}, OutBinders: []*Var{NewVar(f32(3))}}}}
	r1 := &Jaxpr{InBinders: []*Var{a}, Eqns: []Eqn{{Prim: ReduceSum, Params: Params{Axis: 1}, Inputs: []Atom{a}, OutBinders: []*Var{NewVar(f32(2))}}}}
	assert.NotEqual(t, r0.Fingerprint(), r1.Fingerprint())
}

func TestFlattenSimplifyTypechecks(t *testing.T) {
	inner := buildAddMul()
	x := NewVar(f32(2, 3))
	y := NewVar(f32(2, 3))
	outer := &Jaxpr{
		InBinders: []*Var{x},
		Eqns:      []Eqn{{Prim: JitCall, Inputs: []Atom{x}, Params: Params{Jaxpr: inner}, OutBinders: []*Var{y}}},
		Outs:      []Atom{y},
	}
	require.NoError(t, outer.Flatten().Simplify().TypeCheck())
}
