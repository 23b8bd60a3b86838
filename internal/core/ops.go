package core

import (
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
)

// Primitive entry points. These are the only way values enter the trace
// stack; every transformation rule is written in terms of them.

// Add computes x + y with NumPy broadcasting.
func Add(x, y Value) Value { return bind1(jaxpr.Add, jaxpr.Params{}, x, y) }

// Mul computes x * y with NumPy broadcasting.
func Mul(x, y Value) Value { return bind1(jaxpr.Mul, jaxpr.Params{}, x, y) }

// Neg computes -x.
func Neg(x Value) Value { return bind1(jaxpr.Neg, jaxpr.Params{}, x) }

// Sub computes x - y.
func Sub(x, y Value) Value { return Add(x, Neg(y)) }

// Sin computes sin(x) elementwise.
func Sin(x Value) Value { return bind1(jaxpr.Sin, jaxpr.Params{}, x) }

// Cos computes cos(x) elementwise.
func Cos(x Value) Value { return bind1(jaxpr.Cos, jaxpr.Params{}, x) }

// Exp computes e^x elementwise.
func Exp(x Value) Value { return bind1(jaxpr.Exp, jaxpr.Params{}, x) }

// Log computes ln(x) elementwise.
func Log(x Value) Value { return bind1(jaxpr.Log, jaxpr.Params{}, x) }

// Sqrt computes the square root elementwise.
func Sqrt(x Value) Value { return bind1(jaxpr.Sqrt, jaxpr.Params{}, x) }

// Reciprocal computes 1/x elementwise.
func Reciprocal(x Value) Value { return bind1(jaxpr.Reciprocal, jaxpr.Params{}, x) }

// Div computes x / y.
func Div(x, y Value) Value { return Mul(x, Reciprocal(y)) }

// ReduceSum sums along one axis, removing it.
func ReduceSum(x Value, axis int) Value {
	return bind1(jaxpr.ReduceSum, jaxpr.Params{Axis: axis}, x)
}

// Compare applies the comparison op elementwise, yielding bool.
func Compare(op jaxpr.CmpOp, x, y Value) Value {
	return bind1(jaxpr.Compare, jaxpr.Params{CmpOp: op}, x, y)
}

// WhereOp selects x where cond holds, else y.
func WhereOp(cond, x, y Value) Value {
	return bind1(jaxpr.Where, jaxpr.Params{}, cond, x, y)
}

// Transpose permutes axes: out axis i reads input axis perm[i].
func Transpose(x Value, perm []int) Value {
	return bind1(jaxpr.Transpose, jaxpr.Params{Perm: perm}, x)
}

// BroadcastTo expands x to shape; axes lists the inserted positions.
func BroadcastTo(x Value, shape, axes []int) Value {
	return bind1(jaxpr.Broadcast, jaxpr.Params{Shape: shape, Axes: axes}, x)
}

// Reshape changes the logical shape, preserving element count and order.
func Reshape(x Value, shape []int) Value {
	return bind1(jaxpr.Reshape, jaxpr.Params{Shape: shape}, x)
}

// Flip reverses one axis.
func Flip(x Value, axis int) Value {
	return bind1(jaxpr.Flip, jaxpr.Params{Axis: axis}, x)
}

// RandomBits draws uniform uint32s of the given shape from a PRNG key.
// Only concrete evaluation supports it; staging it under jit or AD is a
// type error.
func RandomBits(key Value, shape []int) Value {
	return bind1(jaxpr.RandomBits, jaxpr.Params{Shape: shape}, key)
}

// backendOf finds the backend a value's eventual storage lives on, walking
// through tracers. Unknown partial tracers fall back to the default.
func backendOf(v Value) backend.Backend {
	switch t := v.(type) {
	case *Array:
		return t.be
	case *jvpTracer:
		return backendOf(t.primal)
	case *partialTracer:
		if t.known != nil {
			return backendOf(t.known)
		}
	}
	return defaultBackend
}

// constLike builds a scalar constant suitable for combining with ref.
func constLike(ref Value, v float64) Value {
	dt := ref.Aval().DType
	if !dt.IsNumeric() {
		failf("numeric constant with dtype %s", dt)
	}
	return mustScalar(backendOf(ref), dt, v)
}

// zerosLike builds a zero value of v's aval on v's backend.
func zerosLike(v Value) Value {
	return zerosAval(v.Aval(), backendOf(v))
}

func zerosAval(aval shapes.ShapedArray, be backend.Backend) Value {
	var z *Array
	if aval.DType == shapes.Bool {
		a, err := NewArray(be, shapes.Bool, nil, []float64{0})
		if err != nil {
			fail(err)
		}
		z = a
	} else {
		z = mustScalar(be, aval.DType, 0)
	}
	if aval.Shape.NDim() == 0 {
		return z
	}
	axes := make([]int, aval.Shape.NDim())
	for i := range axes {
		axes[i] = i
	}
	return BroadcastTo(z, aval.Shape, axes)
}

// litValue realizes a jaxpr literal as a concrete scalar.
func litValue(l jaxpr.Lit) Value {
	if l.DType == shapes.Bool {
		a, err := NewArray(defaultBackend, shapes.Bool, nil, []float64{l.Val})
		if err != nil {
			fail(err)
		}
		return a
	}
	return mustScalar(defaultBackend, l.DType, l.Val)
}

// evalJaxpr interprets a jaxpr over the current trace stack: each equation
// dispatches through bind, so the same walk serves concrete evaluation,
// JVP inlining of jit_call and the linear function of linearize.
func evalJaxpr(j *jaxpr.Jaxpr, args []Value) []Value {
	if len(args) != len(j.InBinders) {
		failf("jaxpr expects %d arguments, got %d", len(j.InBinders), len(args))
	}
	env := make(map[*jaxpr.Var]Value, len(j.InBinders)+len(j.Eqns))
	for i, b := range j.InBinders {
		env[b] = args[i]
	}
	read := func(a jaxpr.Atom) Value {
		switch at := a.(type) {
		case *jaxpr.Var:
			v, ok := env[at]
			if !ok {
				failf("unbound variable in jaxpr")
			}
			return v
		case jaxpr.Lit:
			return litValue(at)
		}
		failf("unknown atom %T", a)
		return nil
	}
	for _, eqn := range j.Eqns {
		in := make([]Value, len(eqn.Inputs))
		for i, a := range eqn.Inputs {
			in[i] = read(a)
		}
		outs := bind(eqn.Prim, eqn.Params, in...)
		if len(outs) != len(eqn.OutBinders) {
			failf("%s bound %d outputs to %d binders", eqn.Prim, len(outs), len(eqn.OutBinders))
		}
		for i, b := range eqn.OutBinders {
			env[b] = outs[i]
		}
	}
	out := make([]Value, len(j.Outs))
	for i, a := range j.Outs {
		out[i] = read(a)
	}
	return out
}
