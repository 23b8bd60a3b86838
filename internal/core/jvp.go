package core

import (
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
)

// jvpTracer carries a primal and its tangent; both share one aval.
type jvpTracer struct {
	main    *MainTrace
	primal  Value
	tangent Value
}

func (t *jvpTracer) Aval() shapes.ShapedArray { return t.primal.Aval() }
func (t *jvpTracer) traceMain() *MainTrace    { return t.main }

type jvpTrace struct {
	main *MainTrace
}

func newJVPTrace(m *MainTrace) Trace { return &jvpTrace{main: m} }

func (t *jvpTrace) Main() *MainTrace { return t.main }

func (t *jvpTrace) Pure(a *Array) Value {
	return &jvpTracer{main: t.main, primal: a, tangent: zerosLike(a)}
}

func (t *jvpTrace) Lift(tr Tracer) Value {
	return &jvpTracer{main: t.main, primal: tr, tangent: zerosLike(tr)}
}

func (t *jvpTrace) Process(prim jaxpr.Primitive, in []Value, params jaxpr.Params) []Value {
	if prim == jaxpr.JitCall {
		// Differentiating through a jit boundary inlines the staged
		// program; re-jitting the tangent computation is the caller's
		// business.
		return evalJaxpr(params.Jaxpr, in)
	}
	primals := make([]Value, len(in))
	tangents := make([]Value, len(in))
	for i, v := range in {
		jt, ok := v.(*jvpTracer)
		if !ok {
			failf("jvp received a %T for %s", v, prim)
		}
		primals[i] = jt.primal
		tangents[i] = jt.tangent
	}
	rule, ok := jvpRules[prim]
	if !ok {
		failf("no jvp rule for primitive %s", prim)
	}
	po, to := rule(params, primals, tangents)
	out := make([]Value, len(po))
	for i := range po {
		out[i] = &jvpTracer{main: t.main, primal: po[i], tangent: to[i]}
	}
	return out
}

type jvpRule func(params jaxpr.Params, primals, tangents []Value) (pout, tout []Value)

func one1(p, t Value) ([]Value, []Value) { return []Value{p}, []Value{t} }

var jvpRules = map[jaxpr.Primitive]jvpRule{
	jaxpr.Add: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Add(p[0], p[1]), Add(t[0], t[1]))
	},
	jaxpr.Mul: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Mul(p[0], p[1]), Add(Mul(t[0], p[1]), Mul(p[0], t[1])))
	},
	jaxpr.Neg: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Neg(p[0]), Neg(t[0]))
	},
	jaxpr.Sin: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Sin(p[0]), Mul(Cos(p[0]), t[0]))
	},
	jaxpr.Cos: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Cos(p[0]), Neg(Mul(Sin(p[0]), t[0])))
	},
	jaxpr.Exp: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		y := Exp(p[0])
		return one1(y, Mul(y, t[0]))
	},
	jaxpr.Log: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Log(p[0]), Mul(t[0], Reciprocal(p[0])))
	},
	jaxpr.Sqrt: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		y := Sqrt(p[0])
		half := constLike(p[0], 0.5)
		return one1(y, Mul(Mul(half, Reciprocal(y)), t[0]))
	},
	jaxpr.Reciprocal: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		y := Reciprocal(p[0])
		return one1(y, Neg(Mul(Mul(y, y), t[0])))
	},
	jaxpr.ReduceSum: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(ReduceSum(p[0], params.Axis), ReduceSum(t[0], params.Axis))
	},
	jaxpr.Compare: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		y := Compare(params.CmpOp, p[0], p[1])
		return one1(y, zerosLike(y))
	},
	jaxpr.Where: func(_ jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(WhereOp(p[0], p[1], p[2]), WhereOp(p[0], t[1], t[2]))
	},
	jaxpr.Transpose: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Transpose(p[0], params.Perm), Transpose(t[0], params.Perm))
	},
	jaxpr.Broadcast: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(BroadcastTo(p[0], params.Shape, params.Axes), BroadcastTo(t[0], params.Shape, params.Axes))
	},
	jaxpr.Reshape: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Reshape(p[0], params.Shape), Reshape(t[0], params.Shape))
	},
	jaxpr.Flip: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		return one1(Flip(p[0], params.Axis), Flip(t[0], params.Axis))
	},
	jaxpr.RandomBits: func(params jaxpr.Params, p, t []Value) ([]Value, []Value) {
		y := RandomBits(p[0], params.Shape)
		return one1(y, zerosLike(y))
	},
}

// JVPFlat pushes primals and tangents through f in one pass, returning
// both the outputs and their directional derivatives.
func JVPFlat(f Func, primals, tangents []Value) (pout, tout []Value, err error) {
	defer recoverErr(&err)
	pout, tout = jvpFlat(f, primals, tangents)
	return pout, tout, nil
}

func jvpFlat(f Func, primals, tangents []Value) (pout, tout []Value) {
	if len(primals) != len(tangents) {
		failf("jvp got %d primals and %d tangents", len(primals), len(tangents))
	}
	for i := range primals {
		if !primals[i].Aval().Equal(tangents[i].Aval()) {
			failf("jvp argument %d: primal %s and tangent %s disagree",
				i, primals[i].Aval(), tangents[i].Aval())
		}
	}
	m := newMain(newJVPTrace)
	defer popMain(m)
	tr := m.trace().(*jvpTrace)

	in := make([]Value, len(primals))
	for i := range primals {
		in[i] = &jvpTracer{main: m, primal: primals[i], tangent: tangents[i]}
	}
	outs := f(in)
	pout = make([]Value, len(outs))
	tout = make([]Value, len(outs))
	for i, o := range outs {
		jt := fullRaise(tr, o).(*jvpTracer)
		pout[i] = jt.primal
		tout[i] = jt.tangent
	}
	return pout, tout
}
