package core

import (
	"sort"

	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
)

// tval is a forward value during transposition: either a known primal or
// an undefined linear input carrying only its aval.
type tval struct {
	val   Value
	undef bool
	aval  shapes.ShapedArray
}

func (t tval) avalOf() shapes.ShapedArray {
	if t.undef {
		return t.aval
	}
	return t.val.Aval()
}

// transposeRule pulls output cotangents back to input cotangents for one
// linear primitive. Entries for non-undefined inputs stay nil.
type transposeRule func(params jaxpr.Params, cts []Value, ins []tval) []Value

// evalJaxprTransposed runs the backward pass over a linear jaxpr: a
// forward sweep evaluates equations whose inputs are all known, then
// cotangents flow from the outputs back to the undefined inputs.
// Cotangents accumulate by addition on reconvergence; untouched ones
// default to zeros.
func evalJaxprTransposed(j *jaxpr.Jaxpr, args []tval, cts []Value) []Value {
	if len(args) != len(j.InBinders) {
		failf("transpose expects %d arguments, got %d", len(j.InBinders), len(args))
	}
	if len(cts) != len(j.Outs) {
		failf("transpose expects %d cotangents, got %d", len(j.Outs), len(cts))
	}
	primalEnv := make(map[*jaxpr.Var]Value)
	for i, b := range j.InBinders {
		if !args[i].undef {
			primalEnv[b] = args[i].val
		}
	}
	readPrimal := func(a jaxpr.Atom) tval {
		switch at := a.(type) {
		case *jaxpr.Var:
			if v, ok := primalEnv[at]; ok {
				return tval{val: v}
			}
			return tval{undef: true, aval: at.Aval}
		case jaxpr.Lit:
			return tval{val: litValue(at)}
		}
		failf("unknown atom %T", a)
		return tval{}
	}
	readEqn := func(eqn jaxpr.Eqn) (ins []tval, anyUndef bool) {
		ins = make([]tval, len(eqn.Inputs))
		for i, a := range eqn.Inputs {
			ins[i] = readPrimal(a)
			anyUndef = anyUndef || ins[i].undef
		}
		return ins, anyUndef
	}

	for _, eqn := range j.Eqns {
		ins, anyUndef := readEqn(eqn)
		if anyUndef {
			continue
		}
		vals := make([]Value, len(ins))
		for i, in := range ins {
			vals[i] = in.val
		}
		outs := bind(eqn.Prim, eqn.Params, vals...)
		for i, b := range eqn.OutBinders {
			primalEnv[b] = outs[i]
		}
	}

	ctEnv := make(map[*jaxpr.Var]Value)
	writeCt := func(a jaxpr.Atom, ct Value) {
		if ct == nil {
			return
		}
		v, ok := a.(*jaxpr.Var)
		if !ok {
			return
		}
		if prev, ok := ctEnv[v]; ok {
			ctEnv[v] = Add(prev, ct)
			return
		}
		ctEnv[v] = ct
	}
	for i, o := range j.Outs {
		writeCt(o, cts[i])
	}

	for i := len(j.Eqns) - 1; i >= 0; i-- {
		eqn := j.Eqns[i]
		ins, anyUndef := readEqn(eqn)
		if !anyUndef {
			continue
		}
		ctsOut := make([]Value, len(eqn.OutBinders))
		for k, b := range eqn.OutBinders {
			if ct, ok := ctEnv[b]; ok {
				ctsOut[k] = ct
				continue
			}
			ctsOut[k] = zerosAval(b.Aval, defaultBackend)
		}
		rule, ok := transposeRules[eqn.Prim]
		if !ok {
			failf("%s is not linear in an undefined argument", eqn.Prim)
		}
		ctsIn := rule(eqn.Params, ctsOut, ins)
		for k, a := range eqn.Inputs {
			if ins[k].undef {
				writeCt(a, ctsIn[k])
			}
		}
	}

	var out []Value
	for i, b := range j.InBinders {
		if !args[i].undef {
			continue
		}
		if ct, ok := ctEnv[b]; ok {
			out = append(out, ct)
			continue
		}
		out = append(out, zerosAval(b.Aval, defaultBackend))
	}
	return out
}

// expectShape enforces the no-broadcast contract of the linear rules: a
// cotangent must already match the shape it flows into.
func expectShape(ct Value, aval shapes.ShapedArray) Value {
	if !ct.Aval().Equal(aval) {
		failf("cotangent %s flowing into %s; broadcasting in a linear position is not supported",
			ct.Aval(), aval)
	}
	return ct
}

var transposeRules = map[jaxpr.Primitive]transposeRule{
	jaxpr.Add: func(_ jaxpr.Params, cts []Value, ins []tval) []Value {
		out := make([]Value, 2)
		for i := range ins {
			if ins[i].undef {
				out[i] = expectShape(cts[0], ins[i].aval)
			}
		}
		return out
	},
	jaxpr.Neg: func(_ jaxpr.Params, cts []Value, ins []tval) []Value {
		return []Value{Neg(cts[0])}
	},
	jaxpr.Mul: func(_ jaxpr.Params, cts []Value, ins []tval) []Value {
		out := make([]Value, 2)
		switch {
		case ins[0].undef && ins[1].undef:
			failf("mul of two linear values is not linear")
		case ins[0].undef:
			out[0] = expectShape(Mul(cts[0], ins[1].val), ins[0].aval)
		case ins[1].undef:
			out[1] = expectShape(Mul(ins[0].val, cts[0]), ins[1].aval)
		}
		return out
	},
	jaxpr.ReduceSum: func(params jaxpr.Params, cts []Value, ins []tval) []Value {
		aval := ins[0].avalOf()
		return []Value{BroadcastTo(cts[0], aval.Shape, []int{params.Axis})}
	},
	jaxpr.Broadcast: func(params jaxpr.Params, cts []Value, ins []tval) []Value {
		ct := cts[0]
		axes := append([]int(nil), params.Axes...)
		sort.Sort(sort.Reverse(sort.IntSlice(axes)))
		for _, a := range axes {
			ct = ReduceSum(ct, a)
		}
		// Dims the broadcast expanded from 1 sum away too; a reshape
		// restores the unit axes.
		in := ins[0].avalOf()
		for k := in.Shape.NDim() - 1; k >= 0; k-- {
			if in.Shape[k] == 1 && ct.Aval().Shape[k] > 1 {
				ct = ReduceSum(ct, k)
			}
		}
		if !ct.Aval().Shape.Equal(in.Shape) {
			ct = Reshape(ct, in.Shape)
		}
		return []Value{ct}
	},
	jaxpr.Transpose: func(params jaxpr.Params, cts []Value, ins []tval) []Value {
		return []Value{Transpose(cts[0], utils.InversePerm(params.Perm))}
	},
	jaxpr.Reshape: func(_ jaxpr.Params, cts []Value, ins []tval) []Value {
		return []Value{Reshape(cts[0], ins[0].avalOf().Shape)}
	},
	jaxpr.Flip: func(params jaxpr.Params, cts []Value, ins []tval) []Value {
		return []Value{Flip(cts[0], params.Axis)}
	},
	jaxpr.Where: func(_ jaxpr.Params, cts []Value, ins []tval) []Value {
		if ins[0].undef {
			failf("where condition cannot be linear")
		}
		cond := ins[0].val
		out := make([]Value, 3)
		if ins[1].undef {
			out[1] = expectShape(WhereOp(cond, cts[0], zerosAval(ins[1].aval, backendOf(cts[0]))), ins[1].aval)
		}
		if ins[2].undef {
			out[2] = expectShape(WhereOp(cond, zerosAval(ins[2].aval, backendOf(cts[0])), cts[0]), ins[2].aval)
		}
		return out
	},
}
