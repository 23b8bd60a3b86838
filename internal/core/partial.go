package core

import (
	"context"
	"weak"

	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
)

// partialVal is the known/unknown split driving partial evaluation: known
// carries a value, unknown only an aval.
type partialVal struct {
	known Value // nil when unknown
	aval  shapes.ShapedArray
}

func knownVal(v Value) partialVal { return partialVal{known: v, aval: v.Aval()} }

func unknownVal(a shapes.ShapedArray) partialVal { return partialVal{aval: a} }

// recipe records how an unknown tracer came to be; the Jaxpr assembly walk
// follows them backwards.
type recipe interface{ isRecipe() }

// lambdaBinding marks a trace input.
type lambdaBinding struct{}

// constRecipe lifts a known value into the staged program.
type constRecipe struct{ val Value }

// eqnRecipe records one staged primitive application. Output tracers are
// held weakly so unused results can be collected before assembly; a dead
// weak reference at assembly time becomes a fresh dead binder.
type eqnRecipe struct {
	prim     jaxpr.Primitive
	in       []*partialTracer
	params   jaxpr.Params
	avalsOut []shapes.ShapedArray
	outRefs  []weak.Pointer[partialTracer]
}

func (lambdaBinding) isRecipe() {}
func (*constRecipe) isRecipe()  {}
func (*eqnRecipe) isRecipe()    {}

type partialTracer struct {
	main  *MainTrace
	aval  shapes.ShapedArray
	known Value // nil when unknown
	rec   recipe
}

func (t *partialTracer) Aval() shapes.ShapedArray { return t.aval }
func (t *partialTracer) traceMain() *MainTrace    { return t.main }

type partialTrace struct {
	main *MainTrace
}

func newPartialTrace(m *MainTrace) Trace { return &partialTrace{main: m} }

func (t *partialTrace) Main() *MainTrace { return t.main }

func (t *partialTrace) Pure(a *Array) Value {
	return &partialTracer{main: t.main, aval: a.Aval(), known: a}
}

func (t *partialTrace) Lift(tr Tracer) Value {
	return &partialTracer{main: t.main, aval: tr.Aval(), known: tr}
}

// instantiate turns a known tracer into an unknown one backed by a const
// recipe, lifting its value into the staged program.
func (t *partialTrace) instantiate(pt *partialTracer) *partialTracer {
	if pt.known == nil {
		return pt
	}
	return &partialTracer{
		main: t.main, aval: pt.aval,
		rec: &constRecipe{val: pt.known},
	}
}

func (t *partialTrace) Process(prim jaxpr.Primitive, in []Value, params jaxpr.Params) []Value {
	if prim == jaxpr.JitCall {
		// Inline the staged program; its equations re-enter this trace.
		return evalJaxpr(params.Jaxpr, in)
	}
	tracers := make([]*partialTracer, len(in))
	allKnown := true
	for i, v := range in {
		pt, ok := v.(*partialTracer)
		if !ok {
			failf("partial eval received a %T for %s", v, prim)
		}
		tracers[i] = pt
		allKnown = allKnown && pt.known != nil
	}

	// Known-only applications run immediately unless this trace is the
	// dynamic frame, which stages everything it sees.
	if allKnown && t.main != dynamicMain {
		vals := make([]Value, len(tracers))
		for i, pt := range tracers {
			vals[i] = pt.known
		}
		return bind(prim, params, vals...)
	}

	if prim == jaxpr.RandomBits {
		failf("random_bits depends on runtime state and cannot be staged; draw bits outside jit and autodiff")
	}

	ins := make([]*partialTracer, len(tracers))
	avalsIn := make([]shapes.ShapedArray, len(tracers))
	for i, pt := range tracers {
		ins[i] = t.instantiate(pt)
		avalsIn[i] = pt.aval
	}
	avalsOut, err := jaxpr.AbstractEval(prim, avalsIn, params)
	if err != nil {
		fail(err)
	}
	rec := &eqnRecipe{
		prim:     prim,
		in:       ins,
		params:   params,
		avalsOut: avalsOut,
		outRefs:  make([]weak.Pointer[partialTracer], len(avalsOut)),
	}
	out := make([]Value, len(avalsOut))
	for i, aval := range avalsOut {
		pt := &partialTracer{main: t.main, aval: aval, rec: rec}
		rec.outRefs[i] = weak.Make(pt)
		out[i] = pt
	}
	return out
}

// partialEvalFlat traces f with the given known/unknown split. The
// returned jaxpr computes the unknown outputs from hoisted constants
// followed by the unknown inputs; outPvals reports, per output, either the
// known value or the staged aval. With dynamic set the trace captures
// every operation, which is how jit builds its program.
func partialEvalFlat(f Func, pvals []partialVal, dynamic bool) (jx *jaxpr.Jaxpr, consts []Value, outPvals []partialVal) {
	m := newMain(newPartialTrace)
	defer popMain(m)
	if dynamic {
		prev := setDynamic(m)
		defer func() { dynamicMain = prev }()
	}
	tr := m.trace().(*partialTrace)

	tracersIn := make([]*partialTracer, len(pvals))
	args := make([]Value, len(pvals))
	for i, pv := range pvals {
		tracersIn[i] = &partialTracer{main: m, aval: pv.aval, known: pv.known, rec: lambdaBinding{}}
		args[i] = tracersIn[i]
	}
	outs := f(args)

	tracersOut := make([]*partialTracer, len(outs))
	for i, o := range outs {
		tracersOut[i] = fullRaise(tr, o).(*partialTracer)
		if dynamic {
			tracersOut[i] = tr.instantiate(tracersOut[i])
		}
	}
	outPvals = make([]partialVal, len(tracersOut))
	for i, t := range tracersOut {
		outPvals[i] = partialVal{known: t.known, aval: t.aval}
	}

	var unkIn, unkOut []*partialTracer
	for _, t := range tracersIn {
		if t.known == nil {
			unkIn = append(unkIn, t)
		}
	}
	for _, t := range tracersOut {
		if t.known == nil {
			unkOut = append(unkOut, t)
		}
	}
	jx, consts = tracersToJaxpr(unkIn, unkOut)
	if err := jx.TypeCheck(); err != nil {
		fail(err)
	}
	return jx, consts, outPvals
}

// tracersToJaxpr assembles the recipe graph reachable from out into a
// jaxpr. Hoisted constants become a binder prefix; scalar concrete
// constants inline as literals instead.
func tracersToJaxpr(in, out []*partialTracer) (*jaxpr.Jaxpr, []Value) {
	vars := make(map[*partialTracer]*jaxpr.Var)
	inVars := make([]*jaxpr.Var, len(in))
	for i, t := range in {
		inVars[i] = jaxpr.NewVar(t.aval)
		vars[t] = inVars[i]
	}

	var constVars []*jaxpr.Var
	var consts []Value

	// atomFor resolves a tracer to an atom, hoisting constants on first
	// encounter.
	atomFor := func(t *partialTracer) jaxpr.Atom {
		if v, ok := vars[t]; ok {
			return v
		}
		switch rc := t.rec.(type) {
		case *constRecipe:
			if l, ok := scalarLit(rc.val); ok {
				return l
			}
			v := jaxpr.NewVar(t.aval)
			vars[t] = v
			constVars = append(constVars, v)
			consts = append(consts, rc.val)
			return v
		case lambdaBinding:
			failf("staged value escaped its trace")
		case nil:
			failf("tracer with no recipe during jaxpr assembly")
		}
		failf("recipe out of topological order during jaxpr assembly")
		return nil
	}

	var roots []*eqnRecipe
	for _, t := range out {
		if er, ok := t.rec.(*eqnRecipe); ok {
			roots = append(roots, er)
		}
	}
	order := utils.TopoSort(roots, func(r *eqnRecipe) []*eqnRecipe {
		var ps []*eqnRecipe
		for _, t := range r.in {
			if er, ok := t.rec.(*eqnRecipe); ok {
				ps = append(ps, er)
			}
		}
		return ps
	})

	eqns := make([]jaxpr.Eqn, 0, len(order))
	for _, r := range order {
		inputs := make([]jaxpr.Atom, len(r.in))
		for i, t := range r.in {
			inputs[i] = atomFor(t)
		}
		outBinders := make([]*jaxpr.Var, len(r.avalsOut))
		for i, aval := range r.avalsOut {
			v := jaxpr.NewVar(aval)
			if pt := r.outRefs[i].Value(); pt != nil {
				vars[pt] = v
			}
			outBinders[i] = v
		}
		eqns = append(eqns, jaxpr.Eqn{Prim: r.prim, Inputs: inputs, Params: r.params, OutBinders: outBinders})
	}

	outAtoms := make([]jaxpr.Atom, len(out))
	for i, t := range out {
		outAtoms[i] = atomFor(t)
	}
	return &jaxpr.Jaxpr{
		InBinders: append(constVars, inVars...),
		Eqns:      eqns,
		Outs:      outAtoms,
	}, consts
}

// scalarLit inlines a concrete scalar constant as a literal atom.
func scalarLit(v Value) (jaxpr.Lit, bool) {
	a, ok := v.(*Array)
	if !ok || a.aval.Shape.NDim() != 0 {
		return jaxpr.Lit{}, false
	}
	vals, err := a.Read(context.Background())
	if err != nil || len(vals) != 1 {
		return jaxpr.Lit{}, false
	}
	return jaxpr.Lit{DType: a.aval.DType, Val: vals[0]}, true
}
