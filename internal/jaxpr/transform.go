package jaxpr

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
)

// TypeCheck validates SSA scoping and re-runs abstract evaluation on every
// equation, requiring the recorded binder avals to match. All failures are
// collected rather than stopping at the first.
func (j *Jaxpr) TypeCheck() error {
	var errs error
	scope := make(map[*Var]bool, len(j.InBinders))
	for _, v := range j.InBinders {
		if scope[v] {
			errs = multierr.Append(errs, errors.Errorf("duplicate in-binder"))
		}
		scope[v] = true
	}

	checkAtom := func(a Atom, where string) {
		if v, ok := a.(*Var); ok && !scope[v] {
			errs = multierr.Append(errs, errors.Errorf("%s: unbound variable", where))
		}
	}

	for i, eqn := range j.Eqns {
		in := make([]shapes.ShapedArray, len(eqn.Inputs))
		for k, a := range eqn.Inputs {
			checkAtom(a, fmt.Sprintf("eqn %d input %d", i, k))
			in[k] = a.AvalOf()
		}
		out, err := AbstractEval(eqn.Prim, in, eqn.Params)
		if err != nil {
			errs = multierr.Append(errs, errors.WithMessagef(err, "eqn %d (%s)", i, eqn.Prim))
		} else if len(out) != len(eqn.OutBinders) {
			errs = multierr.Append(errs, errors.Errorf("eqn %d (%s): %d outputs for %d binders", i, eqn.Prim, len(out), len(eqn.OutBinders)))
		} else {
			for k, v := range eqn.OutBinders {
				if !v.Aval.Equal(out[k]) {
					errs = multierr.Append(errs, errors.Errorf("eqn %d (%s): binder %d has aval %s, abstract eval says %s", i, eqn.Prim, k, v.Aval, out[k]))
				}
			}
		}
		for _, v := range eqn.OutBinders {
			if scope[v] {
				errs = multierr.Append(errs, errors.Errorf("eqn %d (%s): rebinds a variable", i, eqn.Prim))
			}
			scope[v] = true
		}
	}

	for k, o := range j.Outs {
		checkAtom(o, fmt.Sprintf("out %d", k))
	}
	return errs
}

// Flatten inlines every jit_call equation, renaming the inner binders, and
// returns an equivalent Jaxpr containing none.
func (j *Jaxpr) Flatten() *Jaxpr {
	env := make(map[*Var]Atom)
	resolve := func(a Atom) Atom {
		if v, ok := a.(*Var); ok {
			if r, ok := env[v]; ok {
				return r
			}
		}
		return a
	}

	var eqns []Eqn
	for _, eqn := range j.Eqns {
		inputs := make([]Atom, len(eqn.Inputs))
		for k, a := range eqn.Inputs {
			inputs[k] = resolve(a)
		}
		if eqn.Prim != JitCall {
			eqns = append(eqns, Eqn{Prim: eqn.Prim, Inputs: inputs, Params: eqn.Params, OutBinders: eqn.OutBinders})
			continue
		}

		inner := eqn.Params.Jaxpr.Flatten()
		local := make(map[*Var]Atom, len(inner.InBinders))
		for i, b := range inner.InBinders {
			local[b] = inputs[i]
		}
		sub := func(a Atom) Atom {
			if v, ok := a.(*Var); ok {
				if r, ok := local[v]; ok {
					return r
				}
			}
			return a
		}
		for _, ie := range inner.Eqns {
			iin := make([]Atom, len(ie.Inputs))
			for k, a := range ie.Inputs {
				iin[k] = sub(a)
			}
			fresh := make([]*Var, len(ie.OutBinders))
			for k, v := range ie.OutBinders {
				fresh[k] = NewVar(v.Aval)
				local[v] = fresh[k]
			}
			eqns = append(eqns, Eqn{Prim: ie.Prim, Inputs: iin, Params: ie.Params, OutBinders: fresh})
		}
		for k, o := range inner.Outs {
			env[eqn.OutBinders[k]] = sub(o)
		}
	}

	outs := make([]Atom, len(j.Outs))
	for k, o := range j.Outs {
		outs[k] = resolve(o)
	}
	return &Jaxpr{InBinders: j.InBinders, Eqns: eqns, Outs: outs}
}

// Simplify folds all-literal equations, deduplicates identical equations
// and drops dead ones. Semantics are preserved.
func (j *Jaxpr) Simplify() *Jaxpr {
	env := make(map[*Var]Atom)
	resolve := func(a Atom) Atom {
		if v, ok := a.(*Var); ok {
			if r, ok := env[v]; ok {
				return r
			}
		}
		return a
	}

	seen := make(map[string][]*Var)
	var eqns []Eqn
	for _, eqn := range j.Eqns {
		inputs := make([]Atom, len(eqn.Inputs))
		for k, a := range eqn.Inputs {
			inputs[k] = resolve(a)
		}
		if lit, ok := foldEqn(eqn, inputs); ok {
			env[eqn.OutBinders[0]] = lit
			continue
		}
		key := cseKey(eqn.Prim, inputs, eqn.Params)
		if prev, ok := seen[key]; ok {
			for k, v := range eqn.OutBinders {
				env[v] = prev[k]
			}
			continue
		}
		seen[key] = eqn.OutBinders
		eqns = append(eqns, Eqn{Prim: eqn.Prim, Inputs: inputs, Params: eqn.Params, OutBinders: eqn.OutBinders})
	}

	outs := make([]Atom, len(j.Outs))
	used := make(map[*Var]bool)
	for k, o := range j.Outs {
		outs[k] = resolve(o)
		if v, ok := outs[k].(*Var); ok {
			used[v] = true
		}
	}

	// Dead code elimination, right to left.
	kept := make([]Eqn, 0, len(eqns))
	for i := len(eqns) - 1; i >= 0; i-- {
		live := false
		for _, v := range eqns[i].OutBinders {
			live = live || used[v]
		}
		if !live {
			continue
		}
		for _, a := range eqns[i].Inputs {
			if v, ok := a.(*Var); ok {
				used[v] = true
			}
		}
		kept = append(kept, eqns[i])
	}
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	return &Jaxpr{InBinders: j.InBinders, Eqns: kept, Outs: outs}
}

// foldEqn evaluates a single-output scalar equation whose inputs are all
// literals.
func foldEqn(eqn Eqn, inputs []Atom) (Lit, bool) {
	if len(eqn.OutBinders) != 1 || eqn.OutBinders[0].Aval.Shape.NDim() != 0 {
		return Lit{}, false
	}
	vals := make([]float64, len(inputs))
	for i, a := range inputs {
		l, ok := a.(Lit)
		if !ok {
			return Lit{}, false
		}
		vals[i] = l.Val
	}
	dtype := eqn.OutBinders[0].Aval.DType
	switch eqn.Prim {
	case Add:
		return Lit{dtype, vals[0] + vals[1]}, true
	case Mul:
		return Lit{dtype, vals[0] * vals[1]}, true
	case Neg:
		return Lit{dtype, -vals[0]}, true
	case Sin:
		return Lit{dtype, math.Sin(vals[0])}, true
	case Cos:
		return Lit{dtype, math.Cos(vals[0])}, true
	case Exp:
		return Lit{dtype, math.Exp(vals[0])}, true
	case Log:
		return Lit{dtype, math.Log(vals[0])}, true
	case Sqrt:
		return Lit{dtype, math.Sqrt(vals[0])}, true
	case Reciprocal:
		return Lit{dtype, 1 / vals[0]}, true
	case Compare:
		var b bool
		switch eqn.Params.CmpOp {
		case CmpLt:
			b = vals[0] < vals[1]
		case CmpEq:
			b = vals[0] == vals[1]
		case CmpNe:
			b = vals[0] != vals[1]
		}
		v := 0.0
		if b {
			v = 1
		}
		return Lit{shapes.Bool, v}, true
	case Where:
		if vals[0] != 0 {
			return Lit{dtype, vals[1]}, true
		}
		return Lit{dtype, vals[2]}, true
	}
	return Lit{}, false
}

func cseKey(p Primitive, inputs []Atom, params Params) string {
	key := string(p) + "|" + paramsKey(params)
	for _, a := range inputs {
		switch v := a.(type) {
		case *Var:
			key += fmt.Sprintf("|v%p", v)
		case Lit:
			key += fmt.Sprintf("|l%s:%g", v.DType, v.Val)
		}
	}
	return key
}

func paramsKey(p Params) string {
	return fmt.Sprintf("%d;%v;%v;%v;%d;%p;%d", p.Axis, p.Perm, p.Shape, p.Axes, p.CmpOp, p.Jaxpr, p.NumConsts)
}

// Fingerprint hashes the program structure: primitives, params, avals and
// the dataflow graph under a canonical numbering. Structurally equal Jaxprs
// hash equal; the JIT compile cache keys on this.
func (j *Jaxpr) Fingerprint() uint64 {
	h := utils.NewFpHash()
	ids := make(map[*Var]int)
	id := func(v *Var) int {
		if n, ok := ids[v]; ok {
			return n
		}
		n := len(ids)
		ids[v] = n
		return n
	}
	writeAval := func(a shapes.ShapedArray) {
		h.WriteInt(int(a.DType))
		h.WriteInt(a.Shape.NDim())
		for _, d := range a.Shape {
			h.WriteInt(d)
		}
	}
	writeAtom := func(a Atom) {
		switch v := a.(type) {
		case *Var:
			h.WriteByte('v')
			h.WriteInt(id(v))
		case Lit:
			h.WriteByte('l')
			h.WriteInt(int(v.DType))
			h.WriteString(fmt.Sprintf("%g", v.Val))
		}
	}

	h.WriteInt(len(j.InBinders))
	for _, v := range j.InBinders {
		h.WriteInt(id(v))
		writeAval(v.Aval)
	}
	for _, eqn := range j.Eqns {
		h.WriteString(string(eqn.Prim))
		h.WriteInt(eqn.Params.Axis)
		for _, x := range eqn.Params.Perm {
			h.WriteInt(x)
		}
		h.WriteByte(';')
		for _, x := range eqn.Params.Shape {
			h.WriteInt(x)
		}
		h.WriteByte(';')
		for _, x := range eqn.Params.Axes {
			h.WriteInt(x)
		}
		h.WriteInt(int(eqn.Params.CmpOp))
		if eqn.Params.Jaxpr != nil {
			h.WriteInt(int(eqn.Params.Jaxpr.Fingerprint() % math.MaxInt32))
			h.WriteInt(eqn.Params.NumConsts)
		}
		for _, a := range eqn.Inputs {
			writeAtom(a)
		}
		for _, v := range eqn.OutBinders {
			h.WriteInt(id(v))
			writeAval(v.Aval)
		}
	}
	for _, o := range j.Outs {
		writeAtom(o)
	}
	return h.Sum64()
}

// Equal reports structural equality up to binder renaming.
func (j *Jaxpr) Equal(o *Jaxpr) bool {
	return j.Fingerprint() == o.Fingerprint() && j.String() == o.String()
}
