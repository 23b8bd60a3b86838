// Package jaxpr defines the typed equation-form IR produced by tracing: a
// flat SSA program of primitive applications over shaped, dtyped values.
// Jaxprs are immutable; the transformation passes (Flatten, Simplify) and
// the printer all produce new values.
package jaxpr

import (
	"fmt"
	"strings"

	"github.com/lamng3/gojax/internal/shapes"
)

// Primitive identifies an operation. The set is closed; rule tables key on
// these names and reject anything else.
type Primitive string

const (
	Add        Primitive = "add"
	Mul        Primitive = "mul"
	Neg        Primitive = "neg"
	Sin        Primitive = "sin"
	Cos        Primitive = "cos"
	Exp        Primitive = "exp"
	Log        Primitive = "log"
	Sqrt       Primitive = "sqrt"
	Reciprocal Primitive = "reciprocal"
	ReduceSum  Primitive = "reduce_sum"
	Compare    Primitive = "compare"
	Where      Primitive = "where"
	Transpose  Primitive = "transpose"
	Broadcast  Primitive = "broadcast"
	Reshape    Primitive = "reshape"
	Flip       Primitive = "flip"
	RandomBits Primitive = "random_bits"
	JitCall    Primitive = "jit_call"
)

// CmpOp selects the comparison performed by the Compare primitive.
type CmpOp int

const (
	CmpLt CmpOp = iota
	CmpEq
	CmpNe
)

func (op CmpOp) String() string {
	switch op {
	case CmpLt:
		return "lt"
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	}
	return fmt.Sprintf("cmp(%d)", int(op))
}

// Params carries the static arguments of a primitive. Only the fields a
// primitive documents are meaningful for it.
type Params struct {
	Axis      int    // reduce_sum, flip
	Perm      []int  // transpose
	Shape     []int  // broadcast, reshape, random_bits
	Axes      []int  // broadcast: positions of inserted axes
	CmpOp     CmpOp  // compare
	Jaxpr     *Jaxpr // jit_call
	NumConsts int    // jit_call
}

// Var is an SSA binder. Identity is pointer identity.
type Var struct {
	Aval shapes.ShapedArray
}

// NewVar returns a fresh binder with the given aval.
func NewVar(aval shapes.ShapedArray) *Var { return &Var{Aval: aval} }

// Lit is an inlined scalar literal.
type Lit struct {
	DType shapes.DType
	Val   float64
}

// Atom is an equation input: a bound Var or an inline Lit.
type Atom interface {
	AvalOf() shapes.ShapedArray
	atom()
}

func (v *Var) AvalOf() shapes.ShapedArray { return v.Aval }
func (v *Var) atom()                      {}

func (l Lit) AvalOf() shapes.ShapedArray { return shapes.ShapedArray{DType: l.DType} }
func (l Lit) atom()                      {}

// Eqn applies a primitive to atoms, binding the results.
type Eqn struct {
	Prim       Primitive
	Inputs     []Atom
	Params     Params
	OutBinders []*Var
}

// Jaxpr is a typed program: inBinders are the lambda's parameters, eqns
// execute in order, outs name the results. Every Var used by an equation or
// an out is either an in-binder or bound by an earlier equation.
type Jaxpr struct {
	InBinders []*Var
	Eqns      []Eqn
	Outs      []Atom
}

// namer assigns stable short names in definition order: a, b, ..., z, then
// v_26 onward.
type namer struct {
	names map[*Var]string
	next  int
}

func newNamer() *namer { return &namer{names: make(map[*Var]string)} }

func (n *namer) name(v *Var) string {
	if s, ok := n.names[v]; ok {
		return s
	}
	var s string
	if n.next < 26 {
		s = string(rune('a' + n.next))
	} else {
		s = fmt.Sprintf("v_%d", n.next)
	}
	n.next++
	n.names[v] = s
	return s
}

// String renders the stable text format:
//
//	{ lambda a:float32[2,3] .
//	  let b:float32[2,3] = add a 2
//	      c:float32[2,3] = mul b a
//	  in ( c ) }
func (j *Jaxpr) String() string {
	return j.render(newNamer(), 0)
}

func (j *Jaxpr) render(n *namer, indent int) string {
	pad := strings.Repeat(" ", indent)
	var b strings.Builder

	b.WriteString(pad + "{ lambda ")
	parts := make([]string, len(j.InBinders))
	for i, v := range j.InBinders {
		parts[i] = n.name(v) + ":" + v.Aval.String()
	}
	b.WriteString(strings.Join(parts, " "))
	b.WriteString(" .\n")

	for i, eqn := range j.Eqns {
		if i == 0 {
			b.WriteString(pad + "  let ")
		} else {
			b.WriteString(pad + "      ")
		}
		binders := make([]string, len(eqn.OutBinders))
		for k, v := range eqn.OutBinders {
			binders[k] = n.name(v) + ":" + v.Aval.String()
		}
		b.WriteString(strings.Join(binders, " "))
		b.WriteString(" = " + string(eqn.Prim))
		b.WriteString(renderParams(eqn, n, indent))
		for _, in := range eqn.Inputs {
			b.WriteString(" " + renderAtom(in, n))
		}
		b.WriteString("\n")
	}

	outs := make([]string, len(j.Outs))
	for i, o := range j.Outs {
		outs[i] = renderAtom(o, n)
	}
	b.WriteString(pad + "  in ( " + strings.Join(outs, " ") + " ) }")
	return b.String()
}

func renderAtom(a Atom, n *namer) string {
	switch v := a.(type) {
	case *Var:
		return n.name(v)
	case Lit:
		if v.DType == shapes.Bool {
			return fmt.Sprintf("%v", v.Val != 0)
		}
		return fmt.Sprintf("%g", v.Val)
	}
	return "?"
}

func renderParams(eqn Eqn, n *namer, indent int) string {
	p := eqn.Params
	switch eqn.Prim {
	case ReduceSum, Flip:
		return fmt.Sprintf("[axis=%d]", p.Axis)
	case Transpose:
		return fmt.Sprintf("[perm=%s]", intTuple(p.Perm))
	case Broadcast:
		return fmt.Sprintf("[shape=%s axes=%s]", intTuple(p.Shape), intTuple(p.Axes))
	case Reshape, RandomBits:
		return fmt.Sprintf("[shape=%s]", intTuple(p.Shape))
	case Compare:
		return fmt.Sprintf("[op=%s]", p.CmpOp)
	case JitCall:
		nested := p.Jaxpr.render(n, indent+8)
		return fmt.Sprintf("[ jaxpr=\n%s\n%snumConsts=%d ]",
			nested, strings.Repeat(" ", indent+8), p.NumConsts)
	}
	return ""
}

func intTuple(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
