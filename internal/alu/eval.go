package alu

import (
	"fmt"
	"strings"

	"github.com/lamng3/gojax/internal/shapes"
)

// LoadFunc reads element off of input buffer gid as a float64.
type LoadFunc func(gid, off int) float64

// Evaluate interprets the expression. env binds Special names; load reads
// buffer elements. Booleans evaluate to 0 or 1; Idiv is floor division and
// Mod follows it; bool Add and Mul are OR and AND. This interpreter defines
// the reference semantics backends must match and drives the CPU backend.
func (e *Exp) Evaluate(env map[string]int, load LoadFunc) float64 {
	switch e.Op {
	case OpConst:
		return constAsFloat(e)
	case OpSpecial:
		arg := e.Arg.(SpecialArg)
		v, ok := env[arg.Name]
		if !ok {
			panic(fmt.Sprintf("alu: unbound special %q", arg.Name))
		}
		return float64(v)
	case OpGlobalIndex:
		off := e.Src[0].Evaluate(env, load)
		return load(e.Arg.(int), int(off))
	case OpGlobalView:
		arg := e.Arg.(ViewArg)
		idx := make([]*Exp, len(e.Src))
		for i, s := range e.Src {
			idx[i] = ConstInt(int(s.Evaluate(env, load)))
		}
		off, valid := arg.Tracker.LowerIndex(idx)
		if valid.Evaluate(env, load) == 0 {
			return 0
		}
		return load(arg.Gid, int(off.Evaluate(env, load)))
	case OpNeg, OpSin, OpCos, OpExp, OpLog, OpSqrt, OpReciprocal:
		return evalUnary(e.Op, e.Src[0].Evaluate(env, load))
	case OpAdd, OpMul:
		x := e.Src[0].Evaluate(env, load)
		y := e.Src[1].Evaluate(env, load)
		if e.DType == shapes.Bool {
			if e.Op == OpAdd { // OR
				return boolToFloat(x != 0 || y != 0)
			}
			return boolToFloat(x != 0 && y != 0) // AND
		}
		return evalBinary(e.Op, x, y)
	case OpSub, OpIdiv, OpMod:
		return evalBinary(e.Op, e.Src[0].Evaluate(env, load), e.Src[1].Evaluate(env, load))
	case OpCmplt:
		return boolToFloat(e.Src[0].Evaluate(env, load) < e.Src[1].Evaluate(env, load))
	case OpCmpeq:
		return boolToFloat(e.Src[0].Evaluate(env, load) == e.Src[1].Evaluate(env, load))
	case OpCmpne:
		return boolToFloat(e.Src[0].Evaluate(env, load) != e.Src[1].Evaluate(env, load))
	case OpWhere:
		if e.Src[0].Evaluate(env, load) != 0 {
			return e.Src[1].Evaluate(env, load)
		}
		return e.Src[2].Evaluate(env, load)
	default:
		panic(fmt.Sprintf("alu: cannot evaluate op %s", e.Op))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// String renders the expression in prefix form, e.g. "add(mul(gidx,4),1)".
// The form is stable and used in codegen goldens.
func (e *Exp) String() string {
	switch e.Op {
	case OpConst:
		if v, ok := e.Arg.(bool); ok {
			return fmt.Sprintf("%v", v)
		}
		return trimFloat(e.Arg.(float64))
	case OpSpecial:
		return e.Arg.(SpecialArg).Name
	case OpGlobalView:
		arg := e.Arg.(ViewArg)
		return fmt.Sprintf("gview(%d;%s)", arg.Gid, srcList(e.Src))
	case OpGlobalIndex:
		return fmt.Sprintf("g%d[%s]", e.Arg.(int), e.Src[0])
	default:
		return fmt.Sprintf("%s(%s)", e.Op, srcList(e.Src))
	}
}

func srcList(src []*Exp) string {
	parts := make([]string, len(src))
	for i, s := range src {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}
