// Package alu implements the scalar algebraic IR used as the body of fused
// kernels. Expressions are immutable value types: constructors validate
// dtypes, fold constants and apply local peephole simplifications, so any
// expression built through this package is already in simplified form.
// Sharing subterms is always safe.
package alu

import (
	"fmt"
	"math"

	"github.com/lamng3/gojax/internal/shapes"
)

// Op identifies a scalar operation.
type Op int

// The closed operation set.
const (
	// Binary arithmetic. Result dtype follows the first operand.
	OpAdd Op = iota
	OpSub
	OpMul
	OpIdiv // floor division
	OpMod  // x - Idiv(x,y)*y

	// Unary, float only.
	OpNeg
	OpSin
	OpCos
	OpExp
	OpLog
	OpSqrt
	OpReciprocal

	// Comparisons, result dtype bool.
	OpCmplt
	OpCmpeq
	OpCmpne

	// Ternary select: Where(cond, a, b).
	OpWhere

	// Leaves.
	OpConst       // Arg holds the literal (float64 or bool)
	OpSpecial     // Arg holds SpecialArg: a named loop variable
	OpGlobalView  // Arg holds ViewArg: abstract buffer read through a tracker
	OpGlobalIndex // Arg holds gid int; Src[0] is the physical offset
)

var opNames = map[Op]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpIdiv: "idiv", OpMod: "mod",
	OpNeg: "neg", OpSin: "sin", OpCos: "cos", OpExp: "exp", OpLog: "log",
	OpSqrt: "sqrt", OpReciprocal: "reciprocal",
	OpCmplt: "cmplt", OpCmpeq: "cmpeq", OpCmpne: "cmpne",
	OpWhere: "where", OpConst: "const", OpSpecial: "special",
	OpGlobalView: "gview", OpGlobalIndex: "gidx",
}

func (op Op) String() string { return opNames[op] }

// SpecialArg names a loop variable with a known exclusive upper bound,
// e.g. {gidx, 4096} or {ridx, 64}.
type SpecialArg struct {
	Name  string
	Bound int
}

// IndexLowerer maps a logical index vector to a (physical offset, valid)
// expression pair. view.ShapeTracker implements it; the indirection keeps
// this package free of a dependency on the view algebra.
type IndexLowerer interface {
	// LowerIndex returns the physical offset (int32) and validity (bool)
	// expressions for the given logical indices.
	LowerIndex(idx []*Exp) (offset, valid *Exp)
	// LogicalShape returns the logical shape the lowerer indexes over.
	LogicalShape() []int
}

// ViewArg is the payload of an OpGlobalView leaf: an abstract read from
// input buffer Gid through a composable view. Reads outside the view's
// mask yield zero.
type ViewArg struct {
	Gid     int
	Tracker IndexLowerer
}

// Exp is an immutable scalar expression. Build only through the package
// constructors; they establish the dtype and interval invariants.
type Exp struct {
	Op    Op
	DType shapes.DType
	Src   []*Exp
	Arg   any

	// Interval over the expression's value set, computed bottom-up.
	min, max float64
}

// Min returns the interval lower bound.
func (e *Exp) Min() float64 { return e.min }

// Max returns the interval upper bound.
func (e *Exp) Max() float64 { return e.max }

// Resolve returns the literal value when e is a constant.
func (e *Exp) Resolve() (any, bool) {
	if e.Op == OpConst {
		return e.Arg, true
	}
	return nil, false
}

// IsConst reports whether e is the given numeric constant.
func (e *Exp) IsConst(v float64) bool {
	if f, ok := e.Arg.(float64); ok && e.Op == OpConst {
		return f == v
	}
	return false
}

func typeErrorf(format string, args ...any) error {
	return fmt.Errorf("alu: type error: "+format, args...)
}

// Const builds a literal of the given dtype. Numeric literals are carried
// as float64 (exact for every int32/uint32), booleans as bool.
func Const(dtype shapes.DType, value any) *Exp {
	switch v := value.(type) {
	case bool:
		if dtype != shapes.Bool {
			panic(typeErrorf("bool literal with dtype %s", dtype))
		}
		f := 0.0
		if v {
			f = 1.0
		}
		return &Exp{Op: OpConst, DType: dtype, Arg: v, min: f, max: f}
	case float64:
		if dtype == shapes.Bool {
			panic(typeErrorf("numeric literal with dtype bool"))
		}
		return &Exp{Op: OpConst, DType: dtype, Arg: v, min: v, max: v}
	case int:
		return Const(dtype, float64(v))
	default:
		panic(typeErrorf("unsupported literal %T", value))
	}
}

// ConstInt builds an int32 literal; the usual type for index arithmetic.
func ConstInt(v int) *Exp { return Const(shapes.Int32, float64(v)) }

// ConstBool builds a bool literal.
func ConstBool(v bool) *Exp { return Const(shapes.Bool, v) }

// Special builds a named loop variable ranging over [0, bound).
func Special(name string, bound int) *Exp {
	return &Exp{
		Op: OpSpecial, DType: shapes.Int32,
		Arg: SpecialArg{Name: name, Bound: bound},
		min: 0, max: float64(bound - 1),
	}
}

// NewGlobalView builds an abstract read of buffer gid through tracker at
// the logical position idx.
func NewGlobalView(gid int, tracker IndexLowerer, dtype shapes.DType, idx []*Exp) *Exp {
	lo, hi := math.Inf(-1), math.Inf(1)
	if dtype == shapes.Bool {
		lo, hi = 0, 1
	}
	return &Exp{
		Op: OpGlobalView, DType: dtype, Src: idx,
		Arg: ViewArg{Gid: gid, Tracker: tracker},
		min: lo, max: hi,
	}
}

// NewGlobalIndex builds a lowered read of buffer gid at physical element
// offset off.
func NewGlobalIndex(gid int, off *Exp, dtype shapes.DType) *Exp {
	if off.DType != shapes.Int32 {
		panic(typeErrorf("global index offset must be int32, got %s", off.DType))
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if dtype == shapes.Bool {
		lo, hi = 0, 1
	}
	return &Exp{Op: OpGlobalIndex, DType: dtype, Src: []*Exp{off}, Arg: gid, min: lo, max: hi}
}

// Add builds a + b. Identities: x+0 = 0+x = x.
func Add(a, b *Exp) *Exp {
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpAdd, a, b)
	}
	if b.IsConst(0) {
		return a
	}
	if a.IsConst(0) {
		return b
	}
	return newBinary(OpAdd, a, b)
}

// Sub builds a - b. Identity: x-0 = x.
func Sub(a, b *Exp) *Exp {
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpSub, a, b)
	}
	if b.IsConst(0) {
		return a
	}
	return newBinary(OpSub, a, b)
}

// Mul builds a * b. Identities: x*1 = 1*x = x, x*0 = 0*x = 0.
func Mul(a, b *Exp) *Exp {
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpMul, a, b)
	}
	if b.IsConst(1) {
		return a
	}
	if a.IsConst(1) {
		return b
	}
	if a.IsConst(0) || b.IsConst(0) {
		return Const(a.DType, 0.0)
	}
	// Bool conjunction with a constant true operand.
	if a.DType == shapes.Bool {
		if bv, ok := b.Arg.(bool); ok && b.Op == OpConst && bv {
			return a
		}
		if av, ok := a.Arg.(bool); ok && a.Op == OpConst && av {
			return b
		}
	}
	return newBinary(OpMul, a, b)
}

// Idiv builds floor(a / b). Identities: x/1 = x; 0 <= x < b gives 0.
func Idiv(a, b *Exp) *Exp {
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpIdiv, a, b)
	}
	if b.IsConst(1) {
		return a
	}
	if bv, ok := b.Arg.(float64); ok && b.Op == OpConst && a.min >= 0 && a.max < bv {
		return Const(a.DType, 0.0)
	}
	return newBinary(OpIdiv, a, b)
}

// Mod builds a - Idiv(a,b)*b. Identities: x%1 = 0; 0 <= x < b gives x.
func Mod(a, b *Exp) *Exp {
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpMod, a, b)
	}
	if b.IsConst(1) {
		return Const(a.DType, 0.0)
	}
	if bv, ok := b.Arg.(float64); ok && b.Op == OpConst && a.min >= 0 && a.max < bv {
		return a
	}
	return newBinary(OpMod, a, b)
}

// Neg builds -a. Double negation cancels.
func Neg(a *Exp) *Exp {
	requireFloat(OpNeg, a)
	if a.Op == OpNeg {
		return a.Src[0]
	}
	if a.Op == OpConst {
		return Const(a.DType, -a.Arg.(float64))
	}
	return newUnary(OpNeg, a)
}

// Sin builds sin(a), float only.
func Sin(a *Exp) *Exp { return floatUnary(OpSin, a) }

// Cos builds cos(a), float only.
func Cos(a *Exp) *Exp { return floatUnary(OpCos, a) }

// Exponential builds e^a, float only.
func Exponential(a *Exp) *Exp { return floatUnary(OpExp, a) }

// Log builds ln(a), float only.
func Log(a *Exp) *Exp { return floatUnary(OpLog, a) }

// Sqrt builds the square root of a, float only.
func Sqrt(a *Exp) *Exp { return floatUnary(OpSqrt, a) }

// Reciprocal builds 1/a, float only.
func Reciprocal(a *Exp) *Exp { return floatUnary(OpReciprocal, a) }

// Cmplt builds a < b (bool). Interval tightening resolves comparisons the
// bounds already decide; this is what removes provably-true validity masks
// from lowered view expressions.
func Cmplt(a, b *Exp) *Exp {
	if a == b || equalExp(a, b) {
		return ConstBool(false)
	}
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpCmplt, a, b)
	}
	if a.max < b.min {
		return ConstBool(true)
	}
	if a.min >= b.max {
		return ConstBool(false)
	}
	return newCompare(OpCmplt, a, b)
}

// Cmpeq builds a == b (bool).
func Cmpeq(a, b *Exp) *Exp {
	if a == b || equalExp(a, b) {
		return ConstBool(true)
	}
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpCmpeq, a, b)
	}
	if a.max < b.min || b.max < a.min {
		return ConstBool(false)
	}
	return newCompare(OpCmpeq, a, b)
}

// Cmpne builds a != b (bool).
func Cmpne(a, b *Exp) *Exp {
	if a == b || equalExp(a, b) {
		return ConstBool(false)
	}
	if a.Op == OpConst && b.Op == OpConst {
		return foldBinary(OpCmpne, a, b)
	}
	if a.max < b.min || b.max < a.min {
		return ConstBool(true)
	}
	return newCompare(OpCmpne, a, b)
}

// Where builds cond ? a : b. The condition must be bool; the result takes
// a's dtype.
func Where(cond, a, b *Exp) *Exp {
	if cond.DType != shapes.Bool {
		panic(typeErrorf("where condition must be bool, got %s", cond.DType))
	}
	if v, ok := cond.Arg.(bool); ok && cond.Op == OpConst {
		if v {
			return a
		}
		return b
	}
	e := &Exp{Op: OpWhere, DType: a.DType, Src: []*Exp{cond, a, b}}
	e.min = math.Min(a.min, b.min)
	e.max = math.Max(a.max, b.max)
	return e
}

func requireFloat(op Op, a *Exp) {
	if !a.DType.IsFloat() {
		panic(typeErrorf("%s requires a float operand, got %s", op, a.DType))
	}
}

func floatUnary(op Op, a *Exp) *Exp {
	requireFloat(op, a)
	if a.Op == OpConst {
		return Const(a.DType, evalUnary(op, a.Arg.(float64)))
	}
	return newUnary(op, a)
}

func newUnary(op Op, a *Exp) *Exp {
	e := &Exp{Op: op, DType: a.DType, Src: []*Exp{a}}
	e.min, e.max = unaryInterval(op, a.min, a.max)
	return e
}

func newBinary(op Op, a, b *Exp) *Exp {
	if !a.DType.IsNumeric() && op != OpAdd && op != OpMul {
		panic(typeErrorf("%s on non-numeric dtype %s", op, a.DType))
	}
	e := &Exp{Op: op, DType: a.DType, Src: []*Exp{a, b}}
	e.min, e.max = binaryInterval(op, a, b)
	return e
}

func newCompare(op Op, a, b *Exp) *Exp {
	return &Exp{Op: op, DType: shapes.Bool, Src: []*Exp{a, b}, min: 0, max: 1}
}

func foldBinary(op Op, a, b *Exp) *Exp {
	av, bv := constAsFloat(a), constAsFloat(b)
	switch op {
	case OpCmplt:
		return ConstBool(av < bv)
	case OpCmpeq:
		return ConstBool(av == bv)
	case OpCmpne:
		return ConstBool(av != bv)
	}
	if a.DType == shapes.Bool {
		switch op {
		case OpAdd: // OR
			return ConstBool(av != 0 || bv != 0)
		case OpMul: // AND
			return ConstBool(av != 0 && bv != 0)
		default:
			panic(typeErrorf("%s on bool", op))
		}
	}
	return Const(a.DType, evalBinary(op, av, bv))
}

func constAsFloat(e *Exp) float64 {
	switch v := e.Arg.(type) {
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("alu: const with bad payload %T", e.Arg))
	}
}

// equalExp is structural equality. Expressions are shared aggressively, so
// the pointer fast path covers most calls.
func equalExp(a, b *Exp) bool {
	if a == b {
		return true
	}
	if a.Op != b.Op || a.DType != b.DType || len(a.Src) != len(b.Src) {
		return false
	}
	if a.Arg != b.Arg {
		// ViewArg carries an interface and is not comparable in general.
		av, aok := a.Arg.(ViewArg)
		bv, bok := b.Arg.(ViewArg)
		if !aok || !bok || av.Gid != bv.Gid || av.Tracker != bv.Tracker {
			return false
		}
	}
	for i := range a.Src {
		if !equalExp(a.Src[i], b.Src[i]) {
			return false
		}
	}
	return true
}

// Equal reports structural equality with e2.
func (e *Exp) Equal(e2 *Exp) bool { return equalExp(e, e2) }
