package jax

import (
	"github.com/lamng3/gojax/internal/core"
	"github.com/lamng3/gojax/internal/jaxpr"
)

// Numerical operations. All of them trace: on concrete arrays they
// execute immediately, on tracers they record into the enclosing
// transformation. Binary operations broadcast NumPy-style.

// Add computes x + y.
func Add(x, y Value) Value { return core.Add(x, y) }

// Sub computes x - y.
func Sub(x, y Value) Value { return core.Sub(x, y) }

// Mul computes x * y.
func Mul(x, y Value) Value { return core.Mul(x, y) }

// Div computes x / y.
func Div(x, y Value) Value { return core.Div(x, y) }

// Neg computes -x.
func Neg(x Value) Value { return core.Neg(x) }

// Sin computes sin(x) elementwise.
func Sin(x Value) Value { return core.Sin(x) }

// Cos computes cos(x) elementwise.
func Cos(x Value) Value { return core.Cos(x) }

// Exp computes e^x elementwise.
func Exp(x Value) Value { return core.Exp(x) }

// Log computes ln(x) elementwise.
func Log(x Value) Value { return core.Log(x) }

// Sqrt computes the square root elementwise.
func Sqrt(x Value) Value { return core.Sqrt(x) }

// Reciprocal computes 1/x elementwise.
func Reciprocal(x Value) Value { return core.Reciprocal(x) }

// ReduceSum sums along axis, removing it.
func ReduceSum(x Value, axis int) Value { return core.ReduceSum(x, axis) }

// Sum sums over every axis, yielding a scalar.
func Sum(x Value) Value {
	for x.Aval().Shape.NDim() > 0 {
		x = core.ReduceSum(x, 0)
	}
	return x
}

// CmpOp selects a comparison.
type CmpOp = jaxpr.CmpOp

// Comparisons.
const (
	Lt CmpOp = jaxpr.CmpLt
	Eq CmpOp = jaxpr.CmpEq
	Ne CmpOp = jaxpr.CmpNe
)

// Compare applies op elementwise, yielding bool.
func Compare(op CmpOp, x, y Value) Value { return core.Compare(op, x, y) }

// Where selects x where cond holds, else y.
func Where(cond, x, y Value) Value { return core.WhereOp(cond, x, y) }

// Transpose permutes axes: output axis i reads input axis perm[i].
func Transpose(x Value, perm ...int) Value { return core.Transpose(x, perm) }

// BroadcastTo expands x to shape, inserting the listed axes.
func BroadcastTo(x Value, shape []int, axes []int) Value {
	return core.BroadcastTo(x, shape, axes)
}

// Reshape changes the logical shape, preserving element count and order.
func Reshape(x Value, dims ...int) Value {
	return core.Reshape(x, dims)
}

// Flip reverses one axis.
func Flip(x Value, axis int) Value { return core.Flip(x, axis) }

// RandomBits draws uniform uint32s of the given shape from a PRNG key.
// It only evaluates concretely; staging it under jit or AD is an error.
func RandomBits(key Value, dims ...int) Value {
	return core.RandomBits(key, dims)
}
