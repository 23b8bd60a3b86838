package jaxpr

import (
	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
)

// ErrType marks dtype/shape incompatibilities and rule-table misses.
// Callers test with errors.Is.
var ErrType = errors.New("type error")

func typeErrorf(format string, args ...any) error {
	return errors.WithMessagef(ErrType, format, args...)
}

// AbstractEval propagates avals through one primitive application. It is
// the single source of truth for output shapes and dtypes: the tracer
// stack, the typechecker and the JIT rules all consult it.
func AbstractEval(p Primitive, in []shapes.ShapedArray, params Params) ([]shapes.ShapedArray, error) {
	switch p {
	case Add, Mul:
		if err := arity(p, in, 2); err != nil {
			return nil, err
		}
		shape, err := shapes.Broadcast(in[0].Shape, in[1].Shape)
		if err != nil {
			return nil, typeErrorf("%s: %v", p, err)
		}
		// Result dtype follows the first operand.
		return one(in[0].DType, shape), nil

	case Neg, Sin, Cos, Exp, Log, Sqrt, Reciprocal:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if !in[0].DType.IsFloat() {
			return nil, typeErrorf("%s requires a float operand, got %s", p, in[0].DType)
		}
		return one(in[0].DType, in[0].Shape), nil

	case ReduceSum:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if !in[0].DType.IsNumeric() {
			return nil, typeErrorf("reduce_sum over non-numeric dtype %s", in[0].DType)
		}
		nd := in[0].Shape.NDim()
		if params.Axis < 0 || params.Axis >= nd {
			return nil, typeErrorf("reduce_sum axis %d out of range for rank %d", params.Axis, nd)
		}
		shape := make(shapes.Shape, 0, nd-1)
		for i, d := range in[0].Shape {
			if i != params.Axis {
				shape = append(shape, d)
			}
		}
		return one(in[0].DType, shape), nil

	case Compare:
		if err := arity(p, in, 2); err != nil {
			return nil, err
		}
		shape, err := shapes.Broadcast(in[0].Shape, in[1].Shape)
		if err != nil {
			return nil, typeErrorf("compare: %v", err)
		}
		return one(shapes.Bool, shape), nil

	case Where:
		if err := arity(p, in, 3); err != nil {
			return nil, err
		}
		if in[0].DType != shapes.Bool {
			return nil, typeErrorf("where condition must be bool, got %s", in[0].DType)
		}
		shape, err := shapes.Broadcast(in[1].Shape, in[2].Shape)
		if err != nil {
			return nil, typeErrorf("where: %v", err)
		}
		shape, err = shapes.Broadcast(in[0].Shape, shape)
		if err != nil {
			return nil, typeErrorf("where: %v", err)
		}
		return one(in[1].DType, shape), nil

	case Transpose:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if !utils.IsPerm(params.Perm, in[0].Shape.NDim()) {
			return nil, typeErrorf("transpose: %v is not a permutation of rank %d", params.Perm, in[0].Shape.NDim())
		}
		return one(in[0].DType, utils.ApplyPerm(in[0].Shape, params.Perm)), nil

	case Broadcast:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if err := broadcastCompatible(in[0].Shape, params.Shape, params.Axes); err != nil {
			return nil, err
		}
		return one(in[0].DType, params.Shape), nil

	case Reshape:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if err := shapes.Shape(params.Shape).Validate(); err != nil {
			return nil, typeErrorf("reshape: %v", err)
		}
		if shapes.Shape(params.Shape).Size() != in[0].Size() {
			return nil, typeErrorf("reshape %v -> %v changes element count", in[0].Shape, params.Shape)
		}
		return one(in[0].DType, params.Shape), nil

	case Flip:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if params.Axis < 0 || params.Axis >= in[0].Shape.NDim() {
			return nil, typeErrorf("flip axis %d out of range for rank %d", params.Axis, in[0].Shape.NDim())
		}
		return one(in[0].DType, in[0].Shape), nil

	case RandomBits:
		if err := arity(p, in, 1); err != nil {
			return nil, err
		}
		if in[0].DType != shapes.Uint32 || !in[0].Shape.Equal(shapes.Shape{2}) {
			return nil, typeErrorf("random_bits key must be uint32[2], got %s", in[0])
		}
		return one(shapes.Uint32, params.Shape), nil

	case JitCall:
		inner := params.Jaxpr
		if inner == nil {
			return nil, typeErrorf("jit_call without a jaxpr")
		}
		if len(in) != len(inner.InBinders) {
			return nil, typeErrorf("jit_call expects %d inputs, got %d", len(inner.InBinders), len(in))
		}
		for i, b := range inner.InBinders {
			if !in[i].Equal(b.Aval) {
				return nil, typeErrorf("jit_call input %d: %s does not match binder %s", i, in[i], b.Aval)
			}
		}
		out := make([]shapes.ShapedArray, len(inner.Outs))
		for i, o := range inner.Outs {
			out[i] = o.AvalOf()
		}
		return out, nil
	}
	return nil, typeErrorf("unknown primitive %q", p)
}

func arity(p Primitive, in []shapes.ShapedArray, n int) error {
	if len(in) != n {
		return typeErrorf("%s expects %d inputs, got %d", p, n, len(in))
	}
	return nil
}

func one(dtype shapes.DType, shape shapes.Shape) []shapes.ShapedArray {
	return []shapes.ShapedArray{{Shape: shape.Clone(), DType: dtype}}
}

// broadcastCompatible checks that removing the inserted axes from target
// leaves a shape the input can expand into: equal dims or unit dims.
func broadcastCompatible(in shapes.Shape, target, axes []int) error {
	added := make(map[int]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(target) {
			return typeErrorf("broadcast axis %d out of range for shape %v", a, target)
		}
		added[a] = true
	}
	if len(in)+len(axes) != len(target) {
		return typeErrorf("broadcast %v -> %v with %d inserted axes", in, target, len(axes))
	}
	k := 0
	for j, d := range target {
		if added[j] {
			continue
		}
		if in[k] != d && in[k] != 1 {
			return typeErrorf("broadcast axis %d: %d -> %d", k, in[k], d)
		}
		k++
	}
	return nil
}
