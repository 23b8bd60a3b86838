// Package jax is the public surface of the library: arrays, numerical
// operations and the function transformations grad, jvp, linearize, vjp
// and jit. Functions take and return trees of arrays ([]any and
// map[string]any nest arbitrarily); transformations flatten the trees,
// work on the leaves and rebuild the structure.
//
// Operations and transformed functions panic with typed errors when a
// trace goes wrong (shape mismatches, escaped tracers); Call recovers
// such a panic into an ordinary error at the outermost boundary. The
// evaluation-point transformations JVP, Linearize and VJP return errors
// directly.
package jax

import (
	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/core"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/tree"
)

// Value is a leaf a traced function consumes or produces: a concrete
// *Array outside transformations, a tracer inside them.
type Value = core.Value

// Array is a concrete array on some backend.
type Array = core.Array

// Backend executes kernels and owns buffers.
type Backend = backend.Backend

// DType enumerates element types.
type DType = shapes.DType

// Element types.
const (
	Float32   = shapes.Float32
	Int32     = shapes.Int32
	Uint32    = shapes.Uint32
	Bool      = shapes.Bool
	Complex64 = shapes.Complex64
)

// Func is a transformable function: arguments and result are trees of
// Values.
type Func func(args ...any) any

// Error kinds. Test with errors.Is.
var (
	ErrType     = core.ErrType
	ErrMismatch = core.ErrMismatch
)

// flattenArgs flattens an argument list into its value leaves and the
// structure to rebuild it.
func flattenArgs(args []any) ([]core.Value, *tree.Def, error) {
	leaves, def := tree.Flatten(args)
	vals := make([]core.Value, len(leaves))
	for i, l := range leaves {
		v, ok := l.(core.Value)
		if !ok {
			return nil, nil, errors.WithMessagef(ErrMismatch, "leaf %d is a %T, not a jax value", i, l)
		}
		vals[i] = v
	}
	return vals, def, nil
}

func unflattenVals(def *tree.Def, vals []core.Value) (any, error) {
	leaves := make([]any, len(vals))
	for i, v := range vals {
		leaves[i] = v
	}
	return def.Unflatten(leaves)
}

// unflattenArgs rebuilds per-argument trees; a single argument comes back
// unwrapped.
func unflattenArgs(def *tree.Def, vals []core.Value) (any, error) {
	out, err := unflattenVals(def, vals)
	if err != nil {
		return nil, err
	}
	list := out.([]any)
	if len(list) == 1 {
		return list[0], nil
	}
	return list, nil
}

// flatFunc adapts a tree Func to the flat calling convention of the core
// transformations. The output structure lands in *outDef on the first
// call.
func flatFunc(f Func, argDef *tree.Def, outDef **tree.Def) core.Func {
	return func(flat []core.Value) []core.Value {
		leaves := make([]any, len(flat))
		for i, v := range flat {
			leaves[i] = v
		}
		args, err := argDef.Unflatten(leaves)
		if err != nil {
			panic(err)
		}
		out := f(args.([]any)...)
		outLeaves, def := tree.Flatten(out)
		*outDef = def
		vals := make([]core.Value, len(outLeaves))
		for i, l := range outLeaves {
			v, ok := l.(core.Value)
			if !ok {
				panic(errors.WithMessagef(ErrMismatch, "function returned a %T, not a jax value", l))
			}
			vals[i] = v
		}
		return vals
	}
}

// Call invokes f, recovering a trace panic into an error. Use it at the
// outermost boundary around composed transformations.
func Call(f Func, args ...any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	return f(args...), nil
}

// Grad transforms a scalar-valued f into a function computing its
// gradient with respect to every argument. The result mirrors the
// argument structure: the gradient tree itself for one argument, a list
// of trees otherwise. Grad composes with itself and with Jit.
func Grad(f Func) Func {
	return func(args ...any) any {
		flat, argDef, err := flattenArgs(args)
		if err != nil {
			panic(err)
		}
		var outDef *tree.Def
		grads, err := core.GradFlat(flatFunc(f, argDef, &outDef), flat)
		if err != nil {
			panic(err)
		}
		out, err := unflattenArgs(argDef, grads)
		if err != nil {
			panic(err)
		}
		return out
	}
}

// Jit transforms f so that calls stage it into a program and dispatch
// fused kernels, with per-shape compile caching. Under an outer
// transformation the staged program inlines, so Jit composes freely.
func Jit(f Func) Func {
	return func(args ...any) any {
		flat, argDef, err := flattenArgs(args)
		if err != nil {
			panic(err)
		}
		var outDef *tree.Def
		outFlat := core.JitFunc(flatFunc(f, argDef, &outDef))(flat)
		out, err := unflattenVals(outDef, outFlat)
		if err != nil {
			panic(err)
		}
		return out
	}
}

// JVP evaluates f at primals while pushing tangents forward. Primal and
// tangent trees must match; both results carry the output structure.
func JVP(f Func, primals, tangents []any) (pout, tout any, err error) {
	pflat, pdef, err := flattenArgs(primals)
	if err != nil {
		return nil, nil, err
	}
	tflat, tdef, err := flattenArgs(tangents)
	if err != nil {
		return nil, nil, err
	}
	if err := tree.Check(pdef, tdef); err != nil {
		return nil, nil, err
	}
	var outDef *tree.Def
	po, to, err := core.JVPFlat(flatFunc(f, pdef, &outDef), pflat, tflat)
	if err != nil {
		return nil, nil, err
	}
	if pout, err = unflattenVals(outDef, po); err != nil {
		return nil, nil, err
	}
	if tout, err = unflattenVals(outDef, to); err != nil {
		return nil, nil, err
	}
	return pout, tout, nil
}

// LinearFunc maps tangent trees to an output tangent tree.
type LinearFunc func(tangents ...any) (any, error)

// Linearize evaluates f at primals and returns its output with the
// tangent map of f at that point. The linear map runs without re-tracing
// f.
func Linearize(f Func, primals ...any) (out any, lin LinearFunc, err error) {
	flat, argDef, err := flattenArgs(primals)
	if err != nil {
		return nil, nil, err
	}
	var outDef *tree.Def
	pout, linFlat, err := core.LinearizeFlat(flatFunc(f, argDef, &outDef), flat)
	if err != nil {
		return nil, nil, err
	}
	if out, err = unflattenVals(outDef, pout); err != nil {
		return nil, nil, err
	}
	lin = func(tangents ...any) (lout any, lerr error) {
		tflat, tdef, lerr := flattenArgs(tangents)
		if lerr != nil {
			return nil, lerr
		}
		if lerr = tree.Check(argDef, tdef); lerr != nil {
			return nil, lerr
		}
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					lerr = e
					return
				}
				panic(r)
			}
		}()
		return unflattenVals(outDef, linFlat(tflat))
	}
	return out, lin, nil
}

// PullbackFunc maps an output cotangent tree to cotangents on the
// primals, mirroring the argument structure the way Grad does.
type PullbackFunc func(cotangent any) (any, error)

// VJP evaluates f at primals and returns its output with the pullback of
// f at that point.
func VJP(f Func, primals ...any) (out any, pullback PullbackFunc, err error) {
	flat, argDef, err := flattenArgs(primals)
	if err != nil {
		return nil, nil, err
	}
	var outDef *tree.Def
	pout, pb, err := core.VJPFlat(flatFunc(f, argDef, &outDef), flat)
	if err != nil {
		return nil, nil, err
	}
	if out, err = unflattenVals(outDef, pout); err != nil {
		return nil, nil, err
	}
	pullback = func(cotangent any) (cout any, cerr error) {
		ctLeaves, ctDef := tree.Flatten(cotangent)
		if cerr = tree.Check(outDef, ctDef); cerr != nil {
			return nil, cerr
		}
		cts := make([]core.Value, len(ctLeaves))
		for i, l := range ctLeaves {
			v, ok := l.(core.Value)
			if !ok {
				return nil, errors.WithMessagef(ErrMismatch, "cotangent leaf %d is a %T, not a jax value", i, l)
			}
			cts[i] = v
		}
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					cerr = e
					return
				}
				panic(r)
			}
		}()
		return unflattenArgs(argDef, pb(cts))
	}
	return out, pullback, nil
}

// MakeJaxpr stages f on the abstract values of the given example
// arguments and returns the program's stable text rendering.
func MakeJaxpr(f Func, args ...any) (string, error) {
	flat, argDef, err := flattenArgs(args)
	if err != nil {
		return "", err
	}
	avals := make([]shapes.ShapedArray, len(flat))
	for i, v := range flat {
		avals[i] = v.Aval()
	}
	var outDef *tree.Def
	jx, _, err := core.MakeJaxpr(flatFunc(f, argDef, &outDef), avals)
	if err != nil {
		return "", err
	}
	return jx.String(), nil
}
