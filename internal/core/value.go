// Package core implements the tracing machinery: concrete arrays, the
// trace stack, primitive dispatch, forward- and reverse-mode AD, partial
// evaluation and the JIT compiler. The public jax package is a thin facade
// over this one.
//
// Errors inside a trace abort it: internal operations panic with a typed
// error and the public entry points recover it into a return value. The
// rule tables stay readable and the trace-stack pop discipline reduces to
// a defer.
package core

import (
	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/tree"
)

// Value is anything a traced function can consume or produce: a concrete
// Array or a tracer from some active trace.
type Value interface {
	Aval() shapes.ShapedArray
}

// Func is the shape of a traceable function: values in, values out.
// Transformations flatten tree-structured arguments before calling it.
type Func func(args []Value) []Value

// Error kinds shared with the IR and tree layers.
var (
	ErrType     = jaxpr.ErrType
	ErrMismatch = tree.ErrMismatch
)

func typeErrorf(format string, args ...any) error {
	return errors.WithMessagef(ErrType, format, args...)
}

// fail aborts the current trace.
func fail(err error) {
	panic(err)
}

// failf aborts the current trace with a type error.
func failf(format string, args ...any) {
	panic(typeErrorf(format, args...))
}

// recoverErr converts a trace abort back into an error at an API boundary.
func recoverErr(errp *error) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			*errp = err
			return
		}
		panic(r)
	}
}
