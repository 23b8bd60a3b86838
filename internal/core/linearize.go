package core

import (
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/shapes"
)

// LinearFunc maps tangents to output tangents; the closure returned by
// linearize and the pullback returned by vjp.
type LinearFunc func(args []Value) []Value

// LinearizeFlat evaluates f at primals and returns its outputs together
// with the linearized tangent map.
func LinearizeFlat(f Func, primals []Value) (pout []Value, lin LinearFunc, err error) {
	defer recoverErr(&err)
	pout, lin = linearizeFlat(f, primals)
	return pout, lin, nil
}

// splitJVPOut partially evaluates the jvp of f with known primals and
// unknown tangents: the primal half must come out known, the tangent half
// becomes the staged linear program.
func splitJVPOut(f Func, primals []Value) (jx *jaxpr.Jaxpr, consts []Value, pout []Value, tangentPvals []partialVal) {
	n := len(primals)
	jvpF := func(args []Value) []Value {
		po, to := jvpFlat(f, args[:n], args[n:])
		return append(po, to...)
	}
	pvals := make([]partialVal, 0, 2*n)
	for _, p := range primals {
		pvals = append(pvals, knownVal(p))
	}
	for _, p := range primals {
		pvals = append(pvals, unknownVal(p.Aval()))
	}
	jx, consts, outPvals := partialEvalFlat(jvpF, pvals, false)
	if len(outPvals)%2 != 0 {
		failf("jvp returned %d outputs, expected an even split", len(outPvals))
	}
	half := len(outPvals) / 2
	pout = make([]Value, half)
	for i := 0; i < half; i++ {
		if outPvals[i].known == nil {
			failf("primal output %d depends on tangent inputs", i)
		}
		pout[i] = outPvals[i].known
	}
	return jx, consts, pout, outPvals[half:]
}

func linearizeFlat(f Func, primals []Value) ([]Value, LinearFunc) {
	n := len(primals)
	jx, consts, pout, tangentPvals := splitJVPOut(f, primals)
	lin := func(tangents []Value) []Value {
		if len(tangents) != n {
			failf("linear function expects %d tangents, got %d", n, len(tangents))
		}
		args := make([]Value, 0, len(consts)+n)
		args = append(args, consts...)
		args = append(args, tangents...)
		staged := evalJaxpr(jx, args)
		out := make([]Value, len(tangentPvals))
		j := 0
		for i, pv := range tangentPvals {
			if pv.known != nil {
				out[i] = pv.known
				continue
			}
			out[i] = staged[j]
			j++
		}
		return out
	}
	return pout, lin
}

// VJPFlat evaluates f at primals and returns its outputs with the
// pullback: cotangents on the outputs map to cotangents on the primals.
func VJPFlat(f Func, primals []Value) (pout []Value, pullback LinearFunc, err error) {
	defer recoverErr(&err)
	pout, pullback = vjpFlat(f, primals)
	return pout, pullback, nil
}

func vjpFlat(f Func, primals []Value) ([]Value, LinearFunc) {
	jx, consts, pout, tangentPvals := splitJVPOut(f, primals)
	pullback := func(cts []Value) []Value {
		if len(cts) != len(tangentPvals) {
			failf("pullback expects %d cotangents, got %d", len(tangentPvals), len(cts))
		}
		// Cotangents on outputs whose tangents were known (zero) vanish.
		var staged []Value
		for i, pv := range tangentPvals {
			if pv.known == nil {
				staged = append(staged, cts[i])
			}
		}
		args := make([]tval, len(jx.InBinders))
		for i, c := range consts {
			args[i] = tval{val: c}
		}
		for i := len(consts); i < len(jx.InBinders); i++ {
			args[i] = tval{undef: true, aval: jx.InBinders[i].Aval}
		}
		return evalJaxprTransposed(jx, args, staged)
	}
	return pout, pullback
}

// GradFlat computes the gradient of a scalar-valued f with respect to
// every argument.
func GradFlat(f Func, args []Value) (grads []Value, err error) {
	defer recoverErr(&err)
	return gradFlat(f, args), nil
}

func gradFlat(f Func, args []Value) []Value {
	y, pullback := vjpFlat(f, args)
	if len(y) != 1 {
		failf("grad requires a function with one output, got %d", len(y))
	}
	aval := y[0].Aval()
	if aval.Shape.NDim() != 0 || aval.DType != shapes.Float32 {
		failf("grad requires a scalar float32 output, got %s", aval)
	}
	seed := mustScalar(backendOf(y[0]), shapes.Float32, 1)
	return pullback([]Value{seed})
}
