package core

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/view"
)

// evalTrace is the bottom of the stack: its "tracers" are concrete arrays
// and every primitive executes immediately on a backend.
type evalTrace struct {
	main *MainTrace
}

func newEvalTrace(m *MainTrace) Trace { return &evalTrace{main: m} }

func (t *evalTrace) Main() *MainTrace { return t.main }

func (t *evalTrace) Pure(a *Array) Value { return a }

func (t *evalTrace) Lift(tr Tracer) Value {
	panic(typeErrorf("cannot lift %T into the eval trace", tr))
}

func (t *evalTrace) Process(prim jaxpr.Primitive, in []Value, params jaxpr.Params) []Value {
	args := make([]*Array, len(in))
	for i, v := range in {
		a, ok := v.(*Array)
		if !ok {
			failf("eval received a %T for %s", v, prim)
		}
		args[i] = a
	}
	return evalPrim(prim, params, args)
}

func avalsOf(args []*Array) []shapes.ShapedArray {
	out := make([]shapes.ShapedArray, len(args))
	for i, a := range args {
		out[i] = a.aval
	}
	return out
}

func evalPrim(prim jaxpr.Primitive, params jaxpr.Params, args []*Array) []Value {
	outAvals, err := jaxpr.AbstractEval(prim, avalsOf(args), params)
	if err != nil {
		fail(err)
	}

	switch prim {
	case jaxpr.Transpose:
		a := args[0]
		return []Value{a.withView(a.tracker.Permute(params.Perm), outAvals[0])}
	case jaxpr.Reshape:
		a := args[0]
		return []Value{a.withView(a.tracker.Reshape(params.Shape), outAvals[0])}
	case jaxpr.Broadcast:
		a := args[0]
		return []Value{a.withView(a.tracker.Broadcast(params.Shape, params.Axes), outAvals[0])}
	case jaxpr.Flip:
		a := args[0]
		axes := make([]bool, a.aval.Shape.NDim())
		axes[params.Axis] = true
		return []Value{a.withView(a.tracker.Flip(axes), outAvals[0])}
	case jaxpr.RandomBits:
		return []Value{evalRandomBits(args[0], params.Shape)}
	case jaxpr.JitCall:
		return evalJitCall(params, args)
	}
	return []Value{runKernel(prim, params, args, outAvals[0])}
}

// runKernel dispatches one compute primitive as a single kernel. Inputs
// read through their own trackers, so views never copy.
func runKernel(prim jaxpr.Primitive, params jaxpr.Params, args []*Array, out shapes.ShapedArray) *Array {
	ctx := context.Background()
	be := defaultBackend
	if len(args) > 0 {
		be = args[0].be
	}

	// Cross-backend operands (scalar constants, mostly) are re-uploaded.
	var temps []*Array
	defer func() {
		for _, t := range temps {
			if err := t.Free(); err != nil {
				klog.Errorf("free temp: %v", err)
			}
		}
	}()
	in := make([]kinput, len(args))
	slots := make([]*backend.Slot, len(args))
	for i, a := range args {
		if a.be != be {
			moved, err := copyToBackend(ctx, a, be)
			if err != nil {
				fail(err)
			}
			temps = append(temps, moved)
			a = moved
		}
		in[i] = kinput{
			exp:   alu.NewGlobalView(i, a.tracker, a.aval.DType, idxExps(a.aval.Shape)),
			shape: a.aval.Shape,
			dtype: a.aval.DType,
		}
		slots[i] = a.slot
	}

	k := buildKernel(prim, params, in, out, len(args))
	slot, err := be.Malloc(out.ByteSize(), nil)
	if err != nil {
		fail(err)
	}
	if err := be.ExecuteSync(ctx, kernel.Tune(k), slots, []*backend.Slot{slot}); err != nil {
		if derr := be.DecRef(slot); derr != nil {
			klog.Errorf("free failed output: %v", derr)
		}
		fail(err)
	}
	return &Array{aval: out, tracker: view.Contiguous(out.Shape), slot: slot, be: be}
}

// copyToBackend round-trips an array through the host onto another
// backend, materializing its view on the way.
func copyToBackend(ctx context.Context, a *Array, be backend.Backend) (*Array, error) {
	vals, err := a.Read(ctx)
	if err != nil {
		return nil, err
	}
	return NewArray(be, a.aval.DType, a.aval.Shape, vals)
}

func evalJitCall(params jaxpr.Params, args []*Array) []Value {
	consts := args[:params.NumConsts]
	rest := args[params.NumConsts:]
	be := defaultBackend
	if len(rest) > 0 {
		be = rest[0].be
	} else if len(consts) > 0 {
		be = consts[0].be
	}
	prog, err := compiledFor(be, params.Jaxpr, consts)
	if err != nil {
		fail(err)
	}
	outs, err := prog.Run(context.Background(), rest)
	if err != nil {
		fail(err)
	}
	vals := make([]Value, len(outs))
	for i, o := range outs {
		vals[i] = o
	}
	return vals
}
