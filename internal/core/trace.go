package core

import (
	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/jaxpr"
)

// Trace is one interpreter on the stack. Pure boxes a concrete array into
// the trace's tracer type, Lift raises a tracer from a lower level, and
// Process applies one primitive to raised inputs.
type Trace interface {
	Main() *MainTrace
	Pure(a *Array) Value
	Lift(t Tracer) Value
	Process(prim jaxpr.Primitive, in []Value, params jaxpr.Params) []Value
}

// Tracer is a Value produced by an active trace.
type Tracer interface {
	Value
	traceMain() *MainTrace
}

// MainTrace is one frame of the trace stack: a level plus the constructor
// for its Trace. Tracer identity is tied to the frame, not the Trace value,
// so Trace instances stay cheap throwaway wrappers.
type MainTrace struct {
	Level int
	mk    func(*MainTrace) Trace
}

func (m *MainTrace) trace() Trace { return m.mk(m) }

// The stack and the dynamic frame are process-wide; tracing is
// single-threaded by contract. Frame zero is the eval interpreter.
var (
	traceStack  = []*MainTrace{{Level: 0, mk: newEvalTrace}}
	dynamicMain *MainTrace
)

// newMain pushes a frame. Every caller must pop it with popMain on all
// exit paths; pairing the call with defer keeps panics covered.
func newMain(mk func(*MainTrace) Trace) *MainTrace {
	m := &MainTrace{Level: len(traceStack), mk: mk}
	traceStack = append(traceStack, m)
	return m
}

func popMain(m *MainTrace) {
	top := traceStack[len(traceStack)-1]
	if top != m {
		panic(errors.Errorf("trace stack popped out of order: level %d on top, popping %d", top.Level, m.Level))
	}
	traceStack = traceStack[:len(traceStack)-1]
}

// setDynamic marks a frame as the dynamic trace: primitives route to it
// even when no argument carries one of its tracers. jit uses this to stage
// operations on constants. Returns the previous dynamic frame.
func setDynamic(m *MainTrace) *MainTrace {
	prev := dynamicMain
	dynamicMain = m
	return prev
}

// findTopTrace picks the highest-level trace among the argument tracers
// and the dynamic frame.
func findTopTrace(in []Value) Trace {
	top := traceStack[0]
	for _, v := range in {
		if t, ok := v.(Tracer); ok && t.traceMain().Level > top.Level {
			top = t.traceMain()
		}
	}
	if dynamicMain != nil && dynamicMain.Level > top.Level {
		top = dynamicMain
	}
	return top.trace()
}

// fullRaise brings v to tr's level: concrete arrays are boxed, lower
// tracers lifted, same-level tracers returned as is.
func fullRaise(tr Trace, v Value) Value {
	t, ok := v.(Tracer)
	if !ok {
		a, isArr := v.(*Array)
		if !isArr {
			failf("cannot raise a %T into a trace", v)
		}
		return tr.Pure(a)
	}
	main := tr.Main()
	switch {
	case t.traceMain() == main:
		return v
	case t.traceMain().Level < main.Level:
		return tr.Lift(t)
	case t.traceMain().Level == main.Level:
		failf("different traces at level %d", main.Level)
	default:
		failf("tracer from level %d escaped into level %d", t.traceMain().Level, main.Level)
	}
	return nil
}

// bind dispatches one primitive application through the trace stack.
func bind(prim jaxpr.Primitive, params jaxpr.Params, in ...Value) []Value {
	tr := findTopTrace(in)
	raised := make([]Value, len(in))
	for i, v := range in {
		raised[i] = fullRaise(tr, v)
	}
	return tr.Process(prim, raised, params)
}

// bind1 is bind for single-output primitives.
func bind1(prim jaxpr.Primitive, params jaxpr.Params, in ...Value) Value {
	out := bind(prim, params, in...)
	if len(out) != 1 {
		failf("%s returned %d outputs, expected 1", prim, len(out))
	}
	return out[0]
}
