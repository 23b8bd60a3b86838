package core

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
	"github.com/lamng3/gojax/internal/view"
)

// JitFunc wraps f so that calls stage it into a jaxpr and dispatch a
// jit_call. Under the eval trace the call compiles (with caching) and
// executes; under other traces the staged program inlines. Each call
// re-traces, since closed-over values may change; the kernel-level compile
// cache absorbs the cost of repeat shapes.
func JitFunc(f Func) Func {
	return func(args []Value) []Value {
		avals := make([]shapes.ShapedArray, len(args))
		for i, a := range args {
			avals[i] = a.Aval()
		}
		jx, consts := makeJaxpr(f, avals)
		in := make([]Value, 0, len(consts)+len(args))
		in = append(in, consts...)
		in = append(in, args...)
		return bind(jaxpr.JitCall, jaxpr.Params{Jaxpr: jx, NumConsts: len(consts)}, in...)
	}
}

// MakeJaxpr stages f on abstract inputs and returns the jaxpr plus the
// hoisted constants bound by its leading binders.
func MakeJaxpr(f Func, avals []shapes.ShapedArray) (jx *jaxpr.Jaxpr, consts []Value, err error) {
	defer recoverErr(&err)
	jx, consts = makeJaxpr(f, avals)
	return jx, consts, nil
}

func makeJaxpr(f Func, avals []shapes.ShapedArray) (*jaxpr.Jaxpr, []Value) {
	pvals := make([]partialVal, len(avals))
	for i, a := range avals {
		pvals[i] = unknownVal(a)
	}
	jx, consts, _ := partialEvalFlat(f, pvals, true)
	return jx, consts
}

type stepKind int

const (
	stepMalloc stepKind = iota
	stepConst
	stepExecute
	stepFree
)

// step is one instruction of a compiled program. Jit ids number the
// buffers: consts first, then runtime arguments, then mallocs in emission
// order.
type step struct {
	kind  stepKind
	id    int
	size  int            // malloc
	slot  *backend.Slot  // const
	tuned kernel.Tuned   // execute
	args  []int          // execute inputs
}

type progOut struct {
	id      int
	tracker *view.ShapeTracker
	aval    shapes.ShapedArray
}

// JitProgram is a compiled jaxpr: a linear schedule of buffer and kernel
// steps for one backend.
type JitProgram struct {
	be      backend.Backend
	nConsts int
	nArgs   int
	inAvals []shapes.ShapedArray
	steps   []step
	outs    []progOut
}

// Steps returns the schedule, for inspection and tests.
func (p *JitProgram) Steps() []step { return p.steps }

// NumExecutes counts kernel dispatches in the schedule.
func (p *JitProgram) NumExecutes() int {
	n := 0
	for _, s := range p.steps {
		if s.kind == stepExecute {
			n++
		}
	}
	return n
}

// Run plays the schedule: arguments materialize to contiguous buffers,
// steps execute in order, outputs come back as arrays owning one
// reference each.
func (p *JitProgram) Run(ctx context.Context, args []*Array) ([]*Array, error) {
	if len(args) != p.nArgs {
		return nil, typeErrorf("compiled program expects %d arguments, got %d", p.nArgs, len(args))
	}
	for i, a := range args {
		if !a.aval.Equal(p.inAvals[i]) {
			return nil, typeErrorf("argument %d: %s does not match compiled %s", i, a.aval, p.inAvals[i])
		}
	}

	slots := make(map[int]*backend.Slot, p.nConsts+p.nArgs+len(p.steps))
	owned := make(map[int]*backend.Slot)
	var temps []*Array
	cleanupTemps := func() {
		for _, t := range temps {
			if err := t.Free(); err != nil {
				klog.Errorf("free materialized input: %v", err)
			}
		}
	}
	failRun := func(err error) ([]*Array, error) {
		for _, s := range owned {
			if derr := p.be.DecRef(s); derr != nil {
				klog.Errorf("free intermediate: %v", derr)
			}
		}
		cleanupTemps()
		return nil, err
	}

	for i, a := range args {
		m, err := a.Materialize(ctx)
		if err != nil {
			return failRun(err)
		}
		if m != a {
			temps = append(temps, m)
		}
		slots[p.nConsts+i] = m.slot
	}

	for _, st := range p.steps {
		switch st.kind {
		case stepConst:
			slots[st.id] = st.slot
		case stepMalloc:
			s, err := p.be.Malloc(st.size, nil)
			if err != nil {
				return failRun(err)
			}
			slots[st.id] = s
			owned[st.id] = s
		case stepExecute:
			in := make([]*backend.Slot, len(st.args))
			for i, id := range st.args {
				in[i] = slots[id]
			}
			if err := p.be.ExecuteSync(ctx, st.tuned, in, []*backend.Slot{slots[st.id]}); err != nil {
				return failRun(err)
			}
		case stepFree:
			s := slots[st.id]
			delete(owned, st.id)
			if err := p.be.DecRef(s); err != nil {
				return failRun(err)
			}
		}
	}

	outs := make([]*Array, len(p.outs))
	for i, po := range p.outs {
		s := slots[po.id]
		if err := p.be.IncRef(s); err != nil {
			return failRun(err)
		}
		outs[i] = &Array{aval: po.aval, tracker: po.tracker, slot: s, be: p.be}
	}
	// Release the creation reference of malloc'd outputs; the arrays hold
	// theirs now.
	for id, s := range owned {
		if err := p.be.DecRef(s); err != nil {
			klog.Errorf("release output buffer %d: %v", id, err)
		}
	}
	cleanupTemps()
	return outs, nil
}

var (
	progMu    sync.Mutex
	progCache = make(map[string]*JitProgram)
)

// compiledFor returns the cached program for (backend, jaxpr, consts),
// compiling on miss. Entries live for the process.
func compiledFor(be backend.Backend, jx *jaxpr.Jaxpr, consts []*Array) (*JitProgram, error) {
	key := fmt.Sprintf("%s:%016x", be.Type(), jx.Fingerprint())
	for _, c := range consts {
		key += fmt.Sprintf(":%d", c.slot.ID())
	}
	progMu.Lock()
	defer progMu.Unlock()
	if p, ok := progCache[key]; ok {
		return p, nil
	}
	p, err := Compile(be, jx, consts)
	if err != nil {
		return nil, err
	}
	progCache[key] = p
	klog.V(1).Infof("jit: compiled %d-step program (%d kernels) for %s", len(p.steps), p.NumExecutes(), be.Type())
	return p, nil
}

// immRef is a materialized buffer seen through a view.
type immRef struct {
	id      int
	tracker *view.ShapeTracker
	dtype   shapes.DType
}

// cvalue is the compile-time state of a jaxpr variable: a buffer or a
// fused expression waiting to be folded into its consumer's kernel.
type cvalue struct {
	imm *immRef
	exp *kinput
}

type compiler struct {
	be     backend.Backend
	nextID int
	steps  []step
	state  map[*jaxpr.Var]cvalue
}

// Compile lowers a jaxpr to a program: nested jit_calls flatten, the
// dataflow pass picks which equations materialize, and everything else
// fuses into its consumer's kernel expression.
func Compile(be backend.Backend, jx *jaxpr.Jaxpr, consts []*Array) (p *JitProgram, err error) {
	defer recoverErr(&err)
	jx = jx.Flatten().Simplify()
	if terr := jx.TypeCheck(); terr != nil {
		return nil, terr
	}
	if len(consts) > len(jx.InBinders) {
		return nil, typeErrorf("%d constants for %d binders", len(consts), len(jx.InBinders))
	}
	black := classify(jx)

	c := &compiler{
		be:     be,
		nextID: len(jx.InBinders),
		state:  make(map[*jaxpr.Var]cvalue, len(jx.InBinders)+len(jx.Eqns)),
	}
	var inAvals []shapes.ShapedArray
	for i, b := range jx.InBinders {
		if i < len(consts) {
			cst := consts[i]
			if !cst.aval.Equal(b.Aval) {
				return nil, typeErrorf("constant %d: %s does not match binder %s", i, cst.aval, b.Aval)
			}
			if rerr := be.IncRef(cst.slot); rerr != nil {
				return nil, rerr
			}
			c.steps = append(c.steps, step{kind: stepConst, id: i, slot: cst.slot})
			c.state[b] = cvalue{imm: &immRef{id: i, tracker: cst.tracker, dtype: cst.aval.DType}}
			continue
		}
		inAvals = append(inAvals, b.Aval)
		c.state[b] = cvalue{imm: &immRef{id: i, tracker: view.Contiguous(b.Aval.Shape), dtype: b.Aval.DType}}
	}

	for _, eqn := range jx.Eqns {
		c.emitEqn(eqn, black)
	}

	outs := make([]progOut, len(jx.Outs))
	for i, a := range jx.Outs {
		outs[i] = c.resolveOut(a)
	}

	c.insertFrees(len(jx.InBinders), outs)

	return &JitProgram{
		be:      be,
		nConsts: len(consts),
		nArgs:   len(jx.InBinders) - len(consts),
		inAvals: inAvals,
		steps:   c.steps,
		outs:    outs,
	}, nil
}

// classify decides which equation outputs materialize: reductions, values
// the program returns, and values whose fusion would duplicate work into
// two or more downstream kernels. View equations are transparent; demand
// passes through them to their producers.
func classify(jx *jaxpr.Jaxpr) map[*jaxpr.Var]bool {
	demand := make(map[*jaxpr.Var]bool)
	for _, o := range jx.Outs {
		if v, ok := o.(*jaxpr.Var); ok {
			demand[v] = true
		}
	}
	sinks := make(map[*jaxpr.Var]map[*jaxpr.Var]bool)
	merge := func(v *jaxpr.Var, s map[*jaxpr.Var]bool) {
		if len(s) == 0 {
			return
		}
		dst := sinks[v]
		if dst == nil {
			dst = make(map[*jaxpr.Var]bool, len(s))
			sinks[v] = dst
		}
		for k := range s {
			dst[k] = true
		}
	}
	black := make(map[*jaxpr.Var]bool)
	for i := len(jx.Eqns) - 1; i >= 0; i-- {
		eqn := jx.Eqns[i]
		o := eqn.OutBinders[0]
		if isViewPrim(eqn.Prim) {
			if v, ok := eqn.Inputs[0].(*jaxpr.Var); ok {
				if demand[o] {
					demand[v] = true
				}
				merge(v, sinks[o])
			}
			continue
		}
		s := sinks[o]
		isBlack := eqn.Prim == jaxpr.ReduceSum || eqn.Prim == jaxpr.RandomBits ||
			demand[o] || len(s) >= 2
		if isBlack {
			black[o] = true
			s = map[*jaxpr.Var]bool{o: true}
		}
		for _, a := range eqn.Inputs {
			if v, ok := a.(*jaxpr.Var); ok {
				merge(v, s)
			}
		}
	}
	return black
}

func (c *compiler) input(a jaxpr.Atom) kinput {
	switch at := a.(type) {
	case jaxpr.Lit:
		var e *alu.Exp
		if at.DType == shapes.Bool {
			e = alu.ConstBool(at.Val != 0)
		} else {
			e = alu.Const(at.DType, at.Val)
		}
		return kinput{exp: e, dtype: at.DType}
	case *jaxpr.Var:
		cv, ok := c.state[at]
		if !ok {
			failf("unbound variable during compilation")
		}
		if cv.exp != nil {
			return *cv.exp
		}
		im := cv.imm
		return kinput{
			exp:   alu.NewGlobalView(im.id, im.tracker, im.dtype, idxExps(im.tracker.Shape())),
			shape: im.tracker.Shape(),
			dtype: im.dtype,
		}
	}
	failf("unknown atom %T", a)
	return kinput{}
}

func (c *compiler) emitEqn(eqn jaxpr.Eqn, black map[*jaxpr.Var]bool) {
	o := eqn.OutBinders[0]
	out := o.Aval

	if isViewPrim(eqn.Prim) {
		if v, ok := eqn.Inputs[0].(*jaxpr.Var); ok {
			if cv := c.state[v]; cv.imm != nil {
				tr := rewriteTracker(cv.imm.tracker, eqn.Prim, eqn.Params)
				c.state[o] = cvalue{imm: &immRef{id: cv.imm.id, tracker: tr, dtype: cv.imm.dtype}}
				return
			}
		}
		in := c.input(eqn.Inputs[0])
		c.state[o] = cvalue{exp: viewApplyExp(eqn.Prim, eqn.Params, in, out)}
		return
	}
	if eqn.Prim == jaxpr.RandomBits || eqn.Prim == jaxpr.JitCall {
		failf("%s equation survived staging", eqn.Prim)
	}

	in := make([]kinput, len(eqn.Inputs))
	for i, a := range eqn.Inputs {
		in[i] = c.input(a)
	}
	if black[o] || eqn.Prim == jaxpr.ReduceSum {
		im := c.emitKernel(eqn.Prim, eqn.Params, in, out)
		c.state[o] = cvalue{imm: &im}
		return
	}
	exp, _ := primExp(eqn.Prim, eqn.Params, in, out)
	c.state[o] = cvalue{exp: &kinput{exp: exp, shape: out.Shape, dtype: out.DType}}
}

// emitKernel renumbers the expression's jit-id buffer references to
// positional kernel inputs and schedules malloc + execute.
func (c *compiler) emitKernel(prim jaxpr.Primitive, params jaxpr.Params, in []kinput, out shapes.ShapedArray) immRef {
	exp, red := primExp(prim, params, in, out)
	return c.schedule(exp, red, out)
}

func (c *compiler) schedule(exp *alu.Exp, red *kernel.Reduction, out shapes.ShapedArray) immRef {
	reads := exp.Collect(func(n *alu.Exp) bool { return n.Op == alu.OpGlobalView })
	var ids []int
	m := make(map[int]int)
	for _, r := range reads {
		gid := r.Arg.(alu.ViewArg).Gid
		if _, ok := m[gid]; !ok {
			m[gid] = len(ids)
			ids = append(ids, gid)
		}
	}
	k := kernel.Kernel{
		NArgs:     len(ids),
		OutShape:  out.Shape,
		OutDType:  out.DType,
		Exp:       exp.ReindexGids(m),
		Reduction: red,
	}
	outID := c.nextID
	c.nextID++
	c.steps = append(c.steps, step{kind: stepMalloc, id: outID, size: out.ByteSize()})
	c.steps = append(c.steps, step{kind: stepExecute, id: outID, tuned: kernel.Tune(k), args: ids})
	return immRef{id: outID, tracker: view.Contiguous(out.Shape), dtype: out.DType}
}

func (c *compiler) resolveOut(a jaxpr.Atom) progOut {
	switch at := a.(type) {
	case jaxpr.Lit:
		aval := shapes.Make(at.DType)
		in := c.input(at)
		im := c.schedule(in.exp, nil, aval)
		return progOut{id: im.id, tracker: im.tracker, aval: aval}
	case *jaxpr.Var:
		cv := c.state[at]
		if cv.imm == nil {
			// Fused expression demanded as an output; force it into a
			// buffer of its own.
			im := c.schedule(cv.exp.exp, nil, at.Aval)
			cv = cvalue{imm: &im}
			c.state[at] = cv
		}
		return progOut{id: cv.imm.id, tracker: cv.imm.tracker, aval: at.Aval}
	}
	failf("unknown atom %T", a)
	return progOut{}
}

// insertFrees schedules a free after the last kernel use of every
// intermediate buffer the outputs do not keep.
func (c *compiler) insertFrees(nInputs int, outs []progOut) {
	kept := make(map[int]bool, len(outs))
	for _, o := range outs {
		kept[o.id] = true
	}
	lastUse := make(map[int]int)
	for si, st := range c.steps {
		if st.kind != stepExecute {
			continue
		}
		for _, id := range st.args {
			lastUse[id] = si
		}
	}
	out := make([]step, 0, len(c.steps))
	for si, st := range c.steps {
		out = append(out, st)
		if st.kind != stepExecute {
			continue
		}
		for _, id := range st.args {
			if id >= nInputs && !kept[id] && lastUse[id] == si {
				out = append(out, step{kind: stepFree, id: id})
				delete(lastUse, id)
			}
		}
	}
	c.steps = out
}

func rewriteTracker(tr *view.ShapeTracker, prim jaxpr.Primitive, params jaxpr.Params) *view.ShapeTracker {
	switch prim {
	case jaxpr.Transpose:
		return tr.Permute(params.Perm)
	case jaxpr.Reshape:
		return tr.Reshape(params.Shape)
	case jaxpr.Broadcast:
		return tr.Broadcast(params.Shape, params.Axes)
	case jaxpr.Flip:
		axes := make([]bool, tr.NDim())
		axes[params.Axis] = true
		return tr.Flip(axes)
	}
	failf("no tracker rewrite for %s", prim)
	return nil
}

// viewApplyExp reindexes a fused expression through a view primitive by
// substituting its index specials.
func viewApplyExp(prim jaxpr.Primitive, params jaxpr.Params, in kinput, out shapes.ShapedArray) *kinput {
	env := make(map[string]*alu.Exp, len(in.shape))
	switch prim {
	case jaxpr.Transpose:
		inv := utils.InversePerm(params.Perm)
		for j := range in.shape {
			env[kernel.IdxName(j)] = kernel.Idx(inv[j], out.Shape[inv[j]])
		}
	case jaxpr.Flip:
		dim := in.shape[params.Axis]
		env[kernel.IdxName(params.Axis)] = alu.Sub(alu.ConstInt(dim-1), kernel.Idx(params.Axis, dim))
	case jaxpr.Broadcast:
		added := make(map[int]bool, len(params.Axes))
		for _, a := range params.Axes {
			added[a] = true
		}
		k := 0
		for j, dim := range out.Shape {
			if added[j] {
				continue
			}
			if k < len(in.shape) && in.shape[k] == dim {
				env[kernel.IdxName(k)] = kernel.Idx(j, dim)
			} else {
				env[kernel.IdxName(k)] = alu.ConstInt(0)
			}
			k++
		}
	case jaxpr.Reshape:
		strides := shapes.Shape(out.Shape).Strides()
		flat := alu.ConstInt(0)
		for j, dim := range out.Shape {
			flat = alu.Add(flat, alu.Mul(kernel.Idx(j, dim), alu.ConstInt(strides[j])))
		}
		for j, e := range view.UnravelAlu(in.shape, flat) {
			env[kernel.IdxName(j)] = e
		}
	default:
		failf("no fused rewrite for %s", prim)
	}
	return &kinput{exp: in.exp.Substitute(env), shape: out.Shape, dtype: in.dtype}
}
