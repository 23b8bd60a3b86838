package alu

// construct rebuilds an expression node through the public constructors,
// re-running peephole simplification. Leaves are returned as-is.
func construct(op Op, e *Exp, src []*Exp) *Exp {
	switch op {
	case OpAdd:
		return Add(src[0], src[1])
	case OpSub:
		return Sub(src[0], src[1])
	case OpMul:
		return Mul(src[0], src[1])
	case OpIdiv:
		return Idiv(src[0], src[1])
	case OpMod:
		return Mod(src[0], src[1])
	case OpNeg:
		return Neg(src[0])
	case OpSin:
		return Sin(src[0])
	case OpCos:
		return Cos(src[0])
	case OpExp:
		return Exponential(src[0])
	case OpLog:
		return Log(src[0])
	case OpSqrt:
		return Sqrt(src[0])
	case OpReciprocal:
		return Reciprocal(src[0])
	case OpCmplt:
		return Cmplt(src[0], src[1])
	case OpCmpeq:
		return Cmpeq(src[0], src[1])
	case OpCmpne:
		return Cmpne(src[0], src[1])
	case OpWhere:
		return Where(src[0], src[1], src[2])
	case OpGlobalView:
		arg := e.Arg.(ViewArg)
		return NewGlobalView(arg.Gid, arg.Tracker, e.DType, src)
	case OpGlobalIndex:
		return NewGlobalIndex(e.Arg.(int), src[0], e.DType)
	default: // Const, Special
		return e
	}
}

func (e *Exp) mapSrc(f func(*Exp) *Exp) *Exp {
	if len(e.Src) == 0 {
		return e
	}
	changed := false
	src := make([]*Exp, len(e.Src))
	for i, s := range e.Src {
		src[i] = f(s)
		changed = changed || src[i] != s
	}
	if !changed {
		return e
	}
	return construct(e.Op, e, src)
}

// Substitute replaces Special leaves by env[name], recursing into subterms
// and re-simplifying on the way back up. Names not present in env are kept.
func (e *Exp) Substitute(env map[string]*Exp) *Exp {
	if len(env) == 0 {
		return e
	}
	if e.Op == OpSpecial {
		if r, ok := env[e.Arg.(SpecialArg).Name]; ok {
			return r
		}
		return e
	}
	return e.mapSrc(func(s *Exp) *Exp { return s.Substitute(env) })
}

// Rewrite applies fn bottom-up to a fixpoint. fn returns a replacement or
// nil to leave the node unchanged. Replacements are themselves rewritten,
// so rules may produce reducible terms; fn must be terminating.
func (e *Exp) Rewrite(fn func(*Exp) *Exp) *Exp {
	cur := e.mapSrc(func(s *Exp) *Exp { return s.Rewrite(fn) })
	if r := fn(cur); r != nil && r != cur {
		return r.Rewrite(fn)
	}
	return cur
}

// Collect enumerates distinct subterms matching pred, in pre-order.
func (e *Exp) Collect(pred func(*Exp) bool) []*Exp {
	var out []*Exp
	seen := make(map[*Exp]bool)
	var walk func(*Exp)
	walk = func(n *Exp) {
		if seen[n] {
			return
		}
		seen[n] = true
		if pred(n) {
			out = append(out, n)
		}
		for _, s := range n.Src {
			walk(s)
		}
	}
	walk(e)
	return out
}

// ReindexGids renumbers buffer ids in GlobalView and GlobalIndex leaves.
// Used when a fused expression is spliced into a kernel with a different
// input list. Ids missing from m are kept.
func (e *Exp) ReindexGids(m map[int]int) *Exp {
	switch e.Op {
	case OpGlobalView:
		arg := e.Arg.(ViewArg)
		if gid, ok := m[arg.Gid]; ok && gid != arg.Gid {
			return NewGlobalView(gid, arg.Tracker, e.DType, reindexAll(e.Src, m))
		}
		return e.mapSrc(func(s *Exp) *Exp { return s.ReindexGids(m) })
	case OpGlobalIndex:
		gid := e.Arg.(int)
		if ngid, ok := m[gid]; ok {
			gid = ngid
		}
		off := e.Src[0].ReindexGids(m)
		if gid == e.Arg.(int) && off == e.Src[0] {
			return e
		}
		return NewGlobalIndex(gid, off, e.DType)
	default:
		return e.mapSrc(func(s *Exp) *Exp { return s.ReindexGids(m) })
	}
}

func reindexAll(src []*Exp, m map[int]int) []*Exp {
	out := make([]*Exp, len(src))
	for i, s := range src {
		out[i] = s.ReindexGids(m)
	}
	return out
}

// Simplify rebuilds the expression bottom-up through the constructors.
// Expressions built through this package are already simplified, so this
// is idempotent and mostly useful after substitution-heavy passes.
func (e *Exp) Simplify() *Exp {
	return e.mapSrc(func(s *Exp) *Exp { return s.Simplify() })
}
