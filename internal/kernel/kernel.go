// Package kernel defines the executable unit the JIT compiler hands to a
// backend: a scalar expression computing one output element per global
// index, over numbered input buffers, with an optional innermost reduction
// loop. Tuning lowers the abstract per-axis view reads into flat buffer
// offsets; backends only ever see tuned kernels.
package kernel

import (
	"strconv"

	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/view"
)

// Special names bound by the execution grid.
const (
	GidxName = "gidx" // global output index
	RidxName = "ridx" // reduction loop index
)

// IdxName returns the name of the logical per-axis index special.
func IdxName(axis int) string { return "idx" + strconv.Itoa(axis) }

// Idx returns the logical index special for an axis of the given extent.
func Idx(axis, extent int) *alu.Exp { return alu.Special(IdxName(axis), extent) }

// Reduction describes the innermost loop of a reduce kernel: the
// accumulator dtype and combining op, and the loop extent. The loop axis is
// the last logical axis of the kernel expression.
type Reduction struct {
	DType shapes.DType
	Op    alu.Op
	Size  int
}

// Identity returns the combining op's identity element.
func (r *Reduction) Identity() float64 {
	switch r.Op {
	case alu.OpAdd:
		return 0
	case alu.OpMul:
		return 1
	default:
		panic("kernel: no identity for reduction op " + r.Op.String())
	}
}

// Kernel is the untuned form: Exp indexes inputs through GlobalView leaves
// whose Src are the Idx specials over OutShape (plus one trailing axis of
// Reduction.Size when reducing).
type Kernel struct {
	NArgs     int
	OutShape  []int
	OutDType  shapes.DType
	Exp       *alu.Exp
	Reduction *Reduction
}

// OutSize returns the number of output elements.
func (k Kernel) OutSize() int { return shapes.Shape(k.OutShape).Size() }

// Tuned is the executable form. Exp references only GlobalIndex reads and
// the grid specials; Specials lists them with their bounds (gidx first,
// then ridx when reducing).
type Tuned struct {
	NArgs     int
	OutDType  shapes.DType
	ArgDTypes []shapes.DType
	Size      int
	Specials  []alu.SpecialArg
	Exp       *alu.Exp
	Reduction *Reduction
}

// Tune lowers a kernel for execution: the per-axis Idx specials are
// replaced by the unraveling of gidx (and ridx for the reduction axis), and
// every GlobalView collapses to a masked flat read. Out-of-mask reads
// become Where(valid, read, 0); provably valid reads lose the select
// entirely through interval reasoning.
func Tune(k Kernel) Tuned {
	gidx := alu.Special(GidxName, max(k.OutSize(), 1))
	env := make(map[string]*alu.Exp, len(k.OutShape)+1)
	for i, e := range view.UnravelAlu(k.OutShape, gidx) {
		env[IdxName(i)] = e
	}
	specials := []alu.SpecialArg{{Name: GidxName, Bound: max(k.OutSize(), 1)}}
	if k.Reduction != nil {
		env[IdxName(len(k.OutShape))] = alu.Special(RidxName, k.Reduction.Size)
		specials = append(specials, alu.SpecialArg{Name: RidxName, Bound: k.Reduction.Size})
	}

	exp := k.Exp.Substitute(env).Rewrite(lowerGlobalView)

	return Tuned{
		NArgs:     k.NArgs,
		OutDType:  k.OutDType,
		ArgDTypes: argDTypes(k),
		Size:      k.OutSize(),
		Specials:  specials,
		Exp:       exp,
		Reduction: k.Reduction,
	}
}

func lowerGlobalView(n *alu.Exp) *alu.Exp {
	if n.Op != alu.OpGlobalView {
		return nil
	}
	arg := n.Arg.(alu.ViewArg)
	offset, valid := arg.Tracker.LowerIndex(n.Src)
	read := alu.NewGlobalIndex(arg.Gid, offset, n.DType)
	// The Where constructor folds away when validity is a constant.
	return alu.Where(valid, read, zero(n.DType))
}

func zero(dtype shapes.DType) *alu.Exp {
	if dtype == shapes.Bool {
		return alu.ConstBool(false)
	}
	return alu.Const(dtype, 0.0)
}

func argDTypes(k Kernel) []shapes.DType {
	out := make([]shapes.DType, k.NArgs)
	for i := range out {
		out[i] = shapes.Float32
	}
	reads := k.Exp.Collect(func(n *alu.Exp) bool {
		return n.Op == alu.OpGlobalView || n.Op == alu.OpGlobalIndex
	})
	for _, r := range reads {
		switch arg := r.Arg.(type) {
		case alu.ViewArg:
			out[arg.Gid] = r.DType
		case int:
			out[arg] = r.DType
		}
	}
	return out
}
