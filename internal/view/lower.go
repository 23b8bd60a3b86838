package view

import (
	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/shapes"
)

// UnravelAlu decomposes a flat row-major index into per-axis indices for
// shape. The interval bounds on flat let the simplifier drop redundant
// divisions and modulos.
func UnravelAlu(shape []int, flat *alu.Exp) []*alu.Exp {
	strides := shapes.Shape(shape).Strides()
	idx := make([]*alu.Exp, len(shape))
	for i, d := range shape {
		idx[i] = alu.Mod(alu.Idiv(flat, alu.ConstInt(strides[i])), alu.ConstInt(d))
	}
	return idx
}

// toAlu lowers one view: offset is the base plus the strided index sum,
// valid conjoins the mask bounds. Axes the mask fully admits contribute no
// comparison at all.
func (v View) toAlu(idx []*alu.Exp) (offset, valid *alu.Exp) {
	offset = alu.ConstInt(v.Offset)
	for i, id := range idx {
		offset = alu.Add(offset, alu.Mul(id, alu.ConstInt(v.Strides[i])))
	}
	valid = alu.ConstBool(true)
	for i := range v.Mask {
		lo, hi := v.Mask[i][0], v.Mask[i][1]
		if lo > 0 {
			valid = alu.Mul(valid, alu.Cmplt(alu.ConstInt(lo-1), idx[i]))
		}
		if hi < v.Shape[i] {
			valid = alu.Mul(valid, alu.Cmplt(idx[i], alu.ConstInt(hi)))
		}
	}
	return offset, valid
}

// LowerIndex maps a logical index vector to a physical buffer offset and a
// validity expression, composing the view stack from the logical view down
// to the buffer. It implements alu.IndexLowerer.
func (t *ShapeTracker) LowerIndex(idx []*alu.Exp) (offset, valid *alu.Exp) {
	last := len(t.views) - 1
	t.check(len(idx) == len(t.views[last].Shape),
		"index rank %d vs logical rank %d", len(idx), len(t.views[last].Shape))
	offset, valid = t.views[last].toAlu(idx)
	for i := last - 1; i >= 0; i-- {
		inner := UnravelAlu(t.views[i].Shape, offset)
		var v *alu.Exp
		offset, v = t.views[i].toAlu(inner)
		valid = alu.Mul(valid, v)
	}
	return offset, valid
}

// LogicalShape implements alu.IndexLowerer.
func (t *ShapeTracker) LogicalShape() []int { return t.Shape() }
