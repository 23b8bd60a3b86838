package core

import (
	"github.com/lamng3/gojax/internal/alu"
	"github.com/lamng3/gojax/internal/jaxpr"
	"github.com/lamng3/gojax/internal/kernel"
	"github.com/lamng3/gojax/internal/shapes"
)

// kinput is one kernel operand: a scalar expression over the logical index
// specials of its shape. It is either a GlobalView read, a constant, or a
// previously fused expression.
type kinput struct {
	exp   *alu.Exp
	shape []int
	dtype shapes.DType
}

func eqShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// alignToShape reindexes in's expression onto the index specials of
// outShape, right-aligning axes NumPy style. Unit axes read position zero.
func alignToShape(in kinput, outShape []int) *alu.Exp {
	if len(in.shape) == 0 || eqShape(in.shape, outShape) {
		return in.exp
	}
	d := len(outShape) - len(in.shape)
	if d < 0 {
		failf("cannot broadcast %v onto %v", in.shape, outShape)
	}
	env := make(map[string]*alu.Exp, len(in.shape))
	for i, dim := range in.shape {
		j := i + d
		switch {
		case dim == outShape[j]:
			env[kernel.IdxName(i)] = kernel.Idx(j, outShape[j])
		case dim == 1:
			env[kernel.IdxName(i)] = alu.ConstInt(0)
		default:
			failf("cannot broadcast %v onto %v", in.shape, outShape)
		}
	}
	return in.exp.Substitute(env)
}

// primExp builds the kernel body for one compute primitive: the combined
// scalar expression over out's index specials, plus the reduction
// descriptor for reduce_sum. View primitives and random_bits never reach
// here.
func primExp(prim jaxpr.Primitive, params jaxpr.Params, in []kinput, out shapes.ShapedArray) (*alu.Exp, *kernel.Reduction) {
	switch prim {
	case jaxpr.Add:
		return alu.Add(alignToShape(in[0], out.Shape), alignToShape(in[1], out.Shape)), nil
	case jaxpr.Mul:
		return alu.Mul(alignToShape(in[0], out.Shape), alignToShape(in[1], out.Shape)), nil
	case jaxpr.Neg:
		return alu.Neg(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Sin:
		return alu.Sin(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Cos:
		return alu.Cos(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Exp:
		return alu.Exponential(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Log:
		return alu.Log(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Sqrt:
		return alu.Sqrt(alignToShape(in[0], out.Shape)), nil
	case jaxpr.Reciprocal:
		return alu.Reciprocal(alignToShape(in[0], out.Shape)), nil

	case jaxpr.Compare:
		a := alignToShape(in[0], out.Shape)
		b := alignToShape(in[1], out.Shape)
		switch params.CmpOp {
		case jaxpr.CmpLt:
			return alu.Cmplt(a, b), nil
		case jaxpr.CmpEq:
			return alu.Cmpeq(a, b), nil
		case jaxpr.CmpNe:
			return alu.Cmpne(a, b), nil
		}
		failf("unknown comparison %v", params.CmpOp)

	case jaxpr.Where:
		cond := alignToShape(in[0], out.Shape)
		a := alignToShape(in[1], out.Shape)
		b := alignToShape(in[2], out.Shape)
		return alu.Where(cond, a, b), nil

	case jaxpr.ReduceSum:
		// The kernel's index space is the kept axes followed by the
		// reduction axis, so the input expression's axes are renumbered:
		// axes past the reduced one shift down, the reduced axis becomes
		// the trailing special.
		src := in[0].shape
		axis := params.Axis
		env := make(map[string]*alu.Exp, len(src))
		for i, dim := range src {
			switch {
			case i < axis:
				env[kernel.IdxName(i)] = kernel.Idx(i, dim)
			case i == axis:
				env[kernel.IdxName(i)] = kernel.Idx(len(src)-1, dim)
			default:
				env[kernel.IdxName(i)] = kernel.Idx(i-1, dim)
			}
		}
		red := &kernel.Reduction{DType: out.DType, Op: alu.OpAdd, Size: src[axis]}
		return in[0].exp.Substitute(env), red
	}
	failf("no kernel rule for primitive %s", prim)
	return nil, nil
}

// buildKernel assembles a kernel whose GlobalView gids are already the
// positional input numbers 0..nargs-1.
func buildKernel(prim jaxpr.Primitive, params jaxpr.Params, in []kinput, out shapes.ShapedArray, nargs int) kernel.Kernel {
	exp, red := primExp(prim, params, in, out)
	return kernel.Kernel{
		NArgs:     nargs,
		OutShape:  out.Shape,
		OutDType:  out.DType,
		Exp:       exp,
		Reduction: red,
	}
}

// isViewPrim reports whether the primitive only rearranges indexing and
// never computes: these become tracker rewrites, not kernels.
func isViewPrim(p jaxpr.Primitive) bool {
	switch p {
	case jaxpr.Transpose, jaxpr.Reshape, jaxpr.Broadcast, jaxpr.Flip:
		return true
	}
	return false
}
