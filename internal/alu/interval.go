package alu

import "math"

// Interval propagation. Bounds are conservative: they may be looser than
// the true value set but never tighter. The simplifier and the view
// lowering rely on them to discharge comparisons statically.

func unaryInterval(op Op, lo, hi float64) (float64, float64) {
	switch op {
	case OpNeg:
		return -hi, -lo
	case OpSin, OpCos:
		return -1, 1
	case OpExp:
		return math.Exp(lo), math.Exp(hi)
	case OpSqrt:
		return math.Sqrt(math.Max(lo, 0)), math.Sqrt(math.Max(hi, 0))
	case OpLog:
		if lo > 0 {
			return math.Log(lo), math.Log(hi)
		}
		return math.Inf(-1), math.Log(math.Max(hi, 1))
	case OpReciprocal:
		if lo > 0 || hi < 0 {
			return 1 / hi, 1 / lo
		}
		return math.Inf(-1), math.Inf(1)
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

func binaryInterval(op Op, a, b *Exp) (float64, float64) {
	switch op {
	case OpAdd:
		return a.min + b.min, a.max + b.max
	case OpSub:
		return a.min - b.max, a.max - b.min
	case OpMul:
		return productInterval(a.min, a.max, b.min, b.max, func(x, y float64) float64 {
			return intervalMul(x, y)
		})
	case OpIdiv:
		if b.min > 0 || b.max < 0 {
			return productInterval(a.min, a.max, b.min, b.max, func(x, y float64) float64 {
				return math.Floor(x / y)
			})
		}
		return math.Inf(-1), math.Inf(1)
	case OpMod:
		// Floor-mod takes the divisor's sign; for the common positive
		// divisor case the result lies in [0, divisor).
		if b.min > 0 {
			return 0, b.max - 1
		}
		return math.Inf(-1), math.Inf(1)
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// intervalMul is multiplication with the convention inf*0 = 0, so that an
// unbounded operand times a known zero stays bounded.
func intervalMul(x, y float64) float64 {
	if x == 0 || y == 0 {
		return 0
	}
	return x * y
}

func productInterval(alo, ahi, blo, bhi float64, f func(x, y float64) float64) (float64, float64) {
	c := [4]float64{f(alo, blo), f(alo, bhi), f(ahi, blo), f(ahi, bhi)}
	lo, hi := c[0], c[0]
	for _, v := range c[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Scalar semantics shared by constant folding and the evaluator.

func evalUnary(op Op, x float64) float64 {
	switch op {
	case OpNeg:
		return -x
	case OpSin:
		return math.Sin(x)
	case OpCos:
		return math.Cos(x)
	case OpExp:
		return math.Exp(x)
	case OpLog:
		return math.Log(x)
	case OpSqrt:
		return math.Sqrt(x)
	case OpReciprocal:
		return 1 / x
	default:
		panic("alu: bad unary op")
	}
}

func evalBinary(op Op, x, y float64) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpIdiv:
		return math.Floor(x / y)
	case OpMod:
		return x - math.Floor(x/y)*y
	default:
		panic("alu: bad binary op")
	}
}
