// Package shapes provides the element types and shape arithmetic shared by
// every layer of the library: arrays, tracers, the scalar IR and the
// equation IR all describe their values as a (shape, dtype) pair.
package shapes

// DType is runtime type information for array elements.
type DType int

// The closed set of supported element types.
const (
	Float32 DType = iota
	Int32
	Uint32
	Bool
	Complex64
)

// Size returns the byte size of one element.
func (dt DType) Size() int {
	switch dt {
	case Float32, Int32, Uint32:
		return 4
	case Bool:
		return 1
	case Complex64:
		return 8
	default:
		panic("unknown dtype")
	}
}

// IsFloat reports whether dt is a floating-point type.
func (dt DType) IsFloat() bool {
	return dt == Float32
}

// IsNumeric reports whether dt supports arithmetic. Bool is excluded;
// boolean addition and multiplication are defined as OR and AND only
// inside the scalar IR evaluator.
func (dt DType) IsNumeric() bool {
	return dt != Bool
}

// String returns the canonical lower-case name used by the Jaxpr printer.
func (dt DType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Bool:
		return "bool"
	case Complex64:
		return "complex64"
	default:
		return "unknown"
	}
}
