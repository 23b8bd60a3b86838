package shapes

import "fmt"

// ShapedArray is an abstract value: the (shape, dtype) summary of an array
// without its storage. Every tracer and every IR binder carries exactly one.
type ShapedArray struct {
	Shape Shape
	DType DType
}

// Make builds a ShapedArray, cloning the shape so the abstract value is
// safe to share.
func Make(dtype DType, dims ...int) ShapedArray {
	return ShapedArray{Shape: Shape(dims).Clone(), DType: dtype}
}

// Size returns the element count.
func (a ShapedArray) Size() int {
	return a.Shape.Size()
}

// ByteSize returns the buffer size needed for a contiguous layout.
func (a ShapedArray) ByteSize() int {
	return a.Shape.Size() * a.DType.Size()
}

// Equal reports whether both shape and dtype match.
func (a ShapedArray) Equal(other ShapedArray) bool {
	return a.DType == other.DType && a.Shape.Equal(other.Shape)
}

// String renders as "dtype[dims]", the form used by the Jaxpr printer.
func (a ShapedArray) String() string {
	return fmt.Sprintf("%s%s", a.DType, a.Shape)
}
