package shapes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeSize(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 4, Int32.Size())
	assert.Equal(t, 4, Uint32.Size())
	assert.Equal(t, 1, Bool.Size())
	assert.Equal(t, 8, Complex64.Size())
}

func TestDTypeString(t *testing.T) {
	assert.Equal(t, "float32", Float32.String())
	assert.Equal(t, "bool", Bool.String())
	assert.Equal(t, "uint32", Uint32.String())
}

func TestShapeSize(t *testing.T) {
	assert.Equal(t, 1, Shape{}.Size(), "scalar has one element")
	assert.Equal(t, 24, Shape{2, 3, 4}.Size())
	assert.Equal(t, 0, Shape{2, 0, 4}.Size(), "zero-size axes are legal")
}

func TestShapeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.Strides())
	assert.Equal(t, []int{}, Shape{}.Strides())
}

func TestBroadcast(t *testing.T) {
	out, err := Broadcast(Shape{3, 1}, Shape{3, 5})
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 5}, out)

	out, err = Broadcast(Shape{5}, Shape{2, 3, 5})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 5}, out)

	_, err = Broadcast(Shape{3, 4}, Shape{3, 5})
	assert.Error(t, err)
}

func TestShapedArray(t *testing.T) {
	a := Make(Float32, 2, 3)
	b := Make(Float32, 2, 3)
	c := Make(Int32, 2, 3)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "float32[2,3]", a.String())
	assert.Equal(t, "float32[]", Make(Float32).String())
	assert.Equal(t, 24, a.ByteSize())
}
