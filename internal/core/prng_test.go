package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamng3/gojax/internal/shapes"
)

func TestRandomBitsDeterministic(t *testing.T) {
	key, err := NewKey(DefaultBackend(), 42)
	require.NoError(t, err)

	a := valsOf(t, RandomBits(key, []int{8}))
	b := valsOf(t, RandomBits(key, []int{8}))
	assert.Equal(t, a, b, "same key draws the same stream")

	other, err := NewKey(DefaultBackend(), 43)
	require.NoError(t, err)
	c := valsOf(t, RandomBits(other, []int{8}))
	assert.NotEqual(t, a, c, "different keys draw different streams")
}

func TestRandomBitsShapeAndDType(t *testing.T) {
	key, err := NewKey(DefaultBackend(), 1)
	require.NoError(t, err)
	out := RandomBits(key, []int{2, 3})
	assert.Equal(t, shapes.Uint32, out.Aval().DType)
	assert.Equal(t, shapes.Shape{2, 3}, out.Aval().Shape)
	assert.Len(t, valsOf(t, out), 6)
}

func TestSplitIndependence(t *testing.T) {
	key, err := NewKey(DefaultBackend(), 9)
	require.NoError(t, err)
	sub, err := Split(key, 3)
	require.NoError(t, err)
	assert.Equal(t, shapes.Shape{3, 2}, sub.Aval().Shape)

	vals := valsOf(t, sub)
	k01 := vals[0:2]
	k11 := vals[2:4]
	assert.NotEqual(t, k01, k11, "subkeys differ")
}

func TestUniformRange(t *testing.T) {
	key, err := NewKey(DefaultBackend(), 123)
	require.NoError(t, err)
	u, err := Uniform(key, []int{1000})
	require.NoError(t, err)
	vals := valsOf(t, u)

	sum := 0.0
	for _, v := range vals {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		sum += v
	}
	mean := sum / float64(len(vals))
	assert.InDelta(t, 0.5, mean, 0.05, "uniform mean drifts: %v", mean)
}

func TestRandomBitsRejectsStaging(t *testing.T) {
	_, _, err := MakeJaxpr(func(args []Value) []Value {
		return []Value{RandomBits(args[0], []int{4})}
	}, []shapes.ShapedArray{shapes.Make(shapes.Uint32, 2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrType)
}
