package jax

import (
	"context"
	"fmt"
	"strings"

	"github.com/lamng3/gojax/internal/core"
	"github.com/lamng3/gojax/internal/shapes"
)

// DefaultBackend returns the backend new arrays land on when none is
// given.
func DefaultBackend() Backend { return core.DefaultBackend() }

// SetDefaultBackend changes the backend for subsequently created arrays.
func SetDefaultBackend(b Backend) { core.SetDefaultBackend(b) }

// FromSlice uploads vals as a float32 array of the given shape.
func FromSlice(dims []int, vals []float64) (*Array, error) {
	return core.NewArray(core.DefaultBackend(), shapes.Float32, dims, vals)
}

// FromSliceT uploads vals with an explicit element type.
func FromSliceT(dtype DType, dims []int, vals []float64) (*Array, error) {
	return core.NewArray(core.DefaultBackend(), dtype, dims, vals)
}

// Scalar uploads a single float32.
func Scalar(v float64) (*Array, error) {
	return core.Scalar(core.DefaultBackend(), shapes.Float32, v)
}

// Full builds an array with every element set to v.
func Full(dims []int, v float64) (*Array, error) {
	vals := make([]float64, shapes.Shape(dims).Size())
	for i := range vals {
		vals[i] = v
	}
	return FromSlice(dims, vals)
}

// Zeros builds an all-zero float32 array.
func Zeros(dims ...int) (*Array, error) { return Full(dims, 0) }

// Ones builds an all-one float32 array.
func Ones(dims ...int) (*Array, error) { return Full(dims, 1) }

// Arange builds a rank-1 float32 array [0, 1, ..., n-1].
func Arange(n int) (*Array, error) {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i)
	}
	return FromSlice([]int{n}, vals)
}

// NewKey derives a PRNG key array from a seed.
func NewKey(seed uint64) (*Array, error) {
	return core.NewKey(core.DefaultBackend(), seed)
}

// Split derives n independent subkeys from a key.
func Split(key *Array, n int) (*Array, error) { return core.Split(key, n) }

// Uniform draws float32s in [0, 1) of the given shape.
func Uniform(key *Array, dims []int) (*Array, error) {
	return core.Uniform(key, dims)
}

// Read fetches an array's logical contents in row-major order.
func Read(ctx context.Context, a *Array) ([]float64, error) {
	return a.Read(ctx)
}

// Sprint renders an array for debugging: dtype, shape and the flattened
// values.
func Sprint(ctx context.Context, a *Array) (string, error) {
	vals, err := a.Read(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("%s[%s]", a.Aval(), strings.Join(parts, " ")), nil
}
