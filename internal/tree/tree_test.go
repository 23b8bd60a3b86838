package tree

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenRoundTrip(t *testing.T) {
	in := map[string]any{
		"b": []any{1.0, 2.0},
		"a": 3.0,
	}
	leaves, def := Flatten(in)
	// Map keys are visited sorted.
	assert.Equal(t, []any{3.0, 1.0, 2.0}, leaves)
	assert.Equal(t, 3, def.NumLeaves())

	back, err := def.Unflatten(leaves)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestLeafOnly(t *testing.T) {
	leaves, def := Flatten(42.0)
	assert.Equal(t, []any{42.0}, leaves)
	v, err := def.Unflatten(leaves)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestNested(t *testing.T) {
	in := []any{map[string]any{"x": 1.0}, []any{2.0, []any{3.0}}}
	leaves, def := Flatten(in)
	assert.Len(t, leaves, 3)
	back, err := def.Unflatten(leaves)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestMismatch(t *testing.T) {
	_, def := Flatten([]any{1.0, 2.0})
	_, err := def.Unflatten([]any{1.0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))

	_, a := Flatten(map[string]any{"x": 1.0})
	_, b := Flatten(map[string]any{"y": 1.0})
	assert.False(t, a.Equal(b))
	err = Check(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))
}

func TestDefString(t *testing.T) {
	_, def := Flatten(map[string]any{"a": 1.0, "b": []any{2.0, 3.0}})
	assert.Equal(t, "{a:*, b:[*, *]}", def.String())
}
