package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopoSort(t *testing.T) {
	// Diamond: d depends on b and c, both depend on a.
	deps := map[string][]string{"d": {"b", "c"}, "b": {"a"}, "c": {"a"}, "a": nil}
	order := TopoSort([]string{"d"}, func(n string) []string { return deps[n] })

	pos := make(map[string]int)
	for i, n := range order {
		pos[n] = i
	}
	assert.Len(t, order, 4)
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["a"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
	assert.Less(t, pos["c"], pos["d"])
}

func TestTopoSortMultipleRoots(t *testing.T) {
	deps := map[int][]int{1: {0}, 2: {0}}
	order := TopoSort([]int{1, 2}, func(n int) []int { return deps[n] })
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestInversePerm(t *testing.T) {
	assert.Equal(t, []int{2, 0, 1}, InversePerm([]int{1, 2, 0}))
	assert.Equal(t, []int{0, 1}, InversePerm([]int{0, 1}))
}

func TestApplyPerm(t *testing.T) {
	assert.Equal(t, []string{"c", "a", "b"}, ApplyPerm([]string{"a", "b", "c"}, []int{2, 0, 1}))
}

func TestIsPerm(t *testing.T) {
	assert.True(t, IsPerm([]int{1, 0, 2}, 3))
	assert.False(t, IsPerm([]int{1, 1, 2}, 3))
	assert.False(t, IsPerm([]int{0, 1}, 3))
}

func TestFpHashStable(t *testing.T) {
	h1 := NewFpHash()
	h1.WriteString("add")
	h1.WriteInt(42)

	h2 := NewFpHash()
	h2.WriteString("add")
	h2.WriteInt(42)

	assert.Equal(t, h1.Sum64(), h2.Sum64())
}

func TestFpHashIntSequences(t *testing.T) {
	// Dimension lists hash by value and position, the way fingerprints
	// fold shapes: lengths and elements are ordinary ints.
	shape := []int{4, 3}
	h1 := NewFpHash()
	h1.WriteInt(len(shape))
	for _, d := range shape {
		h1.WriteInt(d)
	}

	h2 := NewFpHash()
	h2.WriteInt(len(shape))
	h2.WriteInt(3)
	h2.WriteInt(4)

	assert.NotEqual(t, h1.Sum64(), h2.Sum64())
	assert.NotEqual(t, NewFpHash().Sum64(), h1.Sum64())

	neg := NewFpHash()
	neg.WriteInt(-1)
	pos := NewFpHash()
	pos.WriteInt(1)
	assert.NotEqual(t, neg.Sum64(), pos.Sum64())
}

func TestFpHashBoundaries(t *testing.T) {
	h1 := NewFpHash()
	h1.WriteString("ab")
	h1.WriteString("c")

	h2 := NewFpHash()
	h2.WriteString("a")
	h2.WriteString("bc")

	assert.NotEqual(t, h1.Sum64(), h2.Sum64())
}
