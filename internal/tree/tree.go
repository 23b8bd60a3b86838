// Package tree flattens nested containers of arrays into leaf lists and
// back. Containers are []any and map[string]any; anything else is a leaf.
// Transformations flatten their inputs, operate on leaves, and unflatten
// with the recorded structure; a structure mismatch between what a
// transformation expects and what it is given is a user error.
package tree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrMismatch marks tree structure mismatches. Callers test with errors.Is.
var ErrMismatch = errors.New("tree structure mismatch")

type kind int

const (
	kindLeaf kind = iota
	kindList
	kindMap
)

// Def records the container structure stripped of its leaves. Map children
// are ordered by sorted key, so equal structures flatten identically.
type Def struct {
	kind     kind
	keys     []string
	children []*Def
}

var leafDef = &Def{kind: kindLeaf}

// Flatten returns the leaves of x in deterministic order with the
// structure needed to rebuild it.
func Flatten(x any) ([]any, *Def) {
	var leaves []any
	def := flatten(x, &leaves)
	return leaves, def
}

func flatten(x any, leaves *[]any) *Def {
	switch v := x.(type) {
	case []any:
		children := make([]*Def, len(v))
		for i, c := range v {
			children[i] = flatten(c, leaves)
		}
		return &Def{kind: kindList, children: children}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		children := make([]*Def, len(keys))
		for i, k := range keys {
			children[i] = flatten(v[k], leaves)
		}
		return &Def{kind: kindMap, keys: keys, children: children}
	default:
		*leaves = append(*leaves, x)
		return leafDef
	}
}

// NumLeaves returns how many leaves the structure holds.
func (d *Def) NumLeaves() int {
	if d.kind == kindLeaf {
		return 1
	}
	n := 0
	for _, c := range d.children {
		n += c.NumLeaves()
	}
	return n
}

// Unflatten rebuilds a value with structure d from leaves.
func (d *Def) Unflatten(leaves []any) (any, error) {
	if got, want := len(leaves), d.NumLeaves(); got != want {
		return nil, errors.WithMessagef(ErrMismatch, "structure %s wants %d leaves, got %d", d, want, got)
	}
	v, _ := d.unflatten(leaves)
	return v, nil
}

func (d *Def) unflatten(leaves []any) (any, []any) {
	switch d.kind {
	case kindLeaf:
		return leaves[0], leaves[1:]
	case kindList:
		out := make([]any, len(d.children))
		for i, c := range d.children {
			out[i], leaves = c.unflatten(leaves)
		}
		return out, leaves
	default:
		out := make(map[string]any, len(d.children))
		for i, c := range d.children {
			out[d.keys[i]], leaves = c.unflatten(leaves)
		}
		return out, leaves
	}
}

// Equal reports structural equality.
func (d *Def) Equal(o *Def) bool {
	if d.kind != o.kind || len(d.children) != len(o.children) {
		return false
	}
	for i, k := range d.keys {
		if k != o.keys[i] {
			return false
		}
	}
	for i, c := range d.children {
		if !c.Equal(o.children[i]) {
			return false
		}
	}
	return true
}

// String renders the structure compactly, e.g. "{a:*, b:[*, *]}".
func (d *Def) String() string {
	switch d.kind {
	case kindLeaf:
		return "*"
	case kindList:
		parts := make([]string, len(d.children))
		for i, c := range d.children {
			parts[i] = c.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		parts := make([]string, len(d.children))
		for i, c := range d.children {
			parts[i] = fmt.Sprintf("%s:%s", d.keys[i], c)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
}

// Check verifies that got matches the expected structure.
func Check(want, got *Def) error {
	if !want.Equal(got) {
		return errors.WithMessagef(ErrMismatch, "expected %s, got %s", want, got)
	}
	return nil
}
