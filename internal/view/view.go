// Package view implements the shape/stride view algebra (ShapeTracker): a
// composable, zero-copy description of how a logical multi-index maps onto
// a contiguous buffer, with an optional validity mask for padding. Movement
// ops (reshape, permute, broadcast, pad, shrink, flip, repeat) return new
// trackers and never copy data; the JIT compiler lowers a tracker to index
// arithmetic in the scalar IR.
package view

import (
	"fmt"

	"github.com/lamng3/gojax/internal/shapes"
	"github.com/lamng3/gojax/internal/utils"
)

// View is one affine layer of a tracker: a shape with strides, a base
// offset, and an optional per-axis validity mask [lo, hi).
type View struct {
	Shape   []int
	Strides []int
	Offset  int
	Mask    [][2]int
}

func contiguousView(shape []int) View {
	return View{Shape: cloneInts(shape), Strides: shapes.Shape(shape).Strides()}
}

// IsContiguous reports whether the view is the identity layout.
func (v View) IsContiguous() bool {
	if v.Offset != 0 || v.Mask != nil {
		return false
	}
	want := shapes.Shape(v.Shape).Strides()
	for i, s := range v.Strides {
		if v.Shape[i] > 1 && s != want[i] {
			return false
		}
	}
	return true
}

func (v View) size() int { return shapes.Shape(v.Shape).Size() }

func (v View) clone() View {
	return View{
		Shape:   cloneInts(v.Shape),
		Strides: cloneInts(v.Strides),
		Offset:  v.Offset,
		Mask:    cloneMask(v.Mask),
	}
}

// ShapeTracker is a nonempty stack of views. The last view is the logical
// (outermost) one; indexing composes right to left, each view producing a
// flat index into the logical space of the view below, and the first view
// producing the physical buffer offset.
type ShapeTracker struct {
	views []View
}

// Contiguous returns the identity tracker over shape.
func Contiguous(shape []int) *ShapeTracker {
	return &ShapeTracker{views: []View{contiguousView(shape)}}
}

// Shape returns the logical shape.
func (t *ShapeTracker) Shape() []int {
	return cloneInts(t.last().Shape)
}

// NDim returns the number of logical axes.
func (t *ShapeTracker) NDim() int { return len(t.last().Shape) }

// Size returns the logical element count.
func (t *ShapeTracker) Size() int { return t.last().size() }

// IsContiguous reports whether the tracker is a single identity view.
func (t *ShapeTracker) IsContiguous() bool {
	return len(t.views) == 1 && t.views[0].IsContiguous()
}

// Equal is structural equality. Two trackers that lower identically are
// behaviorally equal; structural equality is a sufficient approximation.
func (t *ShapeTracker) Equal(o *ShapeTracker) bool {
	if len(t.views) != len(o.views) {
		return false
	}
	for i := range t.views {
		a, b := t.views[i], o.views[i]
		if !eqInts(a.Shape, b.Shape) || !eqInts(a.Strides, b.Strides) || a.Offset != b.Offset || !eqMask(a.Mask, b.Mask) {
			return false
		}
	}
	return true
}

func (t *ShapeTracker) last() *View { return &t.views[len(t.views)-1] }

// withLast returns a new tracker replacing the logical view.
func (t *ShapeTracker) withLast(v View) *ShapeTracker {
	views := make([]View, len(t.views))
	copy(views, t.views)
	views[len(views)-1] = v
	return &ShapeTracker{views: views}
}

// push returns a new tracker stacking v on top of t.
func (t *ShapeTracker) push(v View) *ShapeTracker {
	views := make([]View, len(t.views), len(t.views)+1)
	copy(views, t.views)
	return &ShapeTracker{views: append(views, v)}
}

// Compose sequences two trackers: the receiver indexes into inner's
// logical space. The receiver's logical shape flat-indexes prod(inner
// shape) elements.
func (t *ShapeTracker) Compose(inner *ShapeTracker) *ShapeTracker {
	views := make([]View, 0, len(inner.views)+len(t.views))
	views = append(views, inner.views...)
	views = append(views, t.views...)
	return &ShapeTracker{views: views}
}

func cloneInts(xs []int) []int {
	out := make([]int, len(xs))
	copy(out, xs)
	return out
}

func cloneMask(m [][2]int) [][2]int {
	if m == nil {
		return nil
	}
	out := make([][2]int, len(m))
	copy(out, m)
	return out
}

func eqInts(a, b []int) bool {
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

func eqMask(a, b [][2]int) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *ShapeTracker) check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("view: "+format, args...))
	}
}

// Permute reorders the logical axes.
func (t *ShapeTracker) Permute(axes []int) *ShapeTracker {
	v := t.last().clone()
	t.check(utils.IsPerm(axes, len(v.Shape)), "bad permutation %v for shape %v", axes, v.Shape)
	v.Shape = utils.ApplyPerm(v.Shape, axes)
	v.Strides = utils.ApplyPerm(v.Strides, axes)
	if v.Mask != nil {
		v.Mask = utils.ApplyPerm(v.Mask, axes)
	}
	return t.withLast(v)
}

// MoveAxis moves axis src to position dst.
func (t *ShapeTracker) MoveAxis(src, dst int) *ShapeTracker {
	n := t.NDim()
	perm := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
	return t.Permute(perm)
}

// Broadcast expands the logical shape to newShape. addedAxes lists the
// positions (in newShape) of freshly inserted axes; surviving unit axes
// whose target dimension is larger get stride 0.
func (t *ShapeTracker) Broadcast(newShape []int, addedAxes []int) *ShapeTracker {
	old := t.last()
	t.check(len(old.Shape)+len(addedAxes) == len(newShape),
		"broadcast %v + %d new axes != %v", old.Shape, len(addedAxes), newShape)

	added := make(map[int]bool, len(addedAxes))
	for _, a := range addedAxes {
		added[a] = true
	}

	v := View{
		Shape:   cloneInts(newShape),
		Strides: make([]int, len(newShape)),
		Offset:  old.Offset,
	}
	var mask [][2]int
	k := 0 // old axis cursor
	for j, dim := range newShape {
		var m [2]int
		hasMask := false
		if added[j] {
			// fresh axis, stride 0, always valid
		} else {
			oldDim := old.Shape[k]
			switch {
			case oldDim == dim:
				v.Strides[j] = old.Strides[k]
				if old.Mask != nil {
					m, hasMask = old.Mask[k], true
				}
			case oldDim == 1:
				// stride 0; a fully valid unit axis broadcasts to a fully
				// valid one, an invalid one stays empty.
				if old.Mask != nil && old.Mask[k][1] <= old.Mask[k][0] {
					m, hasMask = [2]int{0, 0}, true
				}
			default:
				t.check(false, "cannot broadcast axis %d: %d -> %d", k, oldDim, dim)
			}
			k++
		}
		if hasMask {
			if mask == nil {
				mask = fullMask(newShape)
			}
			mask[j] = m
		}
	}
	v.Mask = mask
	return t.withLast(v)
}

func fullMask(shape []int) [][2]int {
	m := make([][2]int, len(shape))
	for i, d := range shape {
		m[i] = [2]int{0, d}
	}
	return m
}

// maskIsFull reports whether the mask admits every in-range index.
func maskIsFull(shape []int, mask [][2]int) bool {
	if mask == nil {
		return true
	}
	for i, m := range mask {
		if m[0] != 0 || m[1] != shape[i] {
			return false
		}
	}
	return true
}

// Pad widens each axis by widths[i] = [before, after], the new elements
// reading as invalid (zero at kernel level).
func (t *ShapeTracker) Pad(widths [][2]int) *ShapeTracker {
	old := t.last()
	t.check(len(widths) == len(old.Shape), "pad widths %v vs shape %v", widths, old.Shape)

	noop := true
	for _, w := range widths {
		t.check(w[0] >= 0 && w[1] >= 0, "negative pad width %v", w)
		if w != [2]int{} {
			noop = false
		}
	}
	if noop {
		return t
	}

	v := old.clone()
	mask := v.Mask
	if mask == nil {
		mask = fullMask(v.Shape)
	}
	for i, w := range widths {
		v.Shape[i] += w[0] + w[1]
		v.Offset -= w[0] * v.Strides[i]
		mask[i] = [2]int{mask[i][0] + w[0], mask[i][1] + w[0]}
	}
	v.Mask = mask
	return t.withLast(v)
}

// Shrink restricts each axis to the half-open range ranges[i] = [lo, hi).
func (t *ShapeTracker) Shrink(ranges [][2]int) *ShapeTracker {
	old := t.last()
	t.check(len(ranges) == len(old.Shape), "shrink ranges %v vs shape %v", ranges, old.Shape)

	v := old.clone()
	for i, r := range ranges {
		t.check(0 <= r[0] && r[0] <= r[1] && r[1] <= old.Shape[i],
			"shrink range %v out of bounds for axis %d (size %d)", r, i, old.Shape[i])
		v.Offset += r[0] * v.Strides[i]
		v.Shape[i] = r[1] - r[0]
		if v.Mask != nil {
			lo := max(v.Mask[i][0]-r[0], 0)
			hi := min(v.Mask[i][1]-r[0], r[1]-r[0])
			v.Mask[i] = [2]int{lo, max(hi, lo)}
		}
	}
	if v.Mask != nil && maskIsFull(v.Shape, v.Mask) {
		v.Mask = nil
	}
	return t.withLast(v)
}

// PadOrShrink applies signed widths per axis end: negative values shrink,
// positive values pad.
func (t *ShapeTracker) PadOrShrink(ranges [][2]int) *ShapeTracker {
	old := t.last().Shape
	pads := make([][2]int, len(ranges))
	shrinks := make([][2]int, len(ranges))
	for i, r := range ranges {
		pads[i] = [2]int{max(r[0], 0), max(r[1], 0)}
		shrinks[i] = [2]int{-min(r[0], 0), old[i] + min(r[1], 0)}
	}
	return t.Shrink(shrinks).Pad(pads)
}

// Flip reverses the axes where axes[i] is true.
func (t *ShapeTracker) Flip(axes []bool) *ShapeTracker {
	old := t.last()
	t.check(len(axes) == len(old.Shape), "flip axes %v vs shape %v", axes, old.Shape)

	v := old.clone()
	for i, flip := range axes {
		if !flip {
			continue
		}
		v.Offset += (v.Shape[i] - 1) * v.Strides[i]
		v.Strides[i] = -v.Strides[i]
		if v.Mask != nil {
			v.Mask[i] = [2]int{v.Shape[i] - v.Mask[i][1], v.Shape[i] - v.Mask[i][0]}
		}
	}
	return t.withLast(v)
}

// Repeat tiles each axis counts[i] times. Lowering introduces a modulo on
// the tiled axes, through the stacked view the final reshape pushes.
func (t *ShapeTracker) Repeat(counts []int) *ShapeTracker {
	old := t.last().Shape
	t.check(len(counts) == len(old), "repeat counts %v vs shape %v", counts, old)

	interleaved := make([]int, 0, 2*len(old))
	target := make([]int, 0, 2*len(old))
	final := make([]int, len(old))
	for i, d := range old {
		interleaved = append(interleaved, 1, d)
		target = append(target, counts[i], d)
		final[i] = counts[i] * d
	}
	return t.Reshape(interleaved).Broadcast(target, nil).Reshape(final)
}
