package view

import "github.com/lamng3/gojax/internal/shapes"

// Reshape changes the logical shape without moving data. When the current
// strides admit the new shape (runs of axes merge or split cleanly) the
// logical view is rewritten in place; otherwise a fresh contiguous view is
// stacked on top and indexing goes through a flatten/unflatten pair.
func (t *ShapeTracker) Reshape(newShape []int) *ShapeTracker {
	old := t.last()
	if eqInts(old.Shape, newShape) {
		return t
	}
	t.check(shapes.Shape(newShape).Size() == old.size(),
		"reshape %v -> %v changes element count", old.Shape, newShape)
	if v, ok := reshapeView(*old, newShape); ok {
		return t.withLast(v)
	}
	return t.push(contiguousView(newShape))
}

func reshapeView(v View, newShape []int) (View, bool) {
	if v.IsContiguous() {
		return contiguousView(newShape), true
	}
	if v.size() == 0 {
		return View{Shape: cloneInts(newShape), Strides: make([]int, len(newShape)), Offset: v.Offset}, true
	}
	if v.Mask != nil {
		return reshapeMasked(v, newShape)
	}

	// Strip unit axes; they carry no stride information.
	var dims, strides []int
	for i, d := range v.Shape {
		if d != 1 {
			dims = append(dims, d)
			strides = append(strides, v.Strides[i])
		}
	}

	out := View{Shape: cloneInts(newShape), Strides: make([]int, len(newShape)), Offset: v.Offset}
	oi, oj := 0, 1
	ni, nj := 0, 1
	for ni < len(newShape) && oi < len(dims) {
		if newShape[ni] == 1 {
			ni, nj = ni+1, ni+2
			continue
		}
		np, op := newShape[ni], dims[oi]
		for np != op {
			if np < op {
				np *= newShape[nj]
				nj++
			} else {
				op *= dims[oj]
				oj++
			}
		}
		// The old run must be internally contiguous to merge or split.
		for k := oi; k < oj-1; k++ {
			if strides[k] != dims[k+1]*strides[k+1] {
				return View{}, false
			}
		}
		out.Strides[nj-1] = strides[oj-1]
		for k := nj - 1; k > ni; k-- {
			out.Strides[k-1] = out.Strides[k] * newShape[k]
		}
		oi, oj = oj, oj+1
		ni, nj = nj, nj+1
	}
	return out, true
}

// reshapeMasked handles the mask-preserving case: only inserting or
// removing unit axes. Anything that would split a masked axis falls back to
// a stacked view.
func reshapeMasked(v View, newShape []int) (View, bool) {
	for i, d := range v.Shape {
		if d == 1 && v.Mask[i] != [2]int{0, 1} {
			return View{}, false
		}
	}
	out := View{
		Shape:   cloneInts(newShape),
		Strides: make([]int, len(newShape)),
		Offset:  v.Offset,
		Mask:    fullMask(newShape),
	}
	k := 0
	for j, d := range newShape {
		if d == 1 {
			continue
		}
		for k < len(v.Shape) && v.Shape[k] == 1 {
			k++
		}
		if k >= len(v.Shape) || v.Shape[k] != d {
			return View{}, false
		}
		out.Strides[j] = v.Strides[k]
		out.Mask[j] = v.Mask[k]
		k++
	}
	for k < len(v.Shape) {
		if v.Shape[k] != 1 {
			return View{}, false
		}
		k++
	}
	if maskIsFull(out.Shape, out.Mask) {
		out.Mask = nil
	}
	return out, true
}
