package tensor

import (
	"fmt"
	"math"
	"sort"
)

// Add returns the element-wise sum of t and other.
func (t *Dense) Add(other *Dense) *Dense {
	if !t.shape.Equal(other.shape) {
		panic(fmt.Sprintf("add: shape mismatch %v vs %v", t.shape, other.shape))
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] += other.data[i]
	}
	return out
}

// Sub returns the element-wise difference of t and other.
func (t *Dense) Sub(other *Dense) *Dense {
	if !t.shape.Equal(other.shape) {
		panic(fmt.Sprintf("sub: shape mismatch %v vs %v", t.shape, other.shape))
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] -= other.data[i]
	}
	return out
}

// Scale returns the tensor scaled by a scalar.
func (t *Dense) Scale(s float64) *Dense {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// MulElem returns the element-wise (Hadamard) product of t and other.
func (t *Dense) MulElem(other *Dense) *Dense {
	if !t.shape.Equal(other.shape) {
		panic(fmt.Sprintf("mulelem: shape mismatch %v vs %v", t.shape, other.shape))
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= other.data[i]
	}
	return out
}

// Outer returns the outer (tensor) product of a and b: the result has shape
// a.Shape() + b.Shape() and out[i...,j...] = a[i...] * b[j...].
func Outer(a, b *Dense) *Dense {
	out := Zeros(a.shape.Concat(b.shape))
	bn := len(b.data)
	for i, av := range a.data {
		base := i * bn
		for j, bv := range b.data {
			out.data[base+j] = av * bv
		}
	}
	return out
}

// Concat concatenates tensors along the given axis. All tensors must agree
// on every other dimension.
func Concat(axis int, tensors ...*Dense) *Dense {
	if len(tensors) == 0 {
		panic("concat: at least one tensor required")
	}
	first := tensors[0]
	if axis < 0 || axis >= len(first.shape) {
		panic(fmt.Sprintf("concat: axis %d out of range for rank %d", axis, len(first.shape)))
	}

	total := 0
	for _, t := range tensors {
		if len(t.shape) != len(first.shape) {
			panic(fmt.Sprintf("concat: rank mismatch %v vs %v", first.shape, t.shape))
		}
		for i := range t.shape {
			if i != axis && t.shape[i] != first.shape[i] {
				panic(fmt.Sprintf("concat: shape mismatch %v vs %v on axis %d", first.shape, t.shape, i))
			}
		}
		total += t.shape[axis]
	}

	outShape := first.shape.Clone()
	outShape[axis] = total
	out := Zeros(outShape)

	// outer = product of dims before axis, inner = product of dims after.
	outer, inner := 1, 1
	for i := 0; i < axis; i++ {
		outer *= first.shape[i]
	}
	for i := axis + 1; i < len(first.shape); i++ {
		inner *= first.shape[i]
	}

	rowLen := total * inner
	offset := 0
	for _, t := range tensors {
		chunk := t.shape[axis] * inner
		for o := 0; o < outer; o++ {
			copy(out.data[o*rowLen+offset:o*rowLen+offset+chunk], t.data[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return out
}

// SumAxes sums the tensor over the given axes, removing them.
// Summing over every axis yields a scalar Dense.
func (t *Dense) SumAxes(axes ...int) *Dense {
	if len(axes) == 0 {
		return t.Clone()
	}
	drop := make(map[int]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(t.shape) {
			panic(fmt.Sprintf("sumaxes: axis %d out of range for rank %d", a, len(t.shape)))
		}
		if drop[a] {
			panic(fmt.Sprintf("sumaxes: duplicate axis %d", a))
		}
		drop[a] = true
	}

	var outShape Shape
	var keep []int
	for i, dim := range t.shape {
		if !drop[i] {
			outShape = append(outShape, dim)
			keep = append(keep, i)
		}
	}
	sort.Ints(keep)

	out := Zeros(outShape)
	outStrides := outShape.ComputeStrides()
	idx := make([]int, len(t.shape))
	for flat := 0; ; flat++ {
		dst := 0
		for j, src := range keep {
			dst += idx[src] * outStrides[j]
		}
		out.data[dst] += t.data[flat]
		if !nextIndex(idx, t.shape) {
			break
		}
	}
	return out
}

// Sum returns the sum of all elements.
func (t *Dense) Sum() float64 {
	s := 0.0
	for _, v := range t.data {
		s += v
	}
	return s
}

// Max returns the maximum element.
func (t *Dense) Max() float64 {
	m := math.Inf(-1)
	for _, v := range t.data {
		if v > m {
			m = v
		}
	}
	return m
}

// MaxAbs returns the maximum absolute element value.
func (t *Dense) MaxAbs() float64 {
	m := 0.0
	for _, v := range t.data {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// ArgMax returns the flat index of the first maximal element.
func (t *Dense) ArgMax() int {
	best := 0
	for i, v := range t.data {
		if v > t.data[best] {
			best = i
		}
	}
	return best
}
