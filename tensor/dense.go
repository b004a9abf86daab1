package tensor

import (
	"fmt"
	"math"
)

// Dense is a dense row-major tensor of float64 values.
//
// The zero-dimensional shape is a scalar holding one element. Dense values
// follow value semantics: every operation allocates a new result, and only
// Set writes through to the underlying buffer.
type Dense struct {
	shape Shape
	data  []float64
}

// NewDense creates a tensor from a data slice, which is copied.
func NewDense(shape Shape, data []float64) (*Dense, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return &Dense{shape: shape.Clone(), data: buf}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *Dense {
	if err := shape.Validate(); err != nil {
		panic(err)
	}
	return &Dense{shape: shape.Clone(), data: make([]float64, shape.NumElements())}
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Dense {
	return Full(shape, 1)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float64) *Dense {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Scalar creates a 0-D tensor holding value.
func Scalar(value float64) *Dense {
	return &Dense{shape: Shape{}, data: []float64{value}}
}

// Eye creates a 2D identity matrix.
func Eye(n int) *Dense {
	t := Zeros(Shape{n, n})
	for i := 0; i < n; i++ {
		t.data[i*n+i] = 1
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Dense) Shape() Shape {
	return t.shape
}

// Rank returns the number of axes.
func (t *Dense) Rank() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Dense) NumElements() int {
	return len(t.data)
}

// Data returns the underlying buffer (no copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Dense) Data() []float64 {
	return t.data
}

// At returns the element at the given indices.
func (t *Dense) At(idx ...int) float64 {
	return t.data[t.shape.Index(idx...)]
}

// Set sets the element at the given indices.
func (t *Dense) Set(value float64, idx ...int) {
	t.data[t.shape.Index(idx...)] = value
}

// Item returns the value of a scalar (single-element) tensor.
// Panics otherwise.
func (t *Dense) Item() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("Item() only works for scalar tensors, got shape %v", t.shape))
	}
	return t.data[0]
}

// Clone creates a deep copy of the tensor.
func (t *Dense) Clone() *Dense {
	buf := make([]float64, len(t.data))
	copy(buf, t.data)
	return &Dense{shape: t.shape.Clone(), data: buf}
}

// Reshape returns a copy with a new shape holding the same elements.
// Panics if the element counts differ.
func (t *Dense) Reshape(shape Shape) *Dense {
	if shape.NumElements() != len(t.data) {
		panic(fmt.Sprintf("reshape: cannot view %v as %v", t.shape, shape))
	}
	out := t.Clone()
	out.shape = shape.Clone()
	return out
}

// Transpose permutes the axes of the tensor. perm must be a permutation of
// 0..rank-1; entry i of perm names the source axis that becomes axis i.
func (t *Dense) Transpose(perm []int) *Dense {
	if len(perm) != len(t.shape) {
		panic(fmt.Sprintf("transpose: permutation length %d != rank %d", len(perm), len(t.shape)))
	}
	seen := make([]bool, len(perm))
	outShape := make(Shape, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", perm))
		}
		seen[p] = true
		outShape[i] = t.shape[p]
	}

	out := Zeros(outShape)
	srcStrides := t.shape.ComputeStrides()
	idx := make([]int, len(outShape))
	for flat := 0; ; flat++ {
		src := 0
		for i, p := range perm {
			src += idx[i] * srcStrides[p]
		}
		out.data[flat] = t.data[src]
		if !nextIndex(idx, outShape) {
			break
		}
	}
	return out
}

// String returns a human-readable representation of the tensor.
func (t *Dense) String() string {
	return fmt.Sprintf("Dense%v (%d elements)", t.shape, len(t.data))
}

// AllClose reports whether a and b have the same shape and element-wise
// agree within the absolute+relative tolerance tol.
func AllClose(a, b *Dense, tol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		diff := math.Abs(a.data[i] - b.data[i])
		if diff > tol+tol*math.Abs(b.data[i]) {
			return false
		}
	}
	return true
}
