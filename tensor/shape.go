package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// Repeat returns the shape (n,)*count, e.g. Repeat(5, 2) == Shape{5, 5}.
func Repeat(n, count int) Shape {
	s := make(Shape, count)
	for i := range s {
		s[i] = n
	}
	return s
}

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Concat returns the concatenation of s and other as a new shape.
func (s Shape) Concat(other Shape) Shape {
	out := make(Shape, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return out
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Index converts a multi-index to a flat row-major offset.
// Panics if the number of indices does not match the rank.
func (s Shape) Index(idx ...int) int {
	if len(idx) != len(s) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(s), len(idx)))
	}
	offset := 0
	for i, v := range idx {
		if v < 0 || v >= s[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", v, i, s[i]))
		}
		offset = offset*s[i] + v
	}
	return offset
}

// nextIndex advances idx to the next multi-index in row-major order.
// Returns false once every index has been visited.
func nextIndex(idx []int, s Shape) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < s[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}

// Indices returns every multi-index of the shape in row-major order.
// The scalar shape yields a single empty index.
func (s Shape) Indices() [][]int {
	out := make([][]int, 0, s.NumElements())
	idx := make([]int, len(s))
	for {
		out = append(out, append([]int(nil), idx...))
		if !nextIndex(idx, s) {
			break
		}
	}
	return out
}
