// Package tensor provides a small dense multi-dimensional array of float64
// values, the raw storage used by the geometric image types.
//
// A Dense is a flat row-major buffer plus a Shape. Operations return new
// Dense values; nothing mutates its receiver except Set. The package also
// provides the generalized-trace contraction used throughout the pixel
// algebra: a contraction is described by an explicit list of axis pairs
// rather than a runtime-generated summation expression.
//
// Example:
//
//	t := tensor.Ones(tensor.Shape{3, 3})
//	tr := tensor.Contract(t, [][2]int{{0, 1}}, 0) // trace, a scalar Dense
package tensor
