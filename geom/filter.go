package geom

import (
	"fmt"
	"math"

	"github.com/equivariant-ml/geomconv/tensor"
)

// GeometricFilter is a geometric image with an odd side length, used as a
// convolution kernel. Its keys are centered on the middle pixel, running
// from -m to m where m is the half-width.
type GeometricFilter struct {
	GeometricImage
	m int
}

// NewGeometricFilter constructs a filter from raw data of shape
// (N,)*D + (D,)*k. N must be odd so the filter has a center pixel.
func NewGeometricFilter(data *tensor.Dense, parity, d int, isTorus bool) (*GeometricFilter, error) {
	img, err := NewGeometricImage(data, parity, d, isTorus)
	if err != nil {
		return nil, err
	}
	return FilterFromImage(img)
}

// FilterFromImage wraps an existing geometric image as a filter. The side
// length must be odd.
func FilterFromImage(img *GeometricImage) (*GeometricFilter, error) {
	if img.n%2 != 1 {
		return nil, fmt.Errorf("filter side length must be odd, got %d", img.n)
	}
	return &GeometricFilter{
		GeometricImage: *img.Copy(),
		m:              (img.n - 1) / 2,
	}, nil
}

// M returns the half-width of the filter.
func (f *GeometricFilter) M() int { return f.m }

// Image returns the underlying geometric image.
func (f *GeometricFilter) Image() *GeometricImage {
	return f.GeometricImage.Copy()
}

// Copy returns a deep copy of the filter.
func (f *GeometricFilter) Copy() *GeometricFilter {
	return &GeometricFilter{GeometricImage: *f.GeometricImage.Copy(), m: f.m}
}

func (f *GeometricFilter) String() string {
	return fmt.Sprintf("<geometric filter in D=%d with M=%d (m=%d), k=%d, parity=%d>",
		f.d, f.n, f.m, f.k, f.parity)
}

// Keys returns the grid coordinates of the filter centered on the middle
// pixel, so each coordinate runs from -m to m.
func (f *GeometricFilter) Keys() [][]int {
	keys := f.GeometricImage.Keys()
	for _, key := range keys {
		for i := range key {
			key[i] -= f.m
		}
	}
	return keys
}

// Bigness measures how spread out the filter is: the pixel-norm-weighted
// mean distance of the grid keys from the origin. Sparse, centered filters
// score small. Used to order filters deterministically.
func (f *GeometricFilter) Bigness() float64 {
	norms := Norm(f.d, f.data).Data()
	var numerator, denominator float64
	for i, key := range f.GeometricImage.Keys() {
		var sq float64
		for _, c := range key {
			sq += float64(c * c)
		}
		numerator += math.Sqrt(sq) * norms[i]
		denominator += norms[i]
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// Rectify canonicalizes the overall sign of the filter: k=0 filters are
// flipped to have a non-negative sum, and k=1 filters with even parity are
// flipped so pixel vectors align with their grid coordinate on average.
// Other filters are returned unchanged.
func (f *GeometricFilter) Rectify() *GeometricFilter {
	switch {
	case f.k == 0:
		if f.data.Sum() < 0 {
			out := f.Copy()
			out.GeometricImage = *f.GeometricImage.Scale(-1)
			return out
		}
	case f.k == 1 && f.parity == 0:
		var dot float64
		data := f.data.Data()
		for i, key := range f.GeometricImage.Keys() {
			for j := range key {
				dot += float64(key[j]) * data[i*f.d+j]
			}
		}
		if dot < 0 {
			out := f.Copy()
			out.GeometricImage = *f.GeometricImage.Scale(-1)
			return out
		}
	case f.k == 1 && f.parity == 1 && f.d == 2:
		// 2D cross product of each grid key with its pixel vector
		var cross float64
		data := f.data.Data()
		for i, key := range f.GeometricImage.Keys() {
			cross += float64(key[0])*data[i*2+1] - float64(key[1])*data[i*2]
		}
		if cross < 0 {
			out := f.Copy()
			out.GeometricImage = *f.GeometricImage.Scale(-1)
			return out
		}
	}
	return f.Copy()
}

// Tile builds the constant per-pixel filter field for an N^D grid in which
// every output pixel uses this same filter, for use with NotConvolve.
func (f *GeometricFilter) Tile(n int) *tensor.Dense {
	return tensor.Outer(tensor.Ones(tensor.Repeat(n, f.d)), f.data)
}

func roundTo(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	r := math.Round(x*scale) / scale
	// rounding a small negative yields -0; reassigning through the
	// comparison drops the sign bit
	if r == 0 {
		r = 0
	}
	return r
}
