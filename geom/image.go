package geom

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/group"
	"github.com/equivariant-ml/geomconv/tensor"
)

// GeometricImage is a D-dimensional N^D grid of rank-k tensor pixels with a
// parity and a torus flag. It is a value type: every operation returns a
// new image, and only SetPixel mutates in place.
type GeometricImage struct {
	d       int
	n       int
	k       int
	parity  int
	isTorus bool
	data    *tensor.Dense
}

// NewGeometricImage constructs a geometric image from raw data of shape
// (N,)*D + (D,)*k. The side length and tensor order are derived from the
// shape; a non-square grid or wrong-sized tensor axes is an error.
func NewGeometricImage(data *tensor.Dense, parity, d int, isTorus bool) (*GeometricImage, error) {
	shape := data.Shape()
	if len(shape) < d {
		return nil, fmt.Errorf("geometric image data %v has fewer than %d axes", shape, d)
	}
	n := shape[0]
	k := len(shape) - d
	for i := 0; i < d; i++ {
		if shape[i] != n {
			return nil, fmt.Errorf("geometric image data must be square, got %v", shape)
		}
	}
	for i := d; i < len(shape); i++ {
		if shape[i] != d {
			return nil, fmt.Errorf("each pixel must be a %d^%d tensor, got %v", d, k, shape)
		}
	}
	return &GeometricImage{
		d:       d,
		n:       n,
		k:       k,
		parity:  parity % 2,
		isTorus: isTorus,
		data:    data.Clone(),
	}, nil
}

// ZeroImage constructs an all-zeros geometric image.
func ZeroImage(n, k, parity, d int, isTorus bool) *GeometricImage {
	shape := tensor.Repeat(n, d).Concat(tensor.Repeat(d, k))
	img, err := NewGeometricImage(tensor.Zeros(shape), parity, d, isTorus)
	if err != nil {
		panic(err)
	}
	return img
}

// FillImage constructs a geometric image with every pixel set to the given
// tensor (a scalar Dense gives a k=0 image).
func FillImage(n, parity, d int, fill *tensor.Dense, isTorus bool) *GeometricImage {
	k := fill.Rank()
	out := ZeroImage(n, k, parity, d, isTorus)
	pixelSize := fill.NumElements()
	dst := out.data.Data()
	src := fill.Data()
	for i := 0; i < out.data.NumElements()/pixelSize; i++ {
		copy(dst[i*pixelSize:(i+1)*pixelSize], src)
	}
	return out
}

// D returns the image dimension.
func (im *GeometricImage) D() int { return im.d }

// N returns the side length of the grid.
func (im *GeometricImage) N() int { return im.n }

// K returns the tensor order of the pixels.
func (im *GeometricImage) K() int { return im.k }

// Parity returns 0 for true tensors, 1 for pseudo-tensors.
func (im *GeometricImage) Parity() int { return im.parity }

// IsTorus reports whether the grid wraps around.
func (im *GeometricImage) IsTorus() bool { return im.isTorus }

// Data returns the underlying tensor (not a copy).
func (im *GeometricImage) Data() *tensor.Dense { return im.data }

// Copy returns a deep copy of the image.
func (im *GeometricImage) Copy() *GeometricImage {
	out := *im
	out.data = im.data.Clone()
	return &out
}

func (im *GeometricImage) String() string {
	return fmt.Sprintf("<geometric image in D=%d with N=%d, k=%d, parity=%d, torus=%v>",
		im.d, im.n, im.k, im.parity, im.isTorus)
}

// Keys returns every grid coordinate in row-major order.
func (im *GeometricImage) Keys() [][]int {
	return tensor.Repeat(im.n, im.d).Indices()
}

// Pixel returns a copy of the tensor at the given grid key.
func (im *GeometricImage) Pixel(key ...int) *tensor.Dense {
	if len(key) != im.d {
		panic(fmt.Sprintf("geom: pixel key needs %d coordinates, got %d", im.d, len(key)))
	}
	pixelSize := im.pixelSize()
	flat := flatSpatialIndex(key, im.n)
	out, err := tensor.NewDense(tensor.Repeat(im.d, im.k), im.data.Data()[flat*pixelSize:(flat+1)*pixelSize])
	if err != nil {
		panic(err)
	}
	return out
}

// SetPixel overwrites the tensor at the given grid key in place. This is
// the one mutating accessor on the type.
func (im *GeometricImage) SetPixel(value *tensor.Dense, key ...int) {
	if len(key) != im.d {
		panic(fmt.Sprintf("geom: pixel key needs %d coordinates, got %d", im.d, len(key)))
	}
	if value.NumElements() != im.pixelSize() {
		panic(fmt.Sprintf("geom: pixel value has %d elements, want %d", value.NumElements(), im.pixelSize()))
	}
	flat := flatSpatialIndex(key, im.n)
	copy(im.data.Data()[flat*im.pixelSize():], value.Data())
}

func (im *GeometricImage) pixelSize() int {
	size := 1
	for i := 0; i < im.k; i++ {
		size *= im.d
	}
	return size
}

func (im *GeometricImage) with(data *tensor.Dense, parity int) *GeometricImage {
	img, err := NewGeometricImage(data, parity, im.d, im.isTorus)
	if err != nil {
		panic(err)
	}
	return img
}

func (im *GeometricImage) assertCompatible(other *GeometricImage) {
	if im.d != other.d || im.n != other.n || im.k != other.k ||
		im.parity != other.parity || im.isTorus != other.isTorus ||
		!im.data.Shape().Equal(other.data.Shape()) {
		panic(fmt.Sprintf("geom: incompatible images %v and %v", im, other))
	}
}

// Add returns the pixel-wise sum; both images must agree in every attribute.
func (im *GeometricImage) Add(other *GeometricImage) *GeometricImage {
	im.assertCompatible(other)
	return im.with(im.data.Add(other.data), im.parity)
}

// Sub returns the pixel-wise difference; both images must agree in every
// attribute.
func (im *GeometricImage) Sub(other *GeometricImage) *GeometricImage {
	im.assertCompatible(other)
	return im.with(im.data.Sub(other.data), im.parity)
}

// Scale multiplies every component by a scalar.
func (im *GeometricImage) Scale(s float64) *GeometricImage {
	return im.with(im.data.Scale(s), im.parity)
}

// MulImage takes the pixel-wise tensor product with another image on the
// same grid. The tensor orders and parities add.
func (im *GeometricImage) MulImage(other *GeometricImage) *GeometricImage {
	if im.d != other.d || im.n != other.n || im.isTorus != other.isTorus {
		panic(fmt.Sprintf("geom: cannot multiply %v by %v", im, other))
	}
	return im.with(Mul(im.d, im.data, other.data), im.parity+other.parity)
}

// Transpose permutes the tensor axes of every pixel, keeping the grid axes
// in place.
func (im *GeometricImage) Transpose(perm []int) *GeometricImage {
	if len(perm) != im.k {
		panic(fmt.Sprintf("geom: transpose permutation %v does not match tensor order %d", perm, im.k))
	}
	full := make([]int, 0, im.d+im.k)
	for i := 0; i < im.d; i++ {
		full = append(full, i)
	}
	for _, p := range perm {
		full = append(full, p+im.d)
	}
	return im.with(im.data.Transpose(full), im.parity)
}

// Equal reports equality of every attribute and element-wise closeness of
// the data within DefaultTol.
func (im *GeometricImage) Equal(other *GeometricImage) bool {
	return im.d == other.d && im.n == other.n && im.k == other.k &&
		im.parity == other.parity && im.isTorus == other.isTorus &&
		tensor.AllClose(im.data, other.data, DefaultTol)
}

// ConvolveWith convolves the image with a filter, combining pixel tensors
// by tensor product. The filter may be any geometric image; for the torus
// path its side must be odd. Parities add.
func (im *GeometricImage) ConvolveWith(filter *GeometricImage, opts *ConvOptions) *GeometricImage {
	convolved := Convolve(im.d, im.data, filter.data, im.isTorus, opts)
	return im.with(convolved, im.parity+filter.parity)
}

// Norm returns the scalar image of per-pixel Frobenius norms.
func (im *GeometricImage) Norm() *GeometricImage {
	return im.with(Norm(im.d, im.data), im.parity)
}

// Normalize scales the image so the maximum per-pixel norm is 1. When the
// maximum norm is below tolerance the image is returned unscaled rather
// than dividing by near-zero.
func (im *GeometricImage) Normalize() *GeometricImage {
	maxNorm := im.Norm().data.Max()
	if maxNorm > DefaultTol {
		return im.Scale(1 / maxNorm)
	}
	return im.Scale(1)
}

// ApplyScalar applies a pointwise function to a scalar (k=0) image.
// Nonlinearities on higher-order tensors would break equivariance.
func (im *GeometricImage) ApplyScalar(fn func(float64) float64) *GeometricImage {
	if im.k != 0 {
		panic("geom: pointwise functions are only equivariant for k=0 images")
	}
	out := im.data.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = fn(v)
	}
	return im.with(out, im.parity)
}

// Contract performs a Kronecker contraction of tensor indices i and j.
func (im *GeometricImage) Contract(i, j int) *GeometricImage {
	return im.Multicontract([][2]int{{i, j}})
}

// Multicontract contracts each of the given tensor index pairs. Requires
// k >= 2.
func (im *GeometricImage) Multicontract(pairs [][2]int) *GeometricImage {
	if im.k < 2 {
		panic(fmt.Sprintf("geom: contraction requires tensor order >= 2, got %d", im.k))
	}
	return im.with(Multicontract(im.data, pairs, im.d), im.parity)
}

// LeviCivitaContract outer-products the pixel tensors with the Levi-Civita
// symbol and contracts the D-1 given original indices against the new
// Levi-Civita indices in order. The result has order k - D + 2 and flipped
// parity. Requires k >= D-1 and exactly D-1 indices.
func (im *GeometricImage) LeviCivitaContract(indices []int) *GeometricImage {
	if im.k < im.d-1 {
		panic(fmt.Sprintf("geom: Levi-Civita contraction requires tensor order >= %d, got %d", im.d-1, im.k))
	}
	if len(indices) != im.d-1 {
		panic(fmt.Sprintf("geom: Levi-Civita contraction requires %d indices, got %d", im.d-1, len(indices)))
	}

	levi := group.LeviCivita(im.d)
	outer := tensor.Outer(im.data, levi)

	pairs := make([][2]int, len(indices))
	for i, idx := range indices {
		pairs[i] = [2]int{idx, im.k + i}
	}
	contracted := Multicontract(outer, pairs, im.d)
	return im.with(contracted, im.parity+1)
}

// Anticontract expands the pixel tensors to order k + additionalK and
// multiplies element-wise by an expansion symbol so that any contraction
// back to the original order recovers the original image. Only the tested
// cases are allowed: k in {0, 1}, additionalK in {2, 4}, D = 2.
func (im *GeometricImage) Anticontract(additionalK int) *GeometricImage {
	if im.k != 0 && im.k != 1 {
		panic(fmt.Sprintf("geom: anticontract supports k of 0 or 1, got %d", im.k))
	}
	if additionalK != 2 && additionalK != 4 {
		panic(fmt.Sprintf("geom: anticontract supports adding 2 or 4 indices, got %d", additionalK))
	}
	if im.d != 2 {
		panic(fmt.Sprintf("geom: anticontract supports D=2, got %d", im.d))
	}

	expanded := tensor.Outer(im.data, tensor.Ones(tensor.Repeat(im.d, additionalK)))

	var symbol *tensor.Dense
	if im.k == 0 {
		// 1 in the [0,0,...,0] position, zeros everywhere else
		symbol = tensor.Zeros(tensor.Repeat(im.d, additionalK))
		symbol.Data()[0] = 1
	} else {
		symbol = group.KroneckerDelta(im.d, additionalK+im.k)
	}
	tiled := tensor.Outer(tensor.Ones(tensor.Repeat(im.n, im.d)), symbol)

	return im.with(expanded.MulElem(tiled), im.parity)
}

// TimesGroupElement applies a group element: the pixel grid is rotated
// about its center and each pixel tensor index is rotated by g, with the
// parity sign applied.
func (im *GeometricImage) TimesGroupElement(g mat.Matrix) *GeometricImage {
	return im.with(TimesGroupElement(im.d, im.data, im.parity, g), im.parity)
}

// RotatedKeys returns the grid coordinate each key maps to under g.
func (im *GeometricImage) RotatedKeys(g mat.Matrix) [][]int {
	return RotatedKeys(im.d, im.n, g)
}

// MaxPool partitions the grid into non-overlapping patches of side
// patchLen and keeps, per patch, the full tensor at the coordinate of
// maximal pixel norm (first such coordinate on ties). For scalar images
// this is max-by-absolute-value pooling.
func (im *GeometricImage) MaxPool(patchLen int) *GeometricImage {
	if im.n%patchLen != 0 {
		panic(fmt.Sprintf("geom: patch length %d does not divide side length %d", patchLen, im.n))
	}

	norms := Norm(im.d, im.data)
	normData := norms.Data()

	newN := im.n / patchLen
	out := ZeroImage(newN, im.k, im.parity, im.d, im.isTorus)
	pixelSize := im.pixelSize()
	src := im.data.Data()
	dst := out.data.Data()

	offsets := tensor.Repeat(patchLen, im.d).Indices()
	for i, base := range tensor.Repeat(newN, im.d).Indices() {
		bestFlat, bestNorm := -1, -1.0
		for _, off := range offsets {
			key := make([]int, im.d)
			for j := range key {
				key[j] = base[j]*patchLen + off[j]
			}
			flat := flatSpatialIndex(WrapIndex(key, im.n), im.n)
			if normData[flat] > bestNorm {
				bestNorm = normData[flat]
				bestFlat = flat
			}
		}
		copy(dst[i*pixelSize:(i+1)*pixelSize], src[bestFlat*pixelSize:(bestFlat+1)*pixelSize])
	}
	return out
}

// AveragePool pools with uniform patches of side patchLen.
func (im *GeometricImage) AveragePool(patchLen int) *GeometricImage {
	return im.with(AveragePool(im.d, im.data, patchLen), im.parity)
}

// Unpool grows every pixel into a patchLen^D patch of itself ("nearest
// neighbor" unpooling), implemented as an input-dilated convolution with a
// ones filter.
func (im *GeometricImage) Unpool(patchLen int) *GeometricImage {
	grow := FillImage(patchLen, 0, im.d, tensor.Scalar(1), im.isTorus)
	pairs := make([][2]int, im.d)
	for i := range pairs {
		pairs[i] = [2]int{patchLen - 1, patchLen - 1}
	}
	return im.ConvolveWith(grow, &ConvOptions{
		Pad:         PadExplicit,
		PadPairs:    pairs,
		LHSDilation: tensor.Repeat(patchLen, im.d),
	})
}
