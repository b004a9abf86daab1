package geom

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/tensor"
)

// BatchGeometricImage is a stack of L geometric images sharing D, N, k,
// parity, and the torus flag, stored contiguously with a leading batch
// axis: data shape (L,) + (N,)*D + (D,)*k.
type BatchGeometricImage struct {
	d       int
	n       int
	k       int
	parity  int
	isTorus bool
	l       int
	data    *tensor.Dense
}

// NewBatchGeometricImage constructs a batch from raw data with a leading
// batch axis.
func NewBatchGeometricImage(data *tensor.Dense, parity, d int, isTorus bool) (*BatchGeometricImage, error) {
	shape := data.Shape()
	if len(shape) < d+1 {
		return nil, fmt.Errorf("batch data %v has fewer than %d axes", shape, d+1)
	}
	// validate everything past the batch axis as a single image shape
	if _, err := NewGeometricImage(tensor.Zeros(shape[1:].Clone()), parity, d, isTorus); err != nil {
		return nil, err
	}
	return &BatchGeometricImage{
		d:       d,
		n:       shape[1],
		k:       len(shape) - d - 1,
		parity:  parity % 2,
		isTorus: isTorus,
		l:       shape[0],
		data:    data.Clone(),
	}, nil
}

// BatchFromImages stacks images that share all attributes into a batch.
func BatchFromImages(images []*GeometricImage) (*BatchGeometricImage, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("cannot batch zero images")
	}
	first := images[0]
	parts := make([]*tensor.Dense, len(images))
	for i, img := range images {
		if img.d != first.d || img.n != first.n || img.k != first.k ||
			img.parity != first.parity || img.isTorus != first.isTorus {
			return nil, fmt.Errorf("image %d (%v) does not match %v", i, img, first)
		}
		parts[i] = img.data.Reshape(tensor.Shape{1}.Concat(img.data.Shape()))
	}
	return NewBatchGeometricImage(tensor.Concat(0, parts...), first.parity, first.d, first.isTorus)
}

// D returns the image dimension.
func (b *BatchGeometricImage) D() int { return b.d }

// N returns the side length of the grid.
func (b *BatchGeometricImage) N() int { return b.n }

// K returns the tensor order of the pixels.
func (b *BatchGeometricImage) K() int { return b.k }

// Parity returns 0 for true tensors, 1 for pseudo-tensors.
func (b *BatchGeometricImage) Parity() int { return b.parity }

// IsTorus reports whether the grid wraps around.
func (b *BatchGeometricImage) IsTorus() bool { return b.isTorus }

// L returns the batch size.
func (b *BatchGeometricImage) L() int { return b.l }

// Data returns the underlying tensor (not a copy).
func (b *BatchGeometricImage) Data() *tensor.Dense { return b.data }

func (b *BatchGeometricImage) String() string {
	return fmt.Sprintf("<batch of %d geometric images in D=%d with N=%d, k=%d, parity=%d, torus=%v>",
		b.l, b.d, b.n, b.k, b.parity, b.isTorus)
}

// Image extracts batch element i as a standalone geometric image.
func (b *BatchGeometricImage) Image(i int) *GeometricImage {
	img, err := NewGeometricImage(sliceLeading(b.data, i), b.parity, b.d, b.isTorus)
	if err != nil {
		panic(err)
	}
	return img
}

// ToImages unpacks the batch into individual geometric images.
func (b *BatchGeometricImage) ToImages() []*GeometricImage {
	images := make([]*GeometricImage, b.l)
	for i := range images {
		images[i] = b.Image(i)
	}
	return images
}

func (b *BatchGeometricImage) with(data *tensor.Dense, parity int) *BatchGeometricImage {
	out, err := NewBatchGeometricImage(data, parity, b.d, b.isTorus)
	if err != nil {
		panic(err)
	}
	return out
}

func (b *BatchGeometricImage) assertCompatible(other *BatchGeometricImage) {
	if b.d != other.d || b.n != other.n || b.k != other.k || b.l != other.l ||
		b.parity != other.parity || b.isTorus != other.isTorus {
		panic(fmt.Sprintf("geom: incompatible batches %v and %v", b, other))
	}
}

// Add returns the element-wise sum of two batches with matching attributes.
func (b *BatchGeometricImage) Add(other *BatchGeometricImage) *BatchGeometricImage {
	b.assertCompatible(other)
	return b.with(b.data.Add(other.data), b.parity)
}

// Sub returns the element-wise difference of two batches with matching
// attributes.
func (b *BatchGeometricImage) Sub(other *BatchGeometricImage) *BatchGeometricImage {
	b.assertCompatible(other)
	return b.with(b.data.Sub(other.data), b.parity)
}

// Scale multiplies every component by a scalar.
func (b *BatchGeometricImage) Scale(s float64) *BatchGeometricImage {
	return b.with(b.data.Scale(s), b.parity)
}

// mapBatch applies fn to each batch slice and restacks the results.
func (b *BatchGeometricImage) mapBatch(fn func(slice *tensor.Dense) *tensor.Dense) *tensor.Dense {
	parts := make([]*tensor.Dense, b.l)
	for i := 0; i < b.l; i++ {
		res := fn(sliceLeading(b.data, i))
		parts[i] = res.Reshape(tensor.Shape{1}.Concat(res.Shape()))
	}
	return tensor.Concat(0, parts...)
}

// MulImage takes the per-element pixel-wise tensor product with another
// batch on the same grid. The tensor orders and parities add.
func (b *BatchGeometricImage) MulImage(other *BatchGeometricImage) *BatchGeometricImage {
	if b.d != other.d || b.n != other.n || b.l != other.l || b.isTorus != other.isTorus {
		panic(fmt.Sprintf("geom: cannot multiply %v by %v", b, other))
	}
	i := 0
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		res := Mul(b.d, slice, sliceLeading(other.data, i))
		i++
		return res
	})
	return b.with(data, b.parity+other.parity)
}

// ConvolveWith convolves every batch element with the same filter.
func (b *BatchGeometricImage) ConvolveWith(filter *GeometricImage, opts *ConvOptions) *BatchGeometricImage {
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		return Convolve(b.d, slice, filter.data, b.isTorus, opts)
	})
	return b.with(data, b.parity+filter.parity)
}

// Multicontract contracts the given tensor index pairs in every element.
func (b *BatchGeometricImage) Multicontract(pairs [][2]int) *BatchGeometricImage {
	if b.k < 2 {
		panic(fmt.Sprintf("geom: contraction requires tensor order >= 2, got %d", b.k))
	}
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		return Multicontract(slice, pairs, b.d)
	})
	return b.with(data, b.parity)
}

// TimesGroupElement applies the same group element to every batch element.
func (b *BatchGeometricImage) TimesGroupElement(g mat.Matrix) *BatchGeometricImage {
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		return TimesGroupElement(b.d, slice, b.parity, g)
	})
	return b.with(data, b.parity)
}

// AveragePool pools every batch element with uniform patches.
func (b *BatchGeometricImage) AveragePool(patchLen int) *BatchGeometricImage {
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		return AveragePool(b.d, slice, patchLen)
	})
	return b.with(data, b.parity)
}

// MaxPool applies norm-based max pooling to every batch element.
func (b *BatchGeometricImage) MaxPool(patchLen int) *BatchGeometricImage {
	images := b.ToImages()
	pooled := make([]*GeometricImage, len(images))
	for i, img := range images {
		pooled[i] = img.MaxPool(patchLen)
	}
	out, err := BatchFromImages(pooled)
	if err != nil {
		panic(err)
	}
	return out
}

// Norm maps every element to its scalar image of per-pixel norms.
func (b *BatchGeometricImage) Norm() *BatchGeometricImage {
	data := b.mapBatch(func(slice *tensor.Dense) *tensor.Dense {
		return Norm(b.d, slice)
	})
	return b.with(data, b.parity)
}

// Equal reports equality of attributes and element-wise closeness within
// DefaultTol.
func (b *BatchGeometricImage) Equal(other *BatchGeometricImage) bool {
	return b.d == other.d && b.n == other.n && b.k == other.k && b.l == other.l &&
		b.parity == other.parity && b.isTorus == other.isTorus &&
		tensor.AllClose(b.data, other.data, DefaultTol)
}
