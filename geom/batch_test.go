package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equivariant-ml/geomconv/group"
	"github.com/equivariant-ml/geomconv/tensor"
)

func batchFixture(t *testing.T) *BatchGeometricImage {
	t.Helper()
	a := scalarImage(t, 2, []float64{1, 2, 3, 4})
	b := scalarImage(t, 2, []float64{-1, 0, 2, 5})
	batch, err := BatchFromImages([]*GeometricImage{a, b})
	require.NoError(t, err)
	return batch
}

func TestBatchFromImages(t *testing.T) {
	batch := batchFixture(t)
	assert.Equal(t, 2, batch.L())
	assert.Equal(t, 2, batch.N())
	assert.Equal(t, 0, batch.K())
	require.Equal(t, tensor.Shape{2, 2, 2}, batch.Data().Shape())

	images := batch.ToImages()
	require.Len(t, images, 2)
	assert.Equal(t, []float64{1, 2, 3, 4}, images[0].Data().Data())
	assert.Equal(t, []float64{-1, 0, 2, 5}, images[1].Data().Data())

	_, err := BatchFromImages(nil)
	assert.Error(t, err)

	// attribute mismatches are rejected
	big := scalarImage(t, 3, make([]float64, 9))
	_, err = BatchFromImages([]*GeometricImage{images[0], big})
	assert.Error(t, err)
}

func TestBatchArithmetic(t *testing.T) {
	batch := batchFixture(t)
	sum := batch.Add(batch)
	assert.True(t, sum.Equal(batch.Scale(2)))

	diff := batch.Sub(batch)
	assert.Equal(t, 0.0, diff.Data().MaxAbs())
}

func TestBatchMulImage(t *testing.T) {
	batch := batchFixture(t)
	squared := batch.MulImage(batch)
	assert.Equal(t, 0, squared.K())
	assert.Equal(t, []float64{1, 4, 9, 16}, squared.Image(0).Data().Data())
	assert.Equal(t, []float64{1, 0, 4, 25}, squared.Image(1).Data().Data())
}

func TestBatchConvolveWithMatchesPerImage(t *testing.T) {
	batch := batchFixture(t)

	fdata := tensor.Zeros(tensor.Shape{3, 3})
	fdata.Set(1, 1, 1)
	fdata.Set(0.5, 1, 2)
	filter, err := NewGeometricImage(fdata, 0, 2, true)
	require.NoError(t, err)

	convolved := batch.ConvolveWith(filter, nil)
	for i, img := range batch.ToImages() {
		assert.True(t, convolved.Image(i).Equal(img.ConvolveWith(filter, nil)))
	}
}

func TestBatchTimesGroupElement(t *testing.T) {
	batch := batchFixture(t)
	for _, g := range group.MakeAllOperators(2) {
		moved := batch.TimesGroupElement(g)
		for i, img := range batch.ToImages() {
			assert.True(t, moved.Image(i).Equal(img.TimesGroupElement(g)))
		}
	}
}

func TestBatchPooling(t *testing.T) {
	a := scalarImage(t, 4, []float64{
		4, 1, 0, 1,
		0, 0, -3, 2,
		1, 0, 1, 0,
		1, 0, 2, 1,
	})
	b := a.Scale(2)
	batch, err := BatchFromImages([]*GeometricImage{a, b})
	require.NoError(t, err)

	avg := batch.AveragePool(2)
	assert.Equal(t, 2, avg.N())
	assert.True(t, avg.Image(0).Equal(a.AveragePool(2)))
	assert.True(t, avg.Image(1).Equal(b.AveragePool(2)))

	max := batch.MaxPool(2)
	assert.Equal(t, []float64{4, -3, 1, 2}, max.Image(0).Data().Data())
	assert.Equal(t, []float64{8, -6, 2, 4}, max.Image(1).Data().Data())
}

func TestBatchNorm(t *testing.T) {
	vdata, err := tensor.NewDense(tensor.Shape{1, 1, 1, 2}, []float64{3, 4})
	require.NoError(t, err)
	batch, err := NewBatchGeometricImage(vdata, 0, 2, true)
	require.NoError(t, err)

	norms := batch.Norm()
	assert.Equal(t, 0, norms.K())
	assert.InDelta(t, 5.0, norms.Data().At(0, 0, 0), 1e-12)
}
