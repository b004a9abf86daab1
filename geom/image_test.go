package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/tensor"
)

func scalarImage(t *testing.T, n int, values []float64) *GeometricImage {
	t.Helper()
	data, err := tensor.NewDense(tensor.Repeat(n, 2), values)
	require.NoError(t, err)
	img, err := NewGeometricImage(data, 0, 2, true)
	require.NoError(t, err)
	return img
}

func TestNewGeometricImage(t *testing.T) {
	img := scalarImage(t, 2, []float64{1, 2, 3, 4})
	assert.Equal(t, 2, img.D())
	assert.Equal(t, 2, img.N())
	assert.Equal(t, 0, img.K())
	assert.Equal(t, 0, img.Parity())
	assert.True(t, img.IsTorus())

	// non-square grid
	bad, err := tensor.NewDense(tensor.Shape{2, 3}, make([]float64, 6))
	require.NoError(t, err)
	_, err = NewGeometricImage(bad, 0, 2, true)
	assert.Error(t, err)

	// wrong tensor axis size
	bad2, err := tensor.NewDense(tensor.Shape{2, 2, 3}, make([]float64, 12))
	require.NoError(t, err)
	_, err = NewGeometricImage(bad2, 0, 2, true)
	assert.Error(t, err)

	// parity is reduced mod 2
	data, _ := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	img2, err := NewGeometricImage(data, 2, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 0, img2.Parity())
}

func TestZeroAndFillImage(t *testing.T) {
	z := ZeroImage(3, 1, 0, 2, true)
	assert.Equal(t, 1, z.K())
	assert.Equal(t, 0.0, z.Data().Sum())

	fill, _ := tensor.NewDense(tensor.Shape{2}, []float64{1, -1})
	f := FillImage(2, 0, 2, fill, true)
	assert.Equal(t, 1, f.K())
	require.Equal(t, tensor.Shape{2, 2, 2}, f.Data().Shape())
	assert.Equal(t, []float64{1, -1, 1, -1, 1, -1, 1, -1}, f.Data().Data())
}

func TestPixelAccess(t *testing.T) {
	img := scalarImage(t, 2, []float64{1, 2, 3, 4})
	assert.Equal(t, 3.0, img.Pixel(1, 0).Item())

	img.SetPixel(tensor.Scalar(9), 1, 0)
	assert.Equal(t, 9.0, img.Pixel(1, 0).Item())

	assert.Panics(t, func() { img.Pixel(0) })
}

func TestImageArithmetic(t *testing.T) {
	a := scalarImage(t, 2, []float64{1, 2, 3, 4})
	b := scalarImage(t, 2, []float64{4, 3, 2, 1})

	assert.Equal(t, []float64{5, 5, 5, 5}, a.Add(b).Data().Data())
	assert.Equal(t, []float64{-3, -1, 1, 3}, a.Sub(b).Data().Data())
	assert.Equal(t, []float64{2, 4, 6, 8}, a.Scale(2).Data().Data())

	// mismatched side lengths are a contract violation
	c := scalarImage(t, 3, make([]float64, 9))
	assert.Panics(t, func() { a.Add(c) })

	// mismatched parity as well
	data, _ := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 1, 1, 1})
	pseudo, err := NewGeometricImage(data, 1, 2, true)
	require.NoError(t, err)
	assert.Panics(t, func() { a.Add(pseudo) })
}

func TestMulImageRaisesOrderAndParity(t *testing.T) {
	vdata, err := tensor.NewDense(tensor.Shape{1, 1, 2}, []float64{1, 2})
	require.NoError(t, err)
	v, err := NewGeometricImage(vdata, 1, 2, true)
	require.NoError(t, err)

	prod := v.MulImage(v)
	assert.Equal(t, 2, prod.K())
	assert.Equal(t, 0, prod.Parity())
	assert.Equal(t, []float64{1, 2, 2, 4}, prod.Data().Data())
}

func TestImageTranspose(t *testing.T) {
	data, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	img, err := NewGeometricImage(data, 0, 2, true)
	require.NoError(t, err)

	swapped := img.Transpose([]int{1, 0})
	assert.Equal(t, []float64{1, 3, 2, 4}, swapped.Data().Data())

	assert.Panics(t, func() { img.Transpose([]int{0}) })
}

func TestImageContract(t *testing.T) {
	data, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	img, err := NewGeometricImage(data, 0, 2, true)
	require.NoError(t, err)

	tr := img.Contract(0, 1)
	assert.Equal(t, 0, tr.K())
	assert.Equal(t, 5.0, tr.Data().Item())

	scalar := scalarImage(t, 2, []float64{1, 2, 3, 4})
	assert.Panics(t, func() { scalar.Contract(0, 1) })
}

func TestLeviCivitaContractRotatesVectors(t *testing.T) {
	vdata, err := tensor.NewDense(tensor.Shape{1, 1, 2}, []float64{1, 2})
	require.NoError(t, err)
	v, err := NewGeometricImage(vdata, 0, 2, true)
	require.NoError(t, err)

	rotated := v.LeviCivitaContract([]int{0})
	assert.Equal(t, 1, rotated.K())
	assert.Equal(t, 1, rotated.Parity())
	assert.InDeltaSlice(t, []float64{-2, 1}, rotated.Data().Data(), 1e-12)

	assert.Panics(t, func() { v.LeviCivitaContract([]int{0, 1}) })
}

func TestLeviCivitaContractCrossProduct(t *testing.T) {
	u := []float64{0, 1, 3}
	w := []float64{1, 2, -1}

	outer := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			outer[i*3+j] = u[i] * w[j]
		}
	}
	data, err := tensor.NewDense(tensor.Shape{1, 1, 1, 3, 3}, outer)
	require.NoError(t, err)
	img, err := NewGeometricImage(data, 0, 3, true)
	require.NoError(t, err)

	cross := img.LeviCivitaContract([]int{0, 1})
	assert.Equal(t, 1, cross.K())
	assert.Equal(t, 1, cross.Parity())
	assert.InDeltaSlice(t, []float64{-7, 3, -1}, cross.Data().Data(), 1e-12)
}

func TestImageNormAndNormalize(t *testing.T) {
	// a 1x1 grid holding one rank-2 pixel tensor
	data, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{3, 4, 0, 0})
	require.NoError(t, err)
	img, err := NewGeometricImage(data, 0, 2, true)
	require.NoError(t, err)

	norms := img.Norm()
	assert.Equal(t, 0, norms.K())
	assert.InDelta(t, 5.0, norms.Data().At(0, 0), 1e-12)

	unit := img.Normalize()
	assert.InDelta(t, 1.0, unit.Norm().Data().Max(), 1e-12)

	// a near-zero image is left alone instead of being blown up
	tiny := scalarImage(t, 2, []float64{1e-9, 0, 0, 0})
	assert.True(t, tiny.Normalize().Equal(tiny))
}

func TestApplyScalar(t *testing.T) {
	img := scalarImage(t, 2, []float64{-1, 2, -3, 4})
	relu := img.ApplyScalar(func(v float64) float64 { return math.Max(0, v) })
	assert.Equal(t, []float64{0, 2, 0, 4}, relu.Data().Data())

	vdata, _ := tensor.NewDense(tensor.Shape{1, 1, 2}, []float64{1, 2})
	v, err := NewGeometricImage(vdata, 0, 2, true)
	require.NoError(t, err)
	assert.Panics(t, func() { v.ApplyScalar(math.Abs) })
}

func TestAnticontractRoundTrip(t *testing.T) {
	img := scalarImage(t, 2, []float64{1, 2, 3, 4})
	expanded := img.Anticontract(2)
	assert.Equal(t, 2, expanded.K())
	assert.True(t, expanded.Contract(0, 1).Equal(img))

	vdata, err := tensor.NewDense(tensor.Shape{1, 1, 2}, []float64{5, -3})
	require.NoError(t, err)
	v, err := NewGeometricImage(vdata, 0, 2, true)
	require.NoError(t, err)
	grown := v.Anticontract(2)
	assert.Equal(t, 3, grown.K())
	assert.True(t, grown.Contract(1, 2).Equal(v))

	assert.Panics(t, func() { img.Anticontract(3) })
	twoTensor := img.Anticontract(2)
	assert.Panics(t, func() { twoTensor.Anticontract(2) })
}

func TestImageTimesGroupElement(t *testing.T) {
	img := scalarImage(t, 2, []float64{1, 2, 3, 4})
	rot := mat.NewDense(2, 2, []float64{0, -1, 1, 0})

	moved := img.TimesGroupElement(rot)
	result := moved
	for i := 0; i < 3; i++ {
		result = result.TimesGroupElement(rot)
	}
	assert.True(t, result.Equal(img))
	assert.False(t, moved.Equal(img))
}

func TestMaxPool(t *testing.T) {
	img := scalarImage(t, 4, []float64{
		4, 1, 0, 1,
		0, 0, -3, 2,
		1, 0, 1, 0,
		1, 0, 2, 1,
	})
	pooled := img.MaxPool(2)
	assert.Equal(t, 2, pooled.N())
	assert.Equal(t, []float64{4, -3, 1, 2}, pooled.Data().Data())

	assert.Panics(t, func() { img.MaxPool(3) })
}

func TestMaxPoolKeepsWholePixels(t *testing.T) {
	// the full tensor at the max-norm coordinate survives, not a
	// component-wise max
	data := tensor.Zeros(tensor.Shape{2, 2, 2})
	data.Set(1, 0, 0, 0)
	data.Set(-1, 0, 1, 1)
	data.Set(3, 1, 0, 0)
	data.Set(-4, 1, 0, 1)
	img, err := NewGeometricImage(data, 0, 2, true)
	require.NoError(t, err)

	pooled := img.MaxPool(2)
	assert.Equal(t, 1, pooled.N())
	assert.Equal(t, []float64{3, -4}, pooled.Data().Data())
}

func TestAveragePoolImage(t *testing.T) {
	img := scalarImage(t, 4, []float64{
		4, 1, 0, 1,
		0, 0, -3, 2,
		1, 0, 1, 0,
		1, 0, 2, 1,
	})
	pooled := img.AveragePool(2)
	assert.Equal(t, 2, pooled.N())
	assert.InDeltaSlice(t, []float64{1.25, 0, 0.5, 1}, pooled.Data().Data(), 1e-12)
}

func TestUnpool(t *testing.T) {
	img := scalarImage(t, 2, []float64{1, 2, 3, 4})
	grown := img.Unpool(2)
	assert.Equal(t, 4, grown.N())
	assert.Equal(t, []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, grown.Data().Data())

	// average pooling inverts nearest neighbor unpooling
	assert.True(t, grown.AveragePool(2).Equal(img))
}

func TestImageEqual(t *testing.T) {
	a := scalarImage(t, 2, []float64{1, 2, 3, 4})
	b := scalarImage(t, 2, []float64{1, 2, 3, 4 + 1e-9})
	c := scalarImage(t, 2, []float64{1, 2, 3, 5})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	data, _ := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	flat, err := NewGeometricImage(data, 0, 2, false)
	require.NoError(t, err)
	assert.False(t, a.Equal(flat))
}

func TestFilterConstruction(t *testing.T) {
	even, err := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 0, 0, 1})
	require.NoError(t, err)
	_, err = NewGeometricFilter(even, 0, 2, true)
	assert.Error(t, err)

	odd, err := tensor.NewDense(tensor.Shape{3, 3}, []float64{0, 1, 0, 1, 0, 1, 0, 1, 0})
	require.NoError(t, err)
	f, err := NewGeometricFilter(odd, 0, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.M())
	assert.Equal(t, 3, f.N())
}

func TestFilterKeysAreCentered(t *testing.T) {
	data := tensor.Ones(tensor.Shape{3, 3})
	f, err := NewGeometricFilter(data, 0, 2, true)
	require.NoError(t, err)

	keys := f.Keys()
	require.Len(t, keys, 9)
	assert.Equal(t, []int{-1, -1}, keys[0])
	assert.Equal(t, []int{0, 0}, keys[4])
	assert.Equal(t, []int{1, 1}, keys[8])
}

func TestFilterBigness(t *testing.T) {
	center := tensor.Zeros(tensor.Shape{3, 3})
	center.Set(1, 1, 1)
	fc, err := NewGeometricFilter(center, 0, 2, true)
	require.NoError(t, err)

	corners := tensor.Zeros(tensor.Shape{3, 3})
	corners.Set(1, 0, 0)
	corners.Set(1, 0, 2)
	corners.Set(1, 2, 0)
	corners.Set(1, 2, 2)
	fk, err := NewGeometricFilter(corners, 0, 2, true)
	require.NoError(t, err)

	assert.Less(t, fc.Bigness(), fk.Bigness())
}

func TestRoundToDropsNegativeZero(t *testing.T) {
	r := roundTo(-1e-9, 5)
	assert.Equal(t, 0.0, r)
	assert.False(t, math.Signbit(r))

	assert.Equal(t, -0.12346, roundTo(-0.123456, 5))
	assert.Equal(t, 0.12346, roundTo(0.123456, 5))
}

func TestFilterRectify(t *testing.T) {
	neg := tensor.Full(tensor.Shape{3, 3}, -1)
	f, err := NewGeometricFilter(neg, 0, 2, true)
	require.NoError(t, err)
	rect := f.Rectify()
	assert.Equal(t, 9.0, rect.Data().Sum())

	pos := tensor.Ones(tensor.Shape{3, 3})
	f2, err := NewGeometricFilter(pos, 0, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 9.0, f2.Rectify().Data().Sum())
}
