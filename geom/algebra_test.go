package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/group"
	"github.com/equivariant-ml/geomconv/tensor"
)

func TestParseShape(t *testing.T) {
	n, k := ParseShape(tensor.Shape{5, 5}, 2)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, k)

	n, k = ParseShape(tensor.Shape{4, 4, 2, 2}, 2)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, k)

	n, k = ParseShape(tensor.Shape{3, 3, 3, 3}, 3)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, k)
}

func TestWrapIndex(t *testing.T) {
	assert.Equal(t, []int{1, 2}, WrapIndex([]int{1, 2}, 3))
	assert.Equal(t, []int{0, 2}, WrapIndex([]int{3, -1}, 3))
	assert.Equal(t, []int{2, 1}, WrapIndex([]int{-4, 7}, 3))
}

func TestRotatedKeysIdentity(t *testing.T) {
	eye := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	keys := RotatedKeys(2, 3, eye)
	require.Len(t, keys, 9)
	for i, key := range tensor.Repeat(3, 2).Indices() {
		assert.Equal(t, key, keys[i])
	}
}

func TestRotatedKeysQuarterTurn(t *testing.T) {
	// counterclockwise quarter turn about the grid center
	rot := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	keys := RotatedKeys(2, 3, rot)
	// the center is fixed
	assert.Equal(t, []int{1, 1}, keys[tensor.Shape{3, 3}.Index(1, 1)])
	// applying the rotation four times returns to the start
	current := []int{0, 2}
	for i := 0; i < 4; i++ {
		current = keys[tensor.Shape{3, 3}.Index(current[0], current[1])]
	}
	assert.Equal(t, []int{0, 2}, current)
}

func vectorPixelImage(t *testing.T, v []float64) *tensor.Dense {
	t.Helper()
	data, err := tensor.NewDense(tensor.Shape{1, 1, 2}, v)
	require.NoError(t, err)
	return data
}

func TestTimesGroupElementVector(t *testing.T) {
	v := vectorPixelImage(t, []float64{2, 1})

	rot := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	rotated := TimesGroupElement(2, v, 0, rot)
	assert.InDeltaSlice(t, []float64{-1, 2}, rotated.Data(), 1e-12)

	flip := mat.NewDense(2, 2, []float64{-1, 0, 0, 1})
	flipped := TimesGroupElement(2, v, 0, flip)
	assert.InDeltaSlice(t, []float64{-2, 1}, flipped.Data(), 1e-12)

	// a pseudo-vector picks up the determinant sign under a reflection
	flippedPseudo := TimesGroupElement(2, v, 1, flip)
	assert.InDeltaSlice(t, []float64{2, -1}, flippedPseudo.Data(), 1e-12)
	rotatedPseudo := TimesGroupElement(2, v, 1, rot)
	assert.InDeltaSlice(t, []float64{-1, 2}, rotatedPseudo.Data(), 1e-12)
}

func TestTimesGroupElementScalarGrid(t *testing.T) {
	data, err := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	rot := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	once := TimesGroupElement(2, data, 0, rot)
	// four quarter turns compose to the identity
	result := once
	for i := 0; i < 3; i++ {
		result = TimesGroupElement(2, result, 0, rot)
	}
	assert.True(t, tensor.AllClose(data, result, 1e-12))
	assert.False(t, tensor.AllClose(data, once, 1e-12))
	// total mass is preserved
	assert.InDelta(t, data.Sum(), once.Sum(), 1e-12)
}

// Scalars built by fully contracting products of moved tensors must not
// depend on the group element.
func TestGroupActionScalarInvariants(t *testing.T) {
	operators := group.MakeAllOperators(2)

	for _, parity := range []int{0, 1} {
		v1 := vectorPixelImage(t, []float64{0.3, -1.2})
		v2 := vectorPixelImage(t, []float64{2.1, 0.7})

		want := Multicontract(Mul(2, v1, v2), [][2]int{{0, 1}}, 2).Item()
		for _, g := range operators {
			moved := Mul(2,
				TimesGroupElement(2, v1, parity, g),
				TimesGroupElement(2, v2, parity, g))
			got := Multicontract(moved, [][2]int{{0, 1}}, 2).Item()
			assert.InDelta(t, want, got, 1e-10)
		}
	}
}

func TestGroupActionMatrixInvariant(t *testing.T) {
	operators := group.MakeAllOperators(2)

	m1, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{0.5, -1, 2, 0.25})
	require.NoError(t, err)
	m2, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{1, 3, -0.5, 2})
	require.NoError(t, err)

	for _, parity := range []int{0, 1} {
		want := Multicontract(Mul(2, m1, m2), [][2]int{{1, 2}, {0, 3}}, 2).Item()
		for _, g := range operators {
			moved := Mul(2,
				TimesGroupElement(2, m1, parity, g),
				TimesGroupElement(2, m2, parity, g))
			got := Multicontract(moved, [][2]int{{1, 2}, {0, 3}}, 2).Item()
			assert.InDelta(t, want, got, 1e-10)
		}
	}
}

func TestMulIsPixelwiseOuterProduct(t *testing.T) {
	a := vectorPixelImage(t, []float64{1, 2})
	b := vectorPixelImage(t, []float64{3, 4})

	out := Mul(2, a, b)
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float64{3, 4, 6, 8}, out.Data())
}

func TestMulScalarImage(t *testing.T) {
	a, err := tensor.NewDense(tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := tensor.NewDense(tensor.Shape{2, 2, 2}, []float64{1, 1, 2, 2, 3, 3, 4, 4})
	require.NoError(t, err)

	out := Mul(2, a, b)
	require.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float64{1, 1, 4, 4, 9, 9, 16, 16}, out.Data())
}

func TestPreTensorProductExpand(t *testing.T) {
	a := vectorPixelImage(t, []float64{1, 2})
	b := vectorPixelImage(t, []float64{3, 4})

	aExp, bExp := PreTensorProductExpand(2, a, b)
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, aExp.Shape())
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, bExp.Shape())
	// a is broadcast along the new trailing axis, b along the new leading one
	assert.Equal(t, []float64{1, 1, 2, 2}, aExp.Data())
	assert.Equal(t, []float64{3, 4, 3, 4}, bExp.Data())
}

func TestGetContractionIndices(t *testing.T) {
	// one contraction of a rank-3 tensor: 3 choices of pair
	indices := GetContractionIndices(3, 1, nil)
	assert.Len(t, indices, 3)
	for _, pairs := range indices {
		require.Len(t, pairs, 1)
		assert.Less(t, pairs[0][0], pairs[0][1])
		assert.GreaterOrEqual(t, pairs[0][0], 0)
		assert.Less(t, pairs[0][1], 3)
	}

	// swappable indices 0 and 1 collapse (0,2) and (1,2) into one entry
	swapped := GetContractionIndices(3, 1, [][2]int{{0, 1}})
	assert.Len(t, swapped, 2)

	// two contractions of a rank-5 tensor: C(5,2) * C(3,2) / 2 = 15
	indices = GetContractionIndices(5, 1, nil)
	assert.Len(t, indices, 15)
	seen := map[string]bool{}
	for _, pairs := range indices {
		require.Len(t, pairs, 2)
		used := map[int]bool{}
		for _, p := range pairs {
			assert.False(t, used[p[0]] || used[p[1]], "axes reused in %v", pairs)
			used[p[0]], used[p[1]] = true, true
		}
		key := rowKey(flattenPairs(pairs))
		assert.False(t, seen[key], "duplicate contraction %v", pairs)
		seen[key] = true
	}

	assert.Panics(t, func() { GetContractionIndices(3, 2, nil) })
}

func flattenPairs(pairs [][2]int) []int {
	out := make([]int, 0, 2*len(pairs))
	for _, p := range pairs {
		out = append(out, p[0], p[1])
	}
	return out
}

func TestMulticontractMatchesContract(t *testing.T) {
	data, err := tensor.NewDense(tensor.Shape{1, 1, 2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	out := Multicontract(data, [][2]int{{0, 1}}, 2)
	require.Equal(t, tensor.Shape{1, 1}, out.Shape())
	assert.Equal(t, 5.0, out.Item())
}

func TestNorm(t *testing.T) {
	data, err := tensor.NewDense(tensor.Shape{1, 2, 2}, []float64{3, 4, 0, -2})
	require.NoError(t, err)
	norms := Norm(2, data)
	require.Equal(t, tensor.Shape{1, 2}, norms.Shape())
	assert.InDelta(t, 5.0, norms.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0, norms.At(0, 1), 1e-12)
}

func TestLinearCombination(t *testing.T) {
	images, err := tensor.NewDense(tensor.Shape{2, 2, 2}, []float64{
		1, 0, 0, 1,
		0, 1, 1, 0,
	})
	require.NoError(t, err)
	out := LinearCombination(images, []float64{2, 3})
	require.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float64{2, 3, 3, 2}, out.Data())
}
