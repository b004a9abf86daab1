package geom

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/group"
	"github.com/equivariant-ml/geomconv/tensor"
)

// BasisCache memoizes standard bases: for a given shape, the stack of unit
// tensors (size,) + shape where size is the product of the shape. The name
// distinguishes uses of the same shape. Entries are append-only, so the
// cache is safe for concurrent use.
type BasisCache struct {
	mu    sync.RWMutex
	bases map[string]*tensor.Dense
}

// NewBasisCache returns an empty basis cache.
func NewBasisCache() *BasisCache {
	return &BasisCache{bases: make(map[string]*tensor.Dense)}
}

// Bases is the process-wide default basis cache.
var Bases = NewBasisCache()

// Get returns the standard basis for the shape, computing it once per
// (name, shape). Callers must not modify the returned tensor.
func (c *BasisCache) Get(name string, shape tensor.Shape) *tensor.Dense {
	key := fmt.Sprintf("%s:%v", name, shape)
	c.mu.RLock()
	basis, ok := c.bases[key]
	c.mu.RUnlock()
	if ok {
		return basis
	}

	size := shape.NumElements()
	basis = tensor.Eye(size).Reshape(tensor.Shape{size}.Concat(shape))

	c.mu.Lock()
	if existing, ok := c.bases[key]; ok {
		basis = existing
	} else {
		c.bases[key] = basis
	}
	c.mu.Unlock()
	return basis
}

// Scaling modes for invariant filter construction.
const (
	ScaleNormalize = "normalize"
	ScaleOne       = "one"
)

// FilterOptions controls invariant filter construction. The zero value
// selects DefaultTol and ScaleNormalize.
type FilterOptions struct {
	// Tolerance is the singular value cutoff separating the invariant
	// subspace from numerical noise. Zero means DefaultTol.
	Tolerance float64
	// Scale is ScaleNormalize to rescale each filter so its largest pixel
	// norm is 1, or ScaleOne to leave amplitudes at +/- 1.
	Scale string
}

func (o *FilterOptions) resolve() (tol float64, scale string) {
	tol, scale = DefaultTol, ScaleNormalize
	if o == nil {
		return tol, scale
	}
	if o.Tolerance != 0 {
		tol = o.Tolerance
	}
	if o.Scale != "" {
		scale = o.Scale
	}
	if scale != ScaleNormalize && scale != ScaleOne {
		panic(fmt.Sprintf("geom: unknown filter scale %q", scale))
	}
	return tol, scale
}

// GetUniqueInvariantFilters group-averages the standard basis of m^D
// rank-k filters over the operators and extracts an orthogonal basis of
// the fixed subspace by SVD. The filters come back sign-canonicalized and
// sorted by bigness so the output is deterministic. Returns an empty slice
// when no singular value clears the tolerance.
func GetUniqueInvariantFilters(m, k, parity, d int, operators []*mat.Dense, opts *FilterOptions) []*GeometricFilter {
	tol, scale := opts.resolve()

	shape := tensor.Repeat(m, d).Concat(tensor.Repeat(d, k))
	size := shape.NumElements()
	basis := Bases.Get("image", shape)

	// each row is one basis filter averaged over the group
	filterMatrix := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		elem := sliceLeading(basis, i)
		sum := tensor.Zeros(shape)
		for _, g := range operators {
			sum = sum.Add(TimesGroupElement(d, elem, parity, g))
		}
		filterMatrix.SetRow(i, sum.Data())
	}

	var svd mat.SVD
	if !svd.Factorize(filterMatrix, mat.SVDThin) {
		panic("geom: SVD of the group-averaged filter matrix failed to converge")
	}
	sigma := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	var filters []*GeometricFilter
	for j := 0; j < len(sigma); j++ {
		if sigma[j] <= tol {
			continue
		}
		amp := make([]float64, size)
		maxAbs := 0.0
		for i := 0; i < size; i++ {
			amp[i] = v.At(i, j)
			if a := amp[i]; a > maxAbs {
				maxAbs = a
			} else if -a > maxAbs {
				maxAbs = -a
			}
		}

		// amplitudes max out at +/- 1 with a generically positive sum
		sum := 0.0
		for i := range amp {
			amp[i] /= maxAbs
			sum += amp[i]
		}
		sign := 1.0
		if sum < 0 {
			sign = -1
		}
		for i := range amp {
			amp[i] = roundTo(sign*amp[i], 5)
		}

		data, err := tensor.NewDense(shape.Clone(), amp)
		if err != nil {
			panic(err)
		}
		filter, err := NewGeometricFilter(data, parity, d, true)
		if err != nil {
			panic(err)
		}
		if scale == ScaleNormalize {
			filter, err = FilterFromImage(filter.GeometricImage.Normalize())
			if err != nil {
				panic(err)
			}
		}
		filters = append(filters, filter)
	}

	bigness := make(map[*GeometricFilter]float64, len(filters))
	for _, f := range filters {
		bigness[f] = f.Bigness()
	}
	sort.SliceStable(filters, func(i, j int) bool {
		return bigness[filters[i]] < bigness[filters[j]]
	})

	for i, f := range filters {
		filters[i] = f.Rectify()
	}
	return filters
}

// FilterKey identifies one set of invariant filters.
type FilterKey struct {
	D      int
	M      int
	K      int
	Parity int
}

// GetInvariantFilters builds the invariant filters for every combination
// of side length, tensor order, and parity. It returns the filters keyed
// by (D, M, k, parity) plus, per (D, M), the largest filter count across
// the (k, parity) combinations.
func GetInvariantFilters(ms, ks, parities []int, d int, operators []*mat.Dense, opts *FilterOptions) (map[FilterKey][]*GeometricFilter, map[[2]int]int) {
	allFilters := make(map[FilterKey][]*GeometricFilter)
	maxn := make(map[[2]int]int)
	for _, m := range ms {
		mKey := [2]int{d, m}
		maxn[mKey] = 0
		for _, k := range ks {
			for _, parity := range parities {
				filters := GetUniqueInvariantFilters(m, k, parity, d, operators, opts)
				allFilters[FilterKey{D: d, M: m, K: k, Parity: parity}] = filters
				if len(filters) > maxn[mKey] {
					maxn[mKey] = len(filters)
				}
			}
		}
	}
	return allFilters, maxn
}

// GetInvariantFilterList flattens GetInvariantFilters output into a single
// slice, ordered by side length, tensor order, then parity.
func GetInvariantFilterList(ms, ks, parities []int, d int, operators []*mat.Dense, opts *FilterOptions) []*GeometricFilter {
	allFilters, _ := GetInvariantFilters(ms, ks, parities, d, operators, opts)
	keys := make([]FilterKey, 0, len(allFilters))
	for key := range allFilters {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.M != b.M {
			return a.M < b.M
		}
		if a.K != b.K {
			return a.K < b.K
		}
		return a.Parity < b.Parity
	})
	var out []*GeometricFilter
	for _, key := range keys {
		out = append(out, allFilters[key]...)
	}
	return out
}

// GetInvariantFilterLayer builds the invariant filters for a single side
// length and collects them into a layer keyed by (k, parity).
func GetInvariantFilterLayer(m int, ks, parities []int, d int, operators []*mat.Dense, opts *FilterOptions) (*Layer, error) {
	filters := GetInvariantFilterList([]int{m}, ks, parities, d, operators, opts)
	images := make([]*GeometricImage, len(filters))
	for i, f := range filters {
		images[i] = f.Image()
	}
	return LayerFromImages(images)
}

// KroneckerDeltaImage fills an N^D grid with the rank-k Kronecker delta.
func KroneckerDeltaImage(n, d, k int) *GeometricImage {
	return FillImage(n, 0, d, group.KroneckerDelta(d, k), true)
}

// GetInvariantImage returns the image fixed by every grid-preserving group
// action: a product of k/2 Kronecker-delta images. Only even tensor orders
// and parity 0 have such an image.
func GetInvariantImage(n, d, k, parity int, isTorus bool) (*GeometricImage, error) {
	if k%2 != 0 {
		return nil, fmt.Errorf("invariant images only exist for even tensor order, got %d", k)
	}
	if parity != 0 {
		return nil, fmt.Errorf("invariant images with odd parity are not supported")
	}
	image := FillImage(n, 0, d, tensor.Scalar(1), isTorus)
	for i := 0; i < k/2; i++ {
		image = image.MulImage(FillImage(n, 0, d, group.KroneckerDelta(d, 2), isTorus))
	}
	return image, nil
}

// GetContractionMap returns the (D^finalK x D^k) matrix performing one
// multicontraction on a rank-k pixel tensor. Contractions act pixel-wise,
// so the per-pixel map is all that is needed and it can be reused across
// the grid.
func GetContractionMap(d, k int, pairs [][2]int) *mat.Dense {
	finalK := k - 2*len(pairs)
	shape := tensor.Repeat(d, k)
	size := shape.NumElements()
	finalSize := tensor.Repeat(d, finalK).NumElements()
	basis := Bases.Get("tensor", shape)

	out := mat.NewDense(finalSize, size, nil)
	for i := 0; i < size; i++ {
		contracted := Multicontract(sliceLeading(basis, i), pairs, 0)
		out.SetCol(i, contracted.Data())
	}
	return out
}

// ApplyContractionMap contracts every pixel of an image by multiplying
// with a map from GetContractionMap.
func ApplyContractionMap(d int, imageData *tensor.Dense, contractMap *mat.Dense, finalK int) *tensor.Dense {
	n, k := ParseShape(imageData.Shape(), d)
	pixels := tensor.Repeat(n, d).NumElements()
	pixelSize := tensor.Repeat(d, k).NumElements()
	finalSize := tensor.Repeat(d, finalK).NumElements()

	rows, cols := contractMap.Dims()
	if rows != finalSize || cols != pixelSize {
		panic(fmt.Sprintf("geom: contraction map is %dx%d, want %dx%d", rows, cols, finalSize, pixelSize))
	}

	outShape := tensor.Repeat(n, d).Concat(tensor.Repeat(d, finalK))
	out := tensor.Zeros(outShape)
	src := imageData.Data()
	dst := out.Data()
	var result mat.VecDense
	for p := 0; p < pixels; p++ {
		pixel := mat.NewVecDense(pixelSize, src[p*pixelSize:(p+1)*pixelSize])
		result.MulVec(contractMap, pixel)
		for i := 0; i < finalSize; i++ {
			dst[p*finalSize+i] = result.AtVec(i)
		}
	}
	return out
}
