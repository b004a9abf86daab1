package geom

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/tensor"
)

// DefaultTol is the tolerance used for equality checks, normalization
// cutoffs, and the invariant-filter singular value threshold. It is a
// package variable rather than a constant so callers can tune it.
var DefaultTol = 1e-5

// maxTensorOrder bounds the per-pixel tensor rank for the group action,
// keeping the repeated index contractions tractable.
const maxTensorOrder = 13

// ParseShape splits a geometric image data shape into the side length N
// and the tensor order k, given the dimension d. The first d axes are the
// spatial grid, the rest are tensor axes.
func ParseShape(shape tensor.Shape, d int) (n, k int) {
	if len(shape) < d {
		panic(fmt.Sprintf("geom: shape %v has fewer than %d spatial axes", shape, d))
	}
	return shape[0], len(shape) - d
}

// WrapIndex reduces a (possibly negative or out of range) grid coordinate
// modulo n, implementing the torus boundary.
func WrapIndex(idx []int, n int) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		m := v % n
		if m < 0 {
			m += n
		}
		out[i] = m
	}
	return out
}

// RotatedKeys returns, for every grid key of an n^d image in row-major
// order, the integer coordinate that key maps to under the group element g.
// Keys are rotated about the grid center (n-1)/2 and rounded to the nearest
// integer coordinate.
func RotatedKeys(d, n int, g mat.Matrix) [][]int {
	center := float64(n-1) / 2
	keys := tensor.Repeat(n, d).Indices()
	out := make([][]int, len(keys))
	for i, key := range keys {
		rotated := make([]int, d)
		for j := 0; j < d; j++ {
			v := 0.0
			for l := 0; l < d; l++ {
				v += (float64(key[l]) - center) * g.At(l, j)
			}
			rotated[j] = int(math.Round(v + center))
		}
		out[i] = rotated
	}
	return out
}

// PreTensorProductExpand aligns two different-rank tensor images for an
// element-wise multiply: each operand is outer-producted with an all-ones
// tensor shaped like the other operand's tensor part, and the axes are
// reordered so that both results have shape (spatial) + (d,)*ka + (d,)*kb
// with image a's original tensor indices adjacent and in their original
// relative order. This is a reshaping device, not a contraction: after it,
// a plain element-wise product computes the tensor product for any rank
// pair.
func PreTensorProductExpand(d int, a, b *tensor.Dense) (*tensor.Dense, *tensor.Dense) {
	_, ka := ParseShape(a.Shape(), d)
	_, kb := ParseShape(b.Shape(), d)

	aExp := a
	if kb > 0 {
		aExp = tensor.Outer(a, tensor.Ones(tensor.Repeat(d, kb)))
	}

	bExp := b
	if ka > 0 {
		// outer product gives ((d,)*ka, spatial, (d,)*kb); move the ones
		// block from the front to between the spatial and tensor axes
		outer := tensor.Outer(tensor.Ones(tensor.Repeat(d, ka)), b)
		perm := make([]int, 0, outer.Rank())
		for i := ka; i < ka+d; i++ {
			perm = append(perm, i)
		}
		for i := 0; i < ka; i++ {
			perm = append(perm, i)
		}
		for i := ka + d; i < outer.Rank(); i++ {
			perm = append(perm, i)
		}
		bExp = outer.Transpose(perm)
	}

	return aExp, bExp
}

// Mul is the multiplication operator between two images of the same grid,
// implemented as a tensor product of the pixels. The result has tensor
// order ka + kb.
func Mul(d int, a, b *tensor.Dense) *tensor.Dense {
	aExp, bExp := PreTensorProductExpand(d, a, b)
	return aExp.MulElem(bExp)
}

// Multicontract performs the Kronecker-delta contraction on data: each
// index pair is summed along its diagonal. The pairs are tensor indices;
// shift offsets them past leading spatial, channel, or batch axes.
func Multicontract(data *tensor.Dense, pairs [][2]int, shift int) *tensor.Dense {
	return tensor.Contract(data, pairs, shift)
}

// GetContractionIndices enumerates all inequivalent ways of picking
// (initialK-finalK)/2 disjoint index pairs out of initialK tensor indices.
// Contracting (0,1) equals contracting (1,0), and pair order does not
// matter, so results are canonicalized (pair contents sorted, pairs sorted)
// and deduplicated. The optional swappable pairs name index pairs that can
// be interchanged without changing the contraction (for example the two
// indices of a symmetric order-2 invariant filter); contractions differing
// only by such a swap are identified.
func GetContractionIndices(initialK, finalK int, swappable [][2]int) [][][2]int {
	if (initialK+finalK)%2 != 0 {
		panic(fmt.Sprintf("geom: contraction from k=%d to k=%d changes rank by an odd amount", initialK, finalK))
	}
	if initialK < finalK || finalK < 0 {
		panic(fmt.Sprintf("geom: invalid contraction orders initial=%d final=%d", initialK, finalK))
	}

	numPairs := (initialK - finalK) / 2
	if numPairs == 0 {
		return [][][2]int{nil}
	}

	// all index pairs (i < j), then all combinations of numPairs of them
	var allPairs [][2]int
	for i := 0; i < initialK; i++ {
		for j := i + 1; j < initialK; j++ {
			allPairs = append(allPairs, [2]int{i, j})
		}
	}

	var rows [][]int
	combo := make([]int, numPairs)
	var pick func(start, depth int)
	pick = func(start, depth int) {
		if depth == numPairs {
			row := make([]int, 0, 2*numPairs)
			used := make(map[int]bool, 2*numPairs)
			for _, c := range combo {
				p := allPairs[c]
				if used[p[0]] || used[p[1]] {
					return // an index appears in two pairs
				}
				used[p[0]], used[p[1]] = true, true
				row = append(row, p[0], p[1])
			}
			rows = append(rows, row)
			return
		}
		for i := start; i < len(allPairs); i++ {
			combo[depth] = i
			pick(i+1, depth+1)
		}
	}
	pick(0, 0)

	// identify swappable indices: replace the second member with the first
	for r := range rows {
		for _, sw := range swappable {
			for i, v := range rows[r] {
				if v == sw[1] {
					rows[r][i] = sw[0]
				}
			}
		}
	}

	// canonicalize: sort within each pair, then sort the pairs
	canonical := make([][]int, len(rows))
	for r, row := range rows {
		pairs := make([][2]int, numPairs)
		for i := 0; i < numPairs; i++ {
			x, y := row[2*i], row[2*i+1]
			if x > y {
				x, y = y, x
			}
			pairs[i] = [2]int{x, y}
		}
		sort.Slice(pairs, func(a, b int) bool {
			if pairs[a][0] != pairs[b][0] {
				return pairs[a][0] < pairs[b][0]
			}
			return pairs[a][1] < pairs[b][1]
		})
		flat := make([]int, 0, 2*numPairs)
		for _, p := range pairs {
			flat = append(flat, p[0], p[1])
		}
		canonical[r] = flat
	}

	sort.Slice(canonical, func(a, b int) bool {
		for i := range canonical[a] {
			if canonical[a][i] != canonical[b][i] {
				return canonical[a][i] < canonical[b][i]
			}
		}
		return false
	})

	var unique [][]int
	seen := make(map[string]bool)
	for _, row := range canonical {
		key := rowKey(row)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, row)
		}
	}

	// restore the swappable indices: where a row contracts on the
	// identified index, put the pair members back in order
	for _, row := range unique {
		for _, sw := range swappable {
			locs := []int{}
			for i, v := range row {
				if v == sw[0] || v == sw[1] {
					locs = append(locs, i)
				}
			}
			if len(locs) > 0 {
				row[locs[len(locs)-1]] = sw[1]
				row[locs[0]] = sw[0]
			}
		}
	}

	out := make([][][2]int, len(unique))
	for r, row := range unique {
		pairs := make([][2]int, numPairs)
		for i := 0; i < numPairs; i++ {
			pairs[i] = [2]int{row[2*i], row[2*i+1]}
		}
		out[r] = pairs
	}
	return out
}

func rowKey(row []int) string {
	var sb strings.Builder
	for _, v := range row {
		fmt.Fprintf(&sb, "%d,", v)
	}
	return sb.String()
}

// TimesGroupElement applies a group element to a tensor-valued grid. Two
// effects compose: every pixel's grid coordinate is rotated by g about the
// grid center and read back with torus wraparound, and each tensor index is
// rotated by g as a change of basis. A parity-p tensor additionally scales
// by det(g)^p.
func TimesGroupElement(d int, data *tensor.Dense, parity int, g mat.Matrix) *tensor.Dense {
	n, k := ParseShape(data.Shape(), d)
	if k > maxTensorOrder {
		panic(fmt.Sprintf("geom: tensor order %d exceeds the supported maximum %d", k, maxTensorOrder))
	}
	rows, cols := g.Dims()
	if rows != d || cols != d {
		panic(fmt.Sprintf("geom: group element must be %dx%d, got %dx%d", d, d, rows, cols))
	}

	det := mat.Det(g)
	if math.Abs(math.Abs(det)-1) > DefaultTol {
		panic(fmt.Sprintf("geom: group element determinant %v is not +/-1", det))
	}
	parityFlip := 1.0
	if parity%2 == 1 && det < 0 {
		parityFlip = -1
	}

	// move the pixels
	pixelSize := 1
	for i := 0; i < k; i++ {
		pixelSize *= d
	}
	rotated := tensor.Zeros(data.Shape())
	src := data.Data()
	dst := rotated.Data()
	for i, key := range RotatedKeys(d, n, g) {
		from := flatSpatialIndex(WrapIndex(key, n), n)
		copy(dst[i*pixelSize:(i+1)*pixelSize], src[from*pixelSize:(from+1)*pixelSize])
	}

	// rotate each tensor index
	out := rotated
	for t := 0; t < k; t++ {
		out = applyMatrixToAxis(out, g, d+t)
	}
	if parityFlip != 1 {
		out = out.Scale(parityFlip)
	}
	return out
}

// applyMatrixToAxis computes out[..., a, ...] = sum_b g[a,b] * in[..., b, ...]
// along the given axis.
func applyMatrixToAxis(t *tensor.Dense, g mat.Matrix, axis int) *tensor.Dense {
	shape := t.Shape()
	dim := shape[axis]
	strides := shape.ComputeStrides()
	stride := strides[axis]

	out := tensor.Zeros(shape)
	in := t.Data()
	res := out.Data()

	outer := 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	inner := stride
	block := dim * inner

	for o := 0; o < outer; o++ {
		base := o * block
		for a := 0; a < dim; a++ {
			for b := 0; b < dim; b++ {
				w := g.At(a, b)
				if w == 0 {
					continue
				}
				dstOff := base + a*inner
				srcOff := base + b*inner
				for i := 0; i < inner; i++ {
					res[dstOff+i] += w * in[srcOff+i]
				}
			}
		}
	}
	return out
}

// Norm computes the Frobenius norm of each pixel tensor, producing a
// scalar (k=0) image.
func Norm(d int, data *tensor.Dense) *tensor.Dense {
	_, k := ParseShape(data.Shape(), d)
	pixelSize := 1
	for i := 0; i < k; i++ {
		pixelSize *= d
	}

	out := tensor.Zeros(data.Shape()[:d].Clone())
	src := data.Data()
	dst := out.Data()
	for i := range dst {
		s := 0.0
		for _, v := range src[i*pixelSize : (i+1)*pixelSize] {
			s += v * v
		}
		dst[i] = math.Sqrt(s)
	}
	return out
}

// LinearCombination returns the weighted sum of a stacked batch of
// same-shape tensors: images has a leading stacking axis and params holds
// one scalar weight per slice.
func LinearCombination(images *tensor.Dense, params []float64) *tensor.Dense {
	shape := images.Shape()
	if len(shape) < 1 || shape[0] != len(params) {
		panic(fmt.Sprintf("geom: %d weights for %v stacked images", len(params), shape))
	}

	sliceShape := shape[1:].Clone()
	sliceLen := sliceShape.NumElements()
	out := tensor.Zeros(sliceShape)
	dst := out.Data()
	src := images.Data()
	for i, w := range params {
		base := i * sliceLen
		for j := 0; j < sliceLen; j++ {
			dst[j] += w * src[base+j]
		}
	}
	return out
}

// flatSpatialIndex converts a d-dimensional grid key to its row-major
// position in an n^d grid.
func flatSpatialIndex(key []int, n int) int {
	flat := 0
	for _, v := range key {
		flat = flat*n + v
	}
	return flat
}
