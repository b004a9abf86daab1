package group

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PermutationMatrix returns the permutation matrix for the sequence seq:
// row i has a single 1 in column seq[i].
func PermutationMatrix(seq []int) *mat.Dense {
	d := len(seq)
	m := mat.NewDense(d, d, nil)
	for i, col := range seq {
		if col < 0 || col >= d {
			panic(fmt.Sprintf("group: sequence entry %d out of range for length %d", col, d))
		}
		m.Set(i, col, 1)
	}
	return m
}

// MakeAllOperators constructs every operator of dimension d that is a
// rotation by 90 degrees, a reflection, or a combination of the two. This
// is the set of permutation matrices with entries of either sign, so the
// result has 2 * 2^(d-1) * d! elements.
func MakeAllOperators(d int) []*mat.Dense {
	if d < 1 {
		panic(fmt.Sprintf("group: dimension must be positive, got %d", d))
	}

	perms := permutations(d)
	signs := signCombinations(d)

	operators := make([]*mat.Dense, 0, len(perms)*len(signs))
	for _, seq := range perms {
		pm := PermutationMatrix(seq)
		for _, sign := range signs {
			op := mat.NewDense(d, d, nil)
			// right-multiplying by diag(sign) scales column j by sign[j]
			for i := 0; i < d; i++ {
				for j := 0; j < d; j++ {
					op.Set(i, j, pm.At(i, j)*sign[j])
				}
			}
			operators = append(operators, op)
		}
	}
	return operators
}

// Determinant returns det(g) rounded to the nearest integer. Group elements
// are signed permutations, so this is always +1 or -1.
func Determinant(g mat.Matrix) int {
	return int(math.Round(mat.Det(g)))
}

// IsOrthogonal reports whether g multiplied by its transpose is the
// identity, within tol.
func IsOrthogonal(g mat.Matrix, tol float64) bool {
	d, c := g.Dims()
	if d != c {
		return false
	}
	var prod mat.Dense
	prod.Mul(g, g.T())
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(prod.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return true
}

// permutations returns every permutation of 0..d-1 in lexicographic-ish
// recursive order.
func permutations(d int) [][]int {
	nums := make([]int, d)
	for i := range nums {
		nums[i] = i
	}

	var out [][]int
	var recurse func(prefix, rest []int)
	recurse = func(prefix, rest []int) {
		if len(rest) == 0 {
			out = append(out, append([]int(nil), prefix...))
			return
		}
		for i := range rest {
			next := make([]int, 0, len(rest)-1)
			next = append(next, rest[:i]...)
			next = append(next, rest[i+1:]...)
			withI := make([]int, 0, len(prefix)+1)
			withI = append(withI, prefix...)
			withI = append(withI, rest[i])
			recurse(withI, next)
		}
	}
	recurse(nil, nums)
	return out
}

// signCombinations returns every vector in {+1, -1}^d.
func signCombinations(d int) [][]float64 {
	out := make([][]float64, 0, 1<<d)
	for bits := 0; bits < 1<<d; bits++ {
		sign := make([]float64, d)
		for i := 0; i < d; i++ {
			if bits&(1<<i) == 0 {
				sign[i] = 1
			} else {
				sign[i] = -1
			}
		}
		out = append(out, sign)
	}
	return out
}
