package tensor

import "fmt"

// maxContractAxes caps the rank plus contraction count of a single
// contraction, mirroring the index-space limit of the summation engine the
// algorithm was designed against.
const maxContractAxes = 52

// Contract performs a generalized trace over the given axis pairs: each
// (i, j) pair is summed along its diagonal, removing both axes. The pair
// indices are tensor indices; shift offsets them past any leading spatial,
// channel, or batch axes. The remaining free axes keep their order.
//
// Example:
//
//	m := tensor.Eye(3)
//	tensor.Contract(m, [][2]int{{0, 1}}, 0).Item() // 3, the trace
func Contract(t *Dense, pairs [][2]int, shift int) *Dense {
	rank := len(t.shape)
	if rank < 2 {
		panic(fmt.Sprintf("contract: rank must be at least 2, got %d", rank))
	}
	if rank+len(pairs) >= maxContractAxes {
		panic(fmt.Sprintf("contract: rank %d with %d pairs exceeds the contraction index space", rank, len(pairs)))
	}

	paired := make([]int, rank) // 0 = free, else 1-based pair id
	for id, p := range pairs {
		i, j := p[0]+shift, p[1]+shift
		if i < 0 || i >= rank || j < 0 || j >= rank {
			panic(fmt.Sprintf("contract: pair (%d,%d) out of range for rank %d with shift %d", p[0], p[1], rank, shift))
		}
		if i == j || paired[i] != 0 || paired[j] != 0 {
			panic(fmt.Sprintf("contract: axis reused in pairs %v", pairs))
		}
		if t.shape[i] != t.shape[j] {
			panic(fmt.Sprintf("contract: axes %d and %d have different sizes %d vs %d", i, j, t.shape[i], t.shape[j]))
		}
		paired[i], paired[j] = id+1, id+1
	}

	var outShape Shape
	var free []int
	for i, dim := range t.shape {
		if paired[i] == 0 {
			outShape = append(outShape, dim)
			free = append(free, i)
		}
	}

	out := Zeros(outShape)
	outStrides := outShape.ComputeStrides()
	idx := make([]int, rank)
	for flat := 0; ; flat++ {
		onDiagonal := true
		for _, p := range pairs {
			if idx[p[0]+shift] != idx[p[1]+shift] {
				onDiagonal = false
				break
			}
		}
		if onDiagonal {
			dst := 0
			for j, src := range free {
				dst += idx[src] * outStrides[j]
			}
			out.data[dst] += t.data[flat]
		}
		if !nextIndex(idx, t.shape) {
			break
		}
	}
	return out
}
