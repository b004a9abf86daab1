package group

// PermutationParity returns +1 for an even permutation, -1 for an odd one,
// and 0 if the sequence repeats a value. Sequences of length n must consist
// of values from {0, 1, ..., n-1}; the sign is derived from the cycle
// decomposition (n minus the number of cycles).
func PermutationParity(pi []int) int {
	n := len(pi)
	seen := make(map[int]bool, n)
	for _, v := range pi {
		if v < 0 || v >= n || seen[v] {
			return 0
		}
		seen[v] = true
	}

	visited := make([]bool, n)
	cycles := 0
	for j := 0; j < n; j++ {
		if visited[j] {
			continue
		}
		cycles++
		for i := j; !visited[i]; i = pi[i] {
			visited[i] = true
		}
	}

	if (n-cycles)%2 == 1 {
		return -1
	}
	return 1
}
