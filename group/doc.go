// Package group enumerates the finite point-symmetry group B_D of signed
// permutation matrices (the reflections and 90-degree rotations of a
// D-dimensional grid) and holds the memoized Kronecker-delta and
// Levi-Civita index symbols used by tensor contractions.
//
// A group element is a D x D orthogonal matrix with entries in {-1, 0, 1}
// and exactly one nonzero per row and column. The group has
// 2 * 2^(D-1) * D! elements and is closed under matrix multiplication.
package group
