// Package geom implements geometric images: D-dimensional grids whose
// pixels are rank-k tensors over the same D-dimensional space, together
// with the algebra (tensor product, contraction, group action, norm), a
// torus-aware convolution engine, and the construction of convolution
// filters that are invariant under the signed-permutation group B_D.
//
// The package is split into two levels, mirroring how the operations are
// consumed. Pure functions (Mul, Multicontract, Convolve, ConvolveContract,
// TimesGroupElement, ...) operate on raw tensor.Dense data plus the
// dimension D, and are the building blocks for batched and channel-stacked
// pipelines. The value types (GeometricImage, GeometricFilter,
// BatchGeometricImage, Layer, BatchLayer) wrap the same functions with
// shape validation and carry the tensor order k, the parity, and the torus
// flag.
//
// All failure conditions are caller contract violations (wrong dimensions,
// mismatched shapes, unsupported ranks) and panic at the violated
// precondition. The single advisory condition is invariant-filter
// construction finding no singular value above tolerance, which yields an
// empty filter set rather than an error.
package geom
