// Package projection provides dimensionality-reduction transforms for
// vector datasets.
//
// Two construction paths exist. PCA learns a basis from the data covariance
// via a Jacobi eigendecomposition and keeps the top eigenvectors. A random
// orthogonal basis is generated analytically from a seed and needs no
// training pass; it can also rotate a fitted PCA basis in place to
// decorrelate axis-aligned quantization error while preserving the subspace.
//
// Projection is the exact linear map projected[i] = dot(basis[i], input).
// Given the same basis and seed the projected coordinates are reproducible
// bit-for-bit, which downstream partitioner training depends on.
package projection
