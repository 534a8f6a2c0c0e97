package projection

// RandomOrthogonal is a seeded random orthonormal projection. It needs no
// training pass: the basis is generated at construction from Gaussian rows
// orthonormalized with Gram-Schmidt, and is deterministic for a fixed seed.
type RandomOrthogonal struct {
	basis
	seed int64
}

// NewRandomOrthogonal creates a random orthogonal projection.
func NewRandomOrthogonal(inputDims, projectedDims int, seed int64) (*RandomOrthogonal, error) {
	if err := validateDims(inputDims, projectedDims); err != nil {
		return nil, err
	}
	return &RandomOrthogonal{
		basis: basis{
			inputDims:     inputDims,
			projectedDims: projectedDims,
			rows:          orthonormalRows(projectedDims, inputDims, seed),
		},
		seed: seed,
	}, nil
}

// Project applies the linear map to v.
func (r *RandomOrthogonal) Project(v []float32) ([]float32, error) { return r.project(v) }

// InputDims returns the expected input dimensionality.
func (r *RandomOrthogonal) InputDims() int { return r.inputDims }

// ProjectedDims returns the output dimensionality.
func (r *RandomOrthogonal) ProjectedDims() int { return r.projectedDims }

// Directions returns copies of the basis rows.
func (r *RandomOrthogonal) Directions() [][]float32 { return r.directions() }

// Seed returns the seed the basis was generated from.
func (r *RandomOrthogonal) Seed() int64 { return r.seed }
