package projection

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/internal/math32"
)

// ErrNotFitted is returned when Project is called before a basis exists.
//
// It satisfies errors.Is(err, core.ErrFailedPrecondition).
var ErrNotFitted = fmt.Errorf("%w: projection has not been fitted", core.ErrFailedPrecondition)

// Projection maps input vectors to a lower-dimensional space.
type Projection interface {
	// Project applies the linear map to v. The result has ProjectedDims
	// components.
	Project(v []float32) ([]float32, error)

	// InputDims returns the expected input dimensionality.
	InputDims() int

	// ProjectedDims returns the output dimensionality.
	ProjectedDims() int

	// Directions returns copies of the basis rows.
	Directions() [][]float32
}

// basis is a row-major projectedDims x inputDims matrix shared by the
// concrete projection types. An empty rows slice means "not fitted".
type basis struct {
	inputDims     int
	projectedDims int
	rows          []float32
}

func (b *basis) fitted() bool { return len(b.rows) > 0 }

func (b *basis) row(i int) []float32 {
	return b.rows[i*b.inputDims : (i+1)*b.inputDims]
}

func (b *basis) project(v []float32) ([]float32, error) {
	if !b.fitted() {
		return nil, ErrNotFitted
	}
	if len(v) != b.inputDims {
		return nil, core.InvalidArgumentf("projection input has dimension %d, want %d", len(v), b.inputDims)
	}

	out := make([]float32, b.projectedDims)
	for i := range out {
		out[i] = math32.Dot(b.row(i), v)
	}
	return out, nil
}

func (b *basis) directions() [][]float32 {
	out := make([][]float32, b.projectedDims)
	for i := range out {
		out[i] = make([]float32, b.inputDims)
		copy(out[i], b.row(i))
	}
	return out
}

func validateDims(inputDims, projectedDims int) error {
	if inputDims <= 0 {
		return core.InvalidArgumentf("input dimensionality must be > 0, got %d", inputDims)
	}
	if projectedDims <= 0 {
		return core.InvalidArgumentf("projected dimensionality must be > 0, got %d", projectedDims)
	}
	if projectedDims > inputDims {
		return core.InvalidArgumentf("projected dimensionality %d exceeds input dimensionality %d", projectedDims, inputDims)
	}
	return nil
}

// orthonormalRows fills a rows x dims matrix with seeded Gaussian entries
// and orthonormalizes it with modified Gram-Schmidt. Deterministic for a
// fixed seed.
func orthonormalRows(rows, dims int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))

	m := make([]float32, rows*dims)
	for i := range m {
		m[i] = float32(rng.NormFloat64())
	}

	for i := 0; i < rows; i++ {
		ri := m[i*dims : (i+1)*dims]
		for j := 0; j < i; j++ {
			rj := m[j*dims : (j+1)*dims]
			math32.Axpy(-math32.Dot(ri, rj), rj, ri)
		}
		norm := math32.Norm(ri)
		if norm > 1e-10 {
			math32.ScaleInPlace(ri, 1/norm)
		} else {
			// Degenerate draw; retry this row with fresh randomness.
			for k := range ri {
				ri[k] = float32(rng.NormFloat64())
			}
			i--
		}
	}
	return m
}
