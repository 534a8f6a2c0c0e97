package projection

import (
	"io"
	"math"
	"sort"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
	"github.com/hupe1980/scanngo/internal/math32"
	"github.com/hupe1980/scanngo/persistence"
)

// PCA projects vectors onto the top principal components of a dataset.
//
// A PCA instance is fitted once and read-only afterwards; retraining or
// rotating replaces the basis wholesale.
type PCA struct {
	basis
	eigenvalues []float32
}

// NewPCA creates an unfitted PCA projection. projectedDims must not exceed
// inputDims.
func NewPCA(inputDims, projectedDims int) (*PCA, error) {
	if err := validateDims(inputDims, projectedDims); err != nil {
		return nil, err
	}
	return &PCA{basis: basis{inputDims: inputDims, projectedDims: projectedDims}}, nil
}

// Fit learns the basis from the dataset covariance and keeps the top
// ProjectedDims eigenvectors by descending eigenvalue. When center is true
// the covariance is computed around the dataset mean.
func (p *PCA) Fit(ds *dataset.DenseDataset[float32], center bool) error {
	values, vectors, err := p.eigendecompose(ds, center)
	if err != nil {
		return err
	}

	p.install(values, vectors, p.projectedDims)
	return nil
}

// FitWithThresholds learns the basis like Fit but picks the output
// dimensionality from the spectrum: it keeps the leading eigenvectors until
// they cover the significance fraction of total variance, and drops any
// eigenvector whose eigenvalue falls below truncation times the largest.
// ProjectedDims reflects the kept count afterwards.
func (p *PCA) FitWithThresholds(ds *dataset.DenseDataset[float32], significance, truncation float32, center bool) error {
	if significance <= 0 || significance > 1 {
		return core.InvalidArgumentf("significance must be in (0, 1], got %v", significance)
	}
	if truncation < 0 || truncation >= 1 {
		return core.InvalidArgumentf("truncation must be in [0, 1), got %v", truncation)
	}

	values, vectors, err := p.eigendecompose(ds, center)
	if err != nil {
		return err
	}

	var total float32
	for _, v := range values {
		if v > 0 {
			total += v
		}
	}

	keep := 1
	if total > 0 {
		var covered float32
		keep = 0
		for _, v := range values {
			if covered >= significance*total {
				break
			}
			if v < truncation*values[0] {
				break
			}
			covered += v
			keep++
		}
		if keep == 0 {
			keep = 1
		}
	}

	p.install(values, vectors, keep)
	return nil
}

// RandomRotate replaces the fitted basis with a seeded orthogonal
// recombination of its rows. The spanned subspace is unchanged, so distances
// in the projected space are preserved up to rounding.
func (p *PCA) RandomRotate(seed int64) error {
	if !p.fitted() {
		return ErrNotFitted
	}

	rot := orthonormalRows(p.projectedDims, p.projectedDims, seed)

	rotated := make([]float32, p.projectedDims*p.inputDims)
	for i := 0; i < p.projectedDims; i++ {
		out := rotated[i*p.inputDims : (i+1)*p.inputDims]
		for k := 0; k < p.projectedDims; k++ {
			math32.Axpy(rot[i*p.projectedDims+k], p.row(k), out)
		}
	}

	p.rows = rotated
	return nil
}

// Project applies the learned linear map to v.
func (p *PCA) Project(v []float32) ([]float32, error) { return p.project(v) }

// InputDims returns the expected input dimensionality.
func (p *PCA) InputDims() int { return p.inputDims }

// ProjectedDims returns the output dimensionality. After FitWithThresholds
// this is the kept eigenvector count, not the constructor argument.
func (p *PCA) ProjectedDims() int { return p.projectedDims }

// Directions returns copies of the basis rows.
func (p *PCA) Directions() [][]float32 { return p.directions() }

// Eigenvalues returns the eigenvalues of the kept components, descending.
func (p *PCA) Eigenvalues() []float32 {
	out := make([]float32, len(p.eigenvalues))
	copy(out, p.eigenvalues)
	return out
}

// Save writes the fitted basis to filename.
func (p *PCA) Save(filename string) error {
	if !p.fitted() {
		return ErrNotFitted
	}

	return persistence.SaveToFile(filename, persistence.CompressionZstd, func(w io.Writer) error {
		bw := persistence.NewBinaryWriter(w)
		if err := bw.WriteUint32(uint32(p.inputDims)); err != nil {
			return err
		}
		if err := bw.WriteUint32(uint32(p.projectedDims)); err != nil {
			return err
		}
		if err := bw.WriteFloat32Slice(p.rows); err != nil {
			return err
		}
		if err := bw.WriteUint32(uint32(len(p.eigenvalues))); err != nil {
			return err
		}
		return bw.WriteFloat32Slice(p.eigenvalues)
	})
}

// LoadPCA reads a basis written by Save. A file describing an empty basis is
// an InvalidArgument error.
func LoadPCA(filename string) (*PCA, error) {
	var p *PCA

	err := persistence.LoadFromFile(filename, func(r io.Reader) error {
		br := persistence.NewBinaryReader(r)

		inputDims, err := br.ReadUint32()
		if err != nil {
			return err
		}
		projectedDims, err := br.ReadUint32()
		if err != nil {
			return err
		}
		if inputDims == 0 || projectedDims == 0 {
			return core.InvalidArgumentf("serialized projection basis is empty")
		}
		if projectedDims > inputDims {
			return core.InvalidArgumentf("serialized basis has %d rows for %d input dimensions", projectedDims, inputDims)
		}

		rows, err := br.ReadFloat32Slice(int(projectedDims) * int(inputDims))
		if err != nil {
			return err
		}
		numValues, err := br.ReadUint32()
		if err != nil {
			return err
		}
		eigenvalues, err := br.ReadFloat32Slice(int(numValues))
		if err != nil {
			return err
		}

		p = &PCA{
			basis: basis{
				inputDims:     int(inputDims),
				projectedDims: int(projectedDims),
				rows:          rows,
			},
			eigenvalues: eigenvalues,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// install copies the top keep eigenpairs into the projection state.
func (p *PCA) install(values []float32, vectors [][]float32, keep int) {
	p.projectedDims = keep
	p.rows = make([]float32, keep*p.inputDims)
	p.eigenvalues = make([]float32, keep)
	for i := 0; i < keep; i++ {
		copy(p.rows[i*p.inputDims:(i+1)*p.inputDims], vectors[i])
		p.eigenvalues[i] = values[i]
	}
}

// eigendecompose computes the covariance spectrum of the dataset, sorted by
// descending eigenvalue. vectors[i] is the eigenvector for values[i].
func (p *PCA) eigendecompose(ds *dataset.DenseDataset[float32], center bool) ([]float32, [][]float32, error) {
	if ds == nil || ds.Size() == 0 {
		return nil, nil, core.InvalidArgumentf("cannot fit projection on an empty dataset")
	}
	if ds.Dimensionality() != p.inputDims {
		return nil, nil, core.InvalidArgumentf("dataset has dimensionality %d, want %d", ds.Dimensionality(), p.inputDims)
	}

	cov := covariance(ds, center)
	values, vectors := jacobiEigen(cov)

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	sortedValues := make([]float32, len(values))
	sortedVectors := make([][]float32, len(values))
	for i, idx := range order {
		sortedValues[i] = values[idx]
		sortedVectors[i] = vectors[idx]
	}
	return sortedValues, sortedVectors, nil
}

// covariance returns the dim x dim covariance matrix of the dataset rows.
func covariance(ds *dataset.DenseDataset[float32], center bool) [][]float32 {
	dim := ds.Dimensionality()
	n := ds.Size()

	mean := make([]float32, dim)
	if center {
		for i := 0; i < n; i++ {
			math32.Axpy(1, ds.Row(i), mean)
		}
		math32.ScaleInPlace(mean, 1/float32(n))
	}

	cov := make([][]float32, dim)
	for i := range cov {
		cov[i] = make([]float32, dim)
	}

	centered := make([]float32, dim)
	for r := 0; r < n; r++ {
		row := ds.Row(r)
		for j := range centered {
			centered[j] = row[j] - mean[j]
		}
		for i := 0; i < dim; i++ {
			ci := centered[i]
			for j := i; j < dim; j++ {
				cov[i][j] += ci * centered[j]
			}
		}
	}

	norm := float32(1)
	if n > 1 {
		norm = 1 / float32(n-1)
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov[i][j] *= norm
			cov[j][i] = cov[i][j]
		}
	}
	return cov
}

// jacobiEigen diagonalizes a symmetric matrix with cyclic Jacobi rotations.
// Returns eigenvalues and the matching eigenvectors (vectors[i] pairs with
// values[i]). Suitable for the small matrices seen here (dim < a few hundred).
func jacobiEigen(a [][]float32) ([]float32, [][]float32) {
	n := len(a)

	// Work on a copy; a stays intact.
	m := make([][]float32, n)
	for i := range m {
		m[i] = make([]float32, n)
		copy(m[i], a[i])
	}

	// Accumulate rotations into V (columns are eigenvectors).
	v := make([][]float32, n)
	for i := range v {
		v[i] = make([]float32, n)
		v[i][i] = 1
	}

	const tol = 1e-9
	const maxSweeps = 100

	for sweep := 0; sweep < maxSweeps; sweep++ {
		var off float64
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				off += float64(m[i][j]) * float64(m[i][j])
			}
		}
		if off < tol {
			break
		}

		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				if m[i][j] == 0 {
					continue
				}
				rotateSymmetric(m, v, i, j)
			}
		}
	}

	values := make([]float32, n)
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		values[i] = m[i][i]
		vectors[i] = make([]float32, n)
		for k := 0; k < n; k++ {
			vectors[i][k] = v[k][i]
		}
	}
	return values, vectors
}

// rotateSymmetric zeroes m[i][j] with a Jacobi rotation, updating m
// symmetrically and accumulating the rotation into v.
func rotateSymmetric(m, v [][]float32, i, j int) {
	n := len(m)

	theta := float64(m[j][j]-m[i][i]) / (2 * float64(m[i][j]))
	var t float64
	if theta >= 0 {
		t = 1 / (theta + math.Sqrt(1+theta*theta))
	} else {
		t = -1 / (-theta + math.Sqrt(1+theta*theta))
	}
	c := 1 / math.Sqrt(1+t*t)
	s := c * t

	cf, sf := float32(c), float32(s)

	for k := 0; k < n; k++ {
		mki := m[k][i]
		mkj := m[k][j]
		m[k][i] = cf*mki - sf*mkj
		m[k][j] = sf*mki + cf*mkj
	}
	for k := 0; k < n; k++ {
		mik := m[i][k]
		mjk := m[j][k]
		m[i][k] = cf*mik - sf*mjk
		m[j][k] = sf*mik + cf*mjk
	}
	for k := 0; k < n; k++ {
		vki := v[k][i]
		vkj := v[k][j]
		v[k][i] = cf*vki - sf*vkj
		v[k][j] = sf*vki + cf*vkj
	}
}
