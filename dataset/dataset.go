// Package dataset provides the canonical dense vector dataset.
//
// A DenseDataset owns the vector memory for a search corpus. All rows share
// one flat backing slice; the configured dimensionality is authoritative and
// enforced on every append. Callers should assume returned slices alias
// internal memory and treat them as read-only.
package dataset

import (
	"fmt"

	"github.com/hupe1980/scanngo/core"
)

// ErrWrongDimension is returned when a vector doesn't match the dataset dimension.
//
// It satisfies errors.Is(err, core.ErrInvalidArgument).
var ErrWrongDimension = fmt.Errorf("%w: wrong vector dimension", core.ErrInvalidArgument)

// Value constrains the element types a dataset can store.
type Value interface {
	~float32 | ~int8
}

// DenseDataset is a dense, equal-dimensionality vector dataset.
//
// It is append-only; rows are immutable once stored. Concurrent reads are
// safe as long as no append is in flight.
type DenseDataset[T Value] struct {
	dim    int
	data   []T
	docids []string // lazily allocated; parallel to rows when present
}

// NewDenseDataset creates an empty dataset with the given dimensionality.
func NewDenseDataset[T Value](dim int) (*DenseDataset[T], error) {
	if dim <= 0 {
		return nil, core.InvalidArgumentf("dimensionality must be > 0, got %d", dim)
	}
	return &DenseDataset[T]{dim: dim}, nil
}

// FromRows creates a dataset from pre-existing rows. Every row must have
// length dim.
func FromRows[T Value](rows [][]T, dim int) (*DenseDataset[T], error) {
	ds, err := NewDenseDataset[T](dim)
	if err != nil {
		return nil, err
	}
	ds.Reserve(len(rows))
	for _, row := range rows {
		if err := ds.Append(row); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Dimensionality returns the declared vector dimensionality.
func (ds *DenseDataset[T]) Dimensionality() int { return ds.dim }

// Size returns the number of stored vectors.
func (ds *DenseDataset[T]) Size() int { return len(ds.data) / ds.dim }

// Reserve pre-allocates capacity for n additional rows.
func (ds *DenseDataset[T]) Reserve(n int) {
	need := len(ds.data) + n*ds.dim
	if cap(ds.data) < need {
		grown := make([]T, len(ds.data), need)
		copy(grown, ds.data)
		ds.data = grown
	}
}

// Append adds a vector to the dataset. The values are copied.
func (ds *DenseDataset[T]) Append(values []T) error {
	return ds.AppendWithDocID(values, "")
}

// AppendWithDocID adds a vector with an associated document identifier.
func (ds *DenseDataset[T]) AppendWithDocID(values []T, docid string) error {
	if len(values) != ds.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrWrongDimension, ds.dim, len(values))
	}
	ds.data = append(ds.data, values...)
	if docid != "" && ds.docids == nil {
		ds.docids = make([]string, ds.Size()-1)
	}
	if ds.docids != nil {
		ds.docids = append(ds.docids, docid)
	}
	return nil
}

// Row returns the i-th vector. The returned slice aliases dataset memory.
func (ds *DenseDataset[T]) Row(i int) []T {
	return ds.data[i*ds.dim : (i+1)*ds.dim : (i+1)*ds.dim]
}

// At returns a non-owning view of the i-th vector.
func (ds *DenseDataset[T]) At(i int) Datapoint[T] {
	return Datapoint[T]{values: ds.Row(i)}
}

// DocID returns the document identifier of row i, or "" if none was set.
func (ds *DenseDataset[T]) DocID(i int) string {
	if ds.docids == nil || i >= len(ds.docids) {
		return ""
	}
	return ds.docids[i]
}

// Data returns the flat row-major backing slice. Read-only for callers.
func (ds *DenseDataset[T]) Data() []T { return ds.data }

// Float32Row converts row i to float32, reusing buf when it has capacity.
// For float32 datasets the row is copied so buf never aliases the store.
func (ds *DenseDataset[T]) Float32Row(i int, buf []float32) []float32 {
	row := ds.Row(i)
	if cap(buf) < ds.dim {
		buf = make([]float32, ds.dim)
	}
	buf = buf[:ds.dim]
	for j, v := range row {
		buf[j] = float32(v)
	}
	return buf
}

// Datapoint is a non-owning view of a single vector. Its lifetime is bounded
// by the dataset (or slice) it was created from.
type Datapoint[T Value] struct {
	values []T
}

// NewDatapoint wraps values in a view without copying.
func NewDatapoint[T Value](values []T) Datapoint[T] {
	return Datapoint[T]{values: values}
}

// Values returns the underlying components.
func (d Datapoint[T]) Values() []T { return d.values }

// Dimensionality returns the number of components.
func (d Datapoint[T]) Dimensionality() int { return len(d.values) }

// Float32 converts the view to float32, reusing buf when it has capacity.
func (d Datapoint[T]) Float32(buf []float32) []float32 {
	if cap(buf) < len(d.values) {
		buf = make([]float32, len(d.values))
	}
	buf = buf[:len(d.values)]
	for i, v := range d.values {
		buf[i] = float32(v)
	}
	return buf
}
