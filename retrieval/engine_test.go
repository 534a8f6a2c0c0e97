package retrieval

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
	"github.com/hupe1980/scanngo/distance"
	"github.com/hupe1980/scanngo/kmeanstree"
	"github.com/hupe1980/scanngo/projection"
)

func randomDataset(t *testing.T, n, dim int, seed int64) *dataset.DenseDataset[float32] {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	ds, err := dataset.NewDenseDataset[float32](dim)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		require.NoError(t, ds.Append(row))
	}
	return ds
}

// naiveSearch is the reference implementation: full scan and sort.
func naiveSearch(ds *dataset.DenseDataset[float32], measure distance.Func, query []float32, k int) []Neighbor {
	out := make([]Neighbor, ds.Size())
	for i := range out {
		out[i] = Neighbor{ID: uint32(i), Distance: measure(query, ds.Row(i))}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func TestNewValidation(t *testing.T) {
	empty, err := dataset.NewDenseDataset[float32](4)
	require.NoError(t, err)
	_, err = New(empty, "L2Distance")
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	ds := randomDataset(t, 10, 4, 1)
	_, err = New(ds, "NoSuchDistance")
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = New(ds, "L2Distance", func(o *Options) { o.NProbe = 0 })
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = New(ds, "L2Distance", func(o *Options) { o.TokenSequences = make([][]uint32, 3) })
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestSearchValidation(t *testing.T) {
	ds := randomDataset(t, 10, 4, 2)
	e, err := New(ds, "L2Distance")
	require.NoError(t, err)

	_, err = e.Search(context.Background(), ds.Row(0), 0)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = e.Search(context.Background(), []float32{1, 2}, 3)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestBruteForceMatchesNaive(t *testing.T) {
	ds := randomDataset(t, 257, 8, 3)

	for _, measureName := range []string{"SquaredL2Distance", "DotProductDistance", "CosineDistance"} {
		t.Run(measureName, func(t *testing.T) {
			e, err := New(ds, measureName)
			require.NoError(t, err)

			measure, err := distance.ByName(measureName)
			require.NoError(t, err)

			query := ds.Row(42)
			got, err := e.Search(context.Background(), query, 10)
			require.NoError(t, err)
			assert.Equal(t, naiveSearch(ds, measure, query, 10), got)
		})
	}
}

func TestDotProductRanking(t *testing.T) {
	// 100 points, 8 dimensions, k=5: ids come back ranked by descending
	// dot product with the query.
	ds := randomDataset(t, 100, 8, 4)

	e, err := New(ds, "DotProductDistance")
	require.NoError(t, err)

	query := ds.Row(7)
	got, err := e.Search(context.Background(), query, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	measure, err := distance.ByName("DotProductDistance")
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	// DotProductDistance is the negated dot product, so ascending distance
	// is descending dot product.
	assert.Equal(t, naiveSearch(ds, measure, query, 5), got)
	for _, nb := range got {
		assert.Equal(t, measure(query, ds.Row(int(nb.ID))), nb.Distance)
	}
}

func TestSearchKLargerThanDataset(t *testing.T) {
	ds := randomDataset(t, 6, 4, 5)
	e, err := New(ds, "L2Distance")
	require.NoError(t, err)

	got, err := e.Search(context.Background(), ds.Row(0), 50)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestTieBreakAscendingID(t *testing.T) {
	ds, err := dataset.NewDenseDataset[float32](2)
	require.NoError(t, err)
	// Three identical rows plus one distant row.
	require.NoError(t, ds.Append([]float32{1, 1}))
	require.NoError(t, ds.Append([]float32{1, 1}))
	require.NoError(t, ds.Append([]float32{1, 1}))
	require.NoError(t, ds.Append([]float32{50, 50}))

	e, err := New(ds, "SquaredL2Distance")
	require.NoError(t, err)

	got, err := e.Search(context.Background(), []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(0), got[0].ID)
	assert.Equal(t, uint32(1), got[1].ID)
	assert.Equal(t, uint32(2), got[2].ID)
}

func TestPartitionedSearchFullProbeMatchesBruteForce(t *testing.T) {
	ds := randomDataset(t, 300, 8, 6)

	opts := kmeanstree.DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 50
	tree, err := kmeanstree.Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	e, err := New(ds, "SquaredL2Distance", func(o *Options) { o.NProbe = tree.NumLeaves() })
	require.NoError(t, err)

	query := ds.Row(13)
	exact, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)

	require.NoError(t, e.SetPartitioner(tree, nil))

	// Probing every leaf covers the whole dataset, so the approximate
	// search degenerates to exact.
	got, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)
	assert.Equal(t, exact, got)
}

func TestPartitionedSearchSingleProbe(t *testing.T) {
	ds := randomDataset(t, 300, 8, 7)

	opts := kmeanstree.DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 50
	tree, err := kmeanstree.Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	e, err := New(ds, "SquaredL2Distance")
	require.NoError(t, err)
	require.NoError(t, e.SetPartitioner(tree, nil))

	// A stored point's nearest leaf contains the point itself, so probing
	// one leaf must return it as the top hit.
	query := ds.Row(99)
	got, err := e.Search(context.Background(), query, 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, uint32(99), got[0].ID)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestSpilledPointScoredOnce(t *testing.T) {
	ds := randomDataset(t, 200, 6, 8)

	opts := kmeanstree.DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 50
	opts.SpillingType = kmeanstree.AdditiveSpilling
	opts.PerNodeSpillingFactor = 1e12
	opts.MaxSpillCenters = 2
	tree, err := kmeanstree.Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	e, err := New(ds, "SquaredL2Distance", func(o *Options) { o.NProbe = tree.NumLeaves() })
	require.NoError(t, err)
	require.NoError(t, e.SetPartitioner(tree, nil))

	got, err := e.Search(context.Background(), ds.Row(0), 200)
	require.NoError(t, err)

	seen := make(map[uint32]bool, len(got))
	for _, nb := range got {
		assert.False(t, seen[nb.ID], "id %d returned twice", nb.ID)
		seen[nb.ID] = true
	}
	assert.Len(t, got, ds.Size())
}

func TestPartitionedSearchWithProjection(t *testing.T) {
	ds := randomDataset(t, 200, 16, 9)

	proj, err := projection.NewRandomOrthogonal(16, 8, 123)
	require.NoError(t, err)

	// Train the tree in the projected space.
	projected, err := dataset.NewDenseDataset[float32](8)
	require.NoError(t, err)
	for i := 0; i < ds.Size(); i++ {
		row, err := proj.Project(ds.Row(i))
		require.NoError(t, err)
		require.NoError(t, projected.Append(row))
	}

	opts := kmeanstree.DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 50
	tree, err := kmeanstree.Train(context.Background(), projected, "SquaredL2Distance", opts)
	require.NoError(t, err)

	e, err := New(ds, "SquaredL2Distance", func(o *Options) { o.NProbe = tree.NumLeaves() })
	require.NoError(t, err)

	// Dimensions must line up between projection and tree.
	assert.Error(t, e.SetPartitioner(tree, nil))
	require.NoError(t, e.SetPartitioner(tree, proj))

	query := ds.Row(5)
	exact := naiveSearch(ds, mustMeasure(t, "SquaredL2Distance"), query, 10)

	got, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)
	assert.Equal(t, exact, got)
}

func mustMeasure(t *testing.T, name string) distance.Func {
	t.Helper()
	m, err := distance.ByName(name)
	require.NoError(t, err)
	return m
}

func TestSetPartitionerSwap(t *testing.T) {
	ds := randomDataset(t, 100, 8, 10)

	e, err := New(ds, "SquaredL2Distance")
	require.NoError(t, err)

	query := ds.Row(0)
	before, err := e.Search(context.Background(), query, 5)
	require.NoError(t, err)

	opts := kmeanstree.DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 25
	tree, err := kmeanstree.Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)
	require.NoError(t, e.SetPartitioner(tree, nil))

	after, err := e.Search(context.Background(), query, 5)
	require.NoError(t, err)
	assert.Equal(t, before[0], after[0])

	// Clearing the partitioner restores exact brute force.
	require.NoError(t, e.SetPartitioner(nil, nil))
	cleared, err := e.Search(context.Background(), query, 5)
	require.NoError(t, err)
	assert.Equal(t, before, cleared)
}

func TestSearchCancellation(t *testing.T) {
	ds := randomDataset(t, 100, 8, 11)
	e, err := New(ds, "SquaredL2Distance")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Search(ctx, ds.Row(0), 5)
	assert.ErrorIs(t, err, context.Canceled)
}

// rowEmbedder maps a chunk to the dataset row indexed by its first
// token, so neighbor expectations are exact. It counts calls to expose
// cache behavior.
type rowEmbedder struct {
	ds    *dataset.DenseDataset[float32]
	calls int
}

func (f *rowEmbedder) Embed(_ context.Context, tokens []uint32) ([]float32, error) {
	f.calls++
	row := f.ds.Row(int(tokens[0]) % f.ds.Size())
	out := make([]float32, len(row))
	copy(out, row)
	return out, nil
}

func TestRetrieveChunks(t *testing.T) {
	ds := randomDataset(t, 50, 8, 12)

	sequences := make([][]uint32, ds.Size())
	for i := range sequences {
		sequences[i] = []uint32{uint32(i), uint32(i) + 1000}
	}

	embedder := &rowEmbedder{ds: ds}
	e, err := New(ds, "SquaredL2Distance", func(o *Options) {
		o.Embedder = embedder
		o.TokenSequences = sequences
		o.NumNeighbors = 2
	})
	require.NoError(t, err)

	// 10 tokens, chunk size 3: three chunks, trailing token dropped.
	tokens := []uint32{4, 4, 4, 9, 9, 9, 4, 4, 4, 7}
	got, err := e.RetrieveChunks(context.Background(), tokens, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Each chunk embeds to an exact dataset row, so its nearest neighbor
	// is that row and the returned sequence is the row's stored one.
	assert.Equal(t, sequences[4], got[0][0])
	assert.Equal(t, sequences[9], got[1][0])
	assert.Equal(t, sequences[4], got[2][0])
	for _, chunkNeighbors := range got {
		assert.Len(t, chunkNeighbors, 2)
	}

	// Chunks one and three are identical; the embedding cache absorbs the
	// repeat.
	assert.Equal(t, 2, embedder.calls)
}

func TestRetrieveChunksValidation(t *testing.T) {
	ds := randomDataset(t, 10, 4, 13)

	e, err := New(ds, "SquaredL2Distance")
	require.NoError(t, err)

	_, err = e.RetrieveChunks(context.Background(), []uint32{1, 2, 3}, 0)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	// No embedder configured.
	_, err = e.RetrieveChunks(context.Background(), []uint32{1, 2, 3}, 2)
	assert.True(t, errors.Is(err, core.ErrFailedPrecondition))

	e2, err := New(ds, "SquaredL2Distance", func(o *Options) { o.Embedder = &rowEmbedder{ds: ds} })
	require.NoError(t, err)
	_, err = e2.RetrieveChunks(context.Background(), []uint32{1, 2, 3}, 2)
	assert.True(t, errors.Is(err, core.ErrFailedPrecondition))
}

func TestRetrieveChunksShortInput(t *testing.T) {
	ds := randomDataset(t, 10, 4, 14)

	sequences := make([][]uint32, ds.Size())
	e, err := New(ds, "SquaredL2Distance", func(o *Options) {
		o.Embedder = &rowEmbedder{ds: ds}
		o.TokenSequences = sequences
	})
	require.NoError(t, err)

	got, err := e.RetrieveChunks(context.Background(), []uint32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
