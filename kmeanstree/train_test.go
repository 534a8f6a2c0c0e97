package kmeanstree

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
)

// blobDataset builds numBlobs tight Gaussian blobs of perBlob points each.
// Row i belongs to blob i/perBlob.
func blobDataset(t *testing.T, numBlobs, perBlob, dim int, seed int64) *dataset.DenseDataset[float32] {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	ds, err := dataset.NewDenseDataset[float32](dim)
	require.NoError(t, err)

	for b := 0; b < numBlobs; b++ {
		center := make([]float32, dim)
		for j := range center {
			center[j] = float32(rng.NormFloat64() * 20)
		}
		for i := 0; i < perBlob; i++ {
			row := make([]float32, dim)
			for j := range row {
				row[j] = center[j] + float32(rng.NormFloat64()*0.1)
			}
			require.NoError(t, ds.Append(row))
		}
	}
	return ds
}

func TestTrainingOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainingOptions)
	}{
		{name: "ZeroMaxLeafSize", mutate: func(o *TrainingOptions) { o.MaxLeafSize = 0 }},
		{name: "MinExceedsMax", mutate: func(o *TrainingOptions) { o.MinClusterSize = 300; o.MaxLeafSize = 100 }},
		{name: "ZeroLevels", mutate: func(o *TrainingOptions) { o.MaxNumLevels = 0 }},
		{name: "ZeroIterations", mutate: func(o *TrainingOptions) { o.MaxIterations = 0 }},
		{name: "NegativeEpsilon", mutate: func(o *TrainingOptions) { o.ConvergenceEpsilon = -1 }},
		{name: "NegativeSpillCenters", mutate: func(o *TrainingOptions) { o.MaxSpillCenters = -1 }},
		{name: "BadMultiplicativeFactor", mutate: func(o *TrainingOptions) {
			o.SpillingType = MultiplicativeSpilling
			o.PerNodeSpillingFactor = 0.5
		}},
		{name: "BadAdditiveFactor", mutate: func(o *TrainingOptions) {
			o.SpillingType = AdditiveSpilling
			o.PerNodeSpillingFactor = -0.5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultTrainingOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidArgument))
		})
	}

	assert.NoError(t, DefaultTrainingOptions().Validate())
}

func TestTrainErrors(t *testing.T) {
	ctx := context.Background()

	empty, err := dataset.NewDenseDataset[float32](4)
	require.NoError(t, err)
	_, err = Train(ctx, empty, "SquaredL2Distance", DefaultTrainingOptions())
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	ds := blobDataset(t, 2, 10, 4, 1)
	_, err = Train(ctx, ds, "NoSuchDistance", DefaultTrainingOptions())
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	bad := DefaultTrainingOptions()
	bad.MinClusterSize = bad.MaxLeafSize + 1
	_, err = Train(ctx, ds, "SquaredL2Distance", bad)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestTrainSingleLeaf(t *testing.T) {
	ds := blobDataset(t, 1, 20, 4, 2)

	opts := DefaultTrainingOptions()
	opts.MaxLeafSize = 100

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	assert.Equal(t, 1, tree.NumLeaves())
	assert.Equal(t, 0, tree.NumLevels())
	assert.Equal(t, uint64(20), tree.Leaf(0).GetCardinality())

	leaves, err := tree.NearestLeaves(ds.Row(0), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, leaves)
}

func TestTrainFlatPartitioning(t *testing.T) {
	const numBlobs, perBlob = 5, 40
	ds := blobDataset(t, numBlobs, perBlob, 8, 3)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = perBlob
	opts.MaxIterations = 25

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	assert.Equal(t, numBlobs, tree.NumLeaves())
	assert.Equal(t, 1, tree.NumLevels())

	// Without spilling every point lives in exactly one leaf.
	all := make([]*roaring.Bitmap, tree.NumLeaves())
	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		all[i] = tree.Leaf(i)
		total += all[i].GetCardinality()
	}
	union := roaring.FastOr(all...)
	assert.Equal(t, uint64(ds.Size()), union.GetCardinality())
	assert.Equal(t, uint64(ds.Size()), total)

	// Nearest-leaf descent agrees with training assignment: each point's
	// own nearest leaf contains it.
	for i := 0; i < ds.Size(); i++ {
		leaves, err := tree.NearestLeaves(ds.Row(i), 1)
		require.NoError(t, err)
		require.Len(t, leaves, 1)
		assert.True(t, tree.Leaf(leaves[0]).Contains(uint32(i)), "point %d missing from its nearest leaf", i)
	}
}

func TestTrainDeterministic(t *testing.T) {
	ds := blobDataset(t, 4, 30, 6, 5)

	opts := DefaultTrainingOptions()
	opts.MaxLeafSize = 30
	opts.Seed = 7

	a, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)
	b, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	require.Equal(t, a.NumLeaves(), b.NumLeaves())
	for i := 0; i < a.NumLeaves(); i++ {
		assert.True(t, a.Leaf(i).Equals(b.Leaf(i)), "leaf %d differs between runs", i)
	}
	assert.Equal(t, a.centers, b.centers)
}

func TestGreedyBalancedBounds(t *testing.T) {
	ds := blobDataset(t, 4, 50, 6, 11)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 50
	opts.MinClusterSize = 20
	opts.BalancingType = GreedyBalancedPartitioning

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	for i := 0; i < tree.NumLeaves(); i++ {
		n := int(tree.Leaf(i).GetCardinality())
		assert.GreaterOrEqual(t, n, opts.MinClusterSize, "leaf %d below min", i)
		assert.LessOrEqual(t, n, opts.MaxLeafSize, "leaf %d above max", i)
	}
}

func TestAdditiveSpilling(t *testing.T) {
	ds := blobDataset(t, 4, 40, 6, 13)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 40
	opts.SpillingType = AdditiveSpilling
	opts.PerNodeSpillingFactor = 1e12 // generous: everything spills
	opts.MaxSpillCenters = 1

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		total += tree.Leaf(i).GetCardinality()
	}
	// Every point gains exactly one extra leaf under this slack.
	assert.Equal(t, uint64(2*ds.Size()), total)
}

func TestMultiplicativeSpillingBounded(t *testing.T) {
	ds := blobDataset(t, 4, 40, 6, 13)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 40
	opts.SpillingType = MultiplicativeSpilling
	opts.PerNodeSpillingFactor = 2
	opts.MaxSpillCenters = 1

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		total += tree.Leaf(i).GetCardinality()
	}
	// Replication stays within the spill cap.
	assert.GreaterOrEqual(t, total, uint64(ds.Size()))
	assert.LessOrEqual(t, total, uint64(2*ds.Size()))
}

func TestFixedNumberOfSpills(t *testing.T) {
	ds := blobDataset(t, 4, 40, 6, 17)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 40
	opts.SpillingType = FixedNumberOfSpills
	opts.MaxSpillCenters = 2

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		total += tree.Leaf(i).GetCardinality()
	}
	assert.Equal(t, uint64(3*ds.Size()), total)
}

func TestTrainRecursion(t *testing.T) {
	ds := blobDataset(t, 8, 50, 6, 19)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 2
	opts.MaxLeafSize = 60
	opts.BalancingType = GreedyBalancedPartitioning

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, tree.NumLevels(), 1)
	assert.LessOrEqual(t, tree.NumLevels(), 2)

	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		n := tree.Leaf(i).GetCardinality()
		assert.LessOrEqual(t, int(n), opts.MaxLeafSize)
		total += n
	}
	assert.Equal(t, uint64(ds.Size()), total)
}

func TestSphericalPartitioning(t *testing.T) {
	ds := blobDataset(t, 3, 30, 8, 23)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 1
	opts.MaxLeafSize = 30
	opts.PartitioningType = SphericalPartitioning

	tree, err := Train(context.Background(), ds, "DotProductDistance", opts)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.NumLeaves())

	var total uint64
	for i := 0; i < tree.NumLeaves(); i++ {
		total += tree.Leaf(i).GetCardinality()
	}
	assert.Equal(t, uint64(ds.Size()), total)
}

func TestTrainCancellation(t *testing.T) {
	ds := blobDataset(t, 4, 50, 6, 29)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, ds, "SquaredL2Distance", DefaultTrainingOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNearestLeavesValidation(t *testing.T) {
	ds := blobDataset(t, 2, 20, 4, 31)

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", DefaultTrainingOptions())
	require.NoError(t, err)

	_, err = tree.NearestLeaves(ds.Row(0), 0)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = tree.NearestLeaves([]float32{1, 2}, 1)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestTreeSaveLoad(t *testing.T) {
	ds := blobDataset(t, 4, 40, 6, 37)

	opts := DefaultTrainingOptions()
	opts.MaxNumLevels = 2
	opts.MaxLeafSize = 50

	tree, err := Train(context.Background(), ds, "SquaredL2Distance", opts)
	require.NoError(t, err)

	filename := filepath.Join(t.TempDir(), "partitioner.bin")
	require.NoError(t, tree.Save(filename))

	loaded, err := Load(filename)
	require.NoError(t, err)

	assert.Equal(t, tree.Dimensionality(), loaded.Dimensionality())
	assert.Equal(t, tree.MeasureName(), loaded.MeasureName())
	assert.Equal(t, tree.NumLevels(), loaded.NumLevels())
	require.Equal(t, tree.NumLeaves(), loaded.NumLeaves())
	for i := 0; i < tree.NumLeaves(); i++ {
		assert.True(t, tree.Leaf(i).Equals(loaded.Leaf(i)), "leaf %d differs after round trip", i)
	}

	// Query behavior carries over.
	for i := 0; i < ds.Size(); i += 17 {
		want, err := tree.NearestLeaves(ds.Row(i), 2)
		require.NoError(t, err)
		got, err := loaded.NearestLeaves(ds.Row(i), 2)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
