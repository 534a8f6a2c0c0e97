package kmeanstree

import (
	"context"
	"math/rand"
	"runtime"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
	"github.com/hupe1980/scanngo/distance"
	"github.com/hupe1980/scanngo/internal/math32"
)

// Train builds a partitioner tree over the dataset. measureName must be a
// registered distance measure; it is recorded on the tree so the query layer
// can re-score candidates consistently. Training is deterministic for a
// fixed TrainingOptions.Seed.
//
// The returned tree is freshly built; a previously trained tree is never
// touched. Publish the result with an atomic swap at the call site.
func Train(ctx context.Context, ds *dataset.DenseDataset[float32], measureName string, opts TrainingOptions) (*Tree, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || ds.Size() == 0 {
		return nil, core.InvalidArgumentf("cannot train a partitioner on an empty dataset")
	}
	if _, err := distance.ByName(measureName); err != nil {
		return nil, err
	}

	tr := &trainer{
		ds:   ds,
		opts: opts,
		dims: ds.Dimensionality(),
		rng:  rand.New(rand.NewSource(opts.Seed)),
		tree: &Tree{
			dims:         ds.Dimensionality(),
			measureName:  measureName,
			partitioning: opts.PartitioningType,
		},
	}

	ids := make([]uint32, ds.Size())
	for i := range ids {
		ids[i] = uint32(i)
	}

	tr.appendNode() // root
	if err := tr.split(ctx, 0, ids, 0); err != nil {
		return nil, err
	}
	return tr.tree, nil
}

type trainer struct {
	ds   *dataset.DenseDataset[float32]
	opts TrainingOptions
	dims int
	rng  *rand.Rand
	tree *Tree
}

// dist scores a point against a center in the training geometry.
func (t *trainer) dist(a, b []float32) float32 {
	if t.opts.PartitioningType == SphericalPartitioning {
		return -math32.Dot(a, b)
	}
	return math32.SquaredL2(a, b)
}

func (t *trainer) appendNode() int32 {
	idx := int32(len(t.tree.nodes))
	t.tree.nodes = append(t.tree.nodes, node{leaf: -1})
	t.tree.centers = append(t.tree.centers, make([]float32, t.dims)...)
	return idx
}

// split partitions the given points under nodeIdx, recursing while the level
// cap allows and the point set is larger than a leaf.
func (t *trainer) split(ctx context.Context, nodeIdx int32, ids []uint32, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(ids) <= t.opts.MaxLeafSize || level >= t.opts.MaxNumLevels {
		t.makeLeaf(nodeIdx, ids, level)
		return nil
	}

	k := (len(ids) + t.opts.MaxLeafSize - 1) / t.opts.MaxLeafSize
	centers, members, err := t.cluster(ctx, ids, k)
	if err != nil {
		return err
	}

	first := int32(len(t.tree.nodes))
	for c := 0; c < k; c++ {
		childIdx := t.appendNode()
		copy(t.tree.centers[int(childIdx)*t.dims:(int(childIdx)+1)*t.dims], centers[c*t.dims:(c+1)*t.dims])
	}
	t.tree.nodes[nodeIdx].childrenFirst = first
	t.tree.nodes[nodeIdx].childrenCount = int32(k)

	for c := 0; c < k; c++ {
		if err := t.split(ctx, first+int32(c), members[c], level+1); err != nil {
			return err
		}
	}
	return nil
}

func (t *trainer) makeLeaf(nodeIdx int32, ids []uint32, level int) {
	bm := roaring.New()
	bm.AddMany(ids)
	t.tree.nodes[nodeIdx].leaf = int32(len(t.tree.leaves))
	t.tree.leaves = append(t.tree.leaves, bm)
	if level > t.tree.numLevels {
		t.tree.numLevels = level
	}
}

// cluster runs seeded k-means over the given points and returns the final
// centers (flat, row-major) and the per-cluster members, including spilled
// copies.
func (t *trainer) cluster(ctx context.Context, ids []uint32, k int) ([]float32, [][]uint32, error) {
	centers := t.initCenters(ids, k)
	assign := make([]int32, len(ids))
	prev := make([]float32, len(centers))

	for iter := 0; iter < t.opts.MaxIterations; iter++ {
		if err := t.assignPoints(ctx, ids, centers, k, assign); err != nil {
			return nil, nil, err
		}

		copy(prev, centers)
		t.updateCenters(ids, assign, centers, k)

		var movement float32
		for c := 0; c < k; c++ {
			m := math32.SquaredL2(prev[c*t.dims:(c+1)*t.dims], centers[c*t.dims:(c+1)*t.dims])
			if m > movement {
				movement = m
			}
		}
		if movement < t.opts.ConvergenceEpsilon {
			break
		}
	}

	// Final assignment against the final centers.
	if err := t.assignPoints(ctx, ids, centers, k, assign); err != nil {
		return nil, nil, err
	}

	if t.opts.BalancingType == GreedyBalancedPartitioning {
		t.greedyBalance(ids, assign, centers, k)
	}

	return centers, t.buildMembers(ids, assign, centers, k), nil
}

// initCenters samples the initial centers, seeded by the trainer rng.
func (t *trainer) initCenters(ids []uint32, k int) []float32 {
	centers := make([]float32, k*t.dims)

	if t.opts.CenterInitializationType == RandomInitialization {
		perm := t.rng.Perm(len(ids))
		for c := 0; c < k; c++ {
			copy(centers[c*t.dims:(c+1)*t.dims], t.ds.Row(int(ids[perm[c]])))
		}
		return centers
	}

	// k-means++: each next center is sampled proportionally to squared
	// distance from the nearest already-chosen center.
	copy(centers[:t.dims], t.ds.Row(int(ids[t.rng.Intn(len(ids))])))

	best := make([]float64, len(ids))
	for i, id := range ids {
		best[i] = float64(math32.SquaredL2(t.ds.Row(int(id)), centers[:t.dims]))
	}

	for c := 1; c < k; c++ {
		var total float64
		for _, d := range best {
			total += d
		}

		pick := t.rng.Intn(len(ids))
		if total > 0 {
			r := t.rng.Float64() * total
			var cum float64
			for i, d := range best {
				cum += d
				if cum >= r {
					pick = i
					break
				}
			}
		}

		row := t.ds.Row(int(ids[pick]))
		copy(centers[c*t.dims:(c+1)*t.dims], row)

		for i, id := range ids {
			d := float64(math32.SquaredL2(t.ds.Row(int(id)), row))
			if d < best[i] {
				best[i] = d
			}
		}
	}
	return centers
}

// assignPoints writes each point's nearest center into assign. The loop is
// data-parallel over fixed chunks; workers write disjoint ranges, so the
// result is independent of scheduling.
func (t *trainer) assignPoints(ctx context.Context, ids []uint32, centers []float32, k int, assign []int32) error {
	g, ctx := errgroup.WithContext(ctx)

	chunk := (len(ids) + runtime.GOMAXPROCS(0) - 1) / runtime.GOMAXPROCS(0)
	if chunk < 1 {
		chunk = 1
	}

	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				row := t.ds.Row(int(ids[i]))
				best := int32(0)
				bestDist := t.dist(row, centers[:t.dims])
				for c := 1; c < k; c++ {
					if d := t.dist(row, centers[c*t.dims:(c+1)*t.dims]); d < bestDist {
						best, bestDist = int32(c), d
					}
				}
				assign[i] = best
			}
			return nil
		})
	}
	return g.Wait()
}

// updateCenters recomputes each center as the mean of its assigned points,
// reassigning emptied clusters per the configured policy. The reduction runs
// sequentially in point order so results are reproducible.
func (t *trainer) updateCenters(ids []uint32, assign []int32, centers []float32, k int) {
	counts := make([]int, k)

	if t.opts.BalancingType == UnbalancedFloat32Partitioning {
		sums := make([]float32, k*t.dims)
		for i, id := range ids {
			c := int(assign[i])
			math32.Axpy(1, t.ds.Row(int(id)), sums[c*t.dims:(c+1)*t.dims])
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			inv := 1 / float32(counts[c])
			for j := 0; j < t.dims; j++ {
				centers[c*t.dims+j] = sums[c*t.dims+j] * inv
			}
		}
	} else {
		sums := make([]float64, k*t.dims)
		for i, id := range ids {
			c := int(assign[i])
			row := t.ds.Row(int(id))
			for j, v := range row {
				sums[c*t.dims+j] += float64(v)
			}
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			inv := 1 / float64(counts[c])
			for j := 0; j < t.dims; j++ {
				centers[c*t.dims+j] = float32(sums[c*t.dims+j] * inv)
			}
		}
	}

	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			t.reassignEmpty(ids, assign, centers, counts, c)
		}
	}

	if t.opts.PartitioningType == SphericalPartitioning {
		for c := 0; c < k; c++ {
			row := centers[c*t.dims : (c+1)*t.dims]
			if norm := math32.Norm(row); norm > 0 {
				math32.ScaleInPlace(row, 1/norm)
			}
		}
	}
}

// reassignEmpty gives cluster c a new center after it lost all its points.
func (t *trainer) reassignEmpty(ids []uint32, assign []int32, centers []float32, counts []int, c int) {
	if t.opts.ReassignmentType == RandomReassignment {
		copy(centers[c*t.dims:(c+1)*t.dims], t.ds.Row(int(ids[t.rng.Intn(len(ids))])))
		return
	}

	// PCASplitting: split the largest cluster along its principal direction,
	// placing the empty center and the donor center on opposite sides of the
	// donor mean.
	largest := 0
	for i, n := range counts {
		if n > counts[largest] {
			largest = i
		}
	}
	if counts[largest] < 2 {
		copy(centers[c*t.dims:(c+1)*t.dims], t.ds.Row(int(ids[t.rng.Intn(len(ids))])))
		return
	}

	var members []uint32
	for i, id := range ids {
		if int(assign[i]) == largest {
			members = append(members, id)
		}
	}

	mean := make([]float32, t.dims)
	for _, id := range members {
		math32.Axpy(1, t.ds.Row(int(id)), mean)
	}
	math32.ScaleInPlace(mean, 1/float32(len(members)))

	dir, spread := t.principalDirection(members, mean)

	for j := 0; j < t.dims; j++ {
		centers[c*t.dims+j] = mean[j] + spread*dir[j]
		centers[largest*t.dims+j] = mean[j] - spread*dir[j]
	}
}

// principalDirection estimates the top covariance eigenvector of the member
// set by power iteration, returning the unit direction and the standard
// deviation of the members' projections onto it.
func (t *trainer) principalDirection(members []uint32, mean []float32) ([]float32, float32) {
	dir := make([]float32, t.dims)
	for j := range dir {
		dir[j] = float32(t.rng.NormFloat64())
	}
	if norm := math32.Norm(dir); norm > 0 {
		math32.ScaleInPlace(dir, 1/norm)
	}

	centered := make([]float32, t.dims)
	next := make([]float32, t.dims)

	for iter := 0; iter < 10; iter++ {
		for j := range next {
			next[j] = 0
		}
		for _, id := range members {
			row := t.ds.Row(int(id))
			for j := range centered {
				centered[j] = row[j] - mean[j]
			}
			math32.Axpy(math32.Dot(centered, dir), centered, next)
		}
		norm := math32.Norm(next)
		if norm == 0 {
			break
		}
		for j := range dir {
			dir[j] = next[j] / norm
		}
	}

	var sumSq float64
	for _, id := range members {
		row := t.ds.Row(int(id))
		for j := range centered {
			centered[j] = row[j] - mean[j]
		}
		p := float64(math32.Dot(centered, dir))
		sumSq += p * p
	}
	spread := math32.Sqrt(float32(sumSq / float64(len(members))))

	return dir, spread
}

// greedyBalance moves boundary points between clusters until every cluster
// size fits [MinClusterSize, MaxLeafSize] or no legal move remains. When the
// point set is too small to give every cluster MinClusterSize points the
// lower bound is skipped rather than violated silently.
func (t *trainer) greedyBalance(ids []uint32, assign []int32, centers []float32, k int) {
	sizes := make([]int, k)
	for _, a := range assign {
		sizes[a]++
	}

	minSize := t.opts.MinClusterSize
	if len(ids) < minSize*k {
		minSize = 0
	}
	maxSize := t.opts.MaxLeafSize

	// Each move strictly shrinks an out-of-bounds cluster, so 2*len(ids)
	// iterations is a safe cap.
	for moves := 0; moves < 2*len(ids); moves++ {
		over, under := -1, -1
		for c := 0; c < k; c++ {
			if sizes[c] > maxSize && over == -1 {
				over = c
			}
			if sizes[c] < minSize && under == -1 {
				under = c
			}
		}

		switch {
		case over >= 0:
			// Push the cheapest boundary point of the over-full cluster to
			// the closest cluster that has room.
			bestI, bestTarget := -1, -1
			var bestPenalty float32
			for i := range ids {
				if int(assign[i]) != over {
					continue
				}
				row := t.ds.Row(int(ids[i]))
				d0 := t.dist(row, centers[over*t.dims:(over+1)*t.dims])
				for c := 0; c < k; c++ {
					if c == over || sizes[c] >= maxSize {
						continue
					}
					penalty := t.dist(row, centers[c*t.dims:(c+1)*t.dims]) - d0
					if bestI == -1 || penalty < bestPenalty {
						bestI, bestTarget, bestPenalty = i, c, penalty
					}
				}
			}
			if bestI == -1 {
				return
			}
			assign[bestI] = int32(bestTarget)
			sizes[over]--
			sizes[bestTarget]++

		case under >= 0:
			// Pull the cheapest point from any donor that can spare one.
			bestI := -1
			var bestPenalty float32
			for i := range ids {
				donor := int(assign[i])
				if donor == under || sizes[donor] <= minSize {
					continue
				}
				row := t.ds.Row(int(ids[i]))
				penalty := t.dist(row, centers[under*t.dims:(under+1)*t.dims]) -
					t.dist(row, centers[donor*t.dims:(donor+1)*t.dims])
				if bestI == -1 || penalty < bestPenalty {
					bestI, bestPenalty = i, penalty
				}
			}
			if bestI == -1 {
				return
			}
			sizes[assign[bestI]]--
			assign[bestI] = int32(under)
			sizes[under]++

		default:
			return
		}
	}
}

// buildMembers groups points by cluster, adding spilled copies per the
// configured spilling policy. Spilled copies never influence the trained
// centers; they only widen leaf membership.
func (t *trainer) buildMembers(ids []uint32, assign []int32, centers []float32, k int) [][]uint32 {
	members := make([][]uint32, k)
	for i, id := range ids {
		c := assign[i]
		members[c] = append(members[c], id)
	}

	if t.opts.SpillingType == NoSpilling || t.opts.MaxSpillCenters == 0 || k < 2 {
		return members
	}

	dists := make([]nodeDist, k)
	for i, id := range ids {
		row := t.ds.Row(int(id))
		for c := 0; c < k; c++ {
			dists[c] = nodeDist{dist: t.dist(row, centers[c*t.dims:(c+1)*t.dims]), idx: int32(c)}
		}
		sort.Slice(dists, func(a, b int) bool {
			if dists[a].dist != dists[b].dist {
				return dists[a].dist < dists[b].dist
			}
			return dists[a].idx < dists[b].idx
		})

		primary := assign[i]
		nearest := dists[0].dist

		spilled := 0
		for _, cd := range dists {
			if cd.idx == primary {
				continue
			}
			if spilled >= t.opts.MaxSpillCenters {
				break
			}
			switch t.opts.SpillingType {
			case MultiplicativeSpilling:
				if cd.dist > t.opts.PerNodeSpillingFactor*nearest {
					continue
				}
			case AdditiveSpilling:
				if cd.dist > nearest+t.opts.PerNodeSpillingFactor {
					continue
				}
			case FixedNumberOfSpills:
				// Unconditional: nearest MaxSpillCenters extras.
			}
			members[cd.idx] = append(members[cd.idx], id)
			spilled++
		}
	}

	// Spilling appends out of order; restore ascending id per cluster so
	// downstream processing stays deterministic.
	for c := range members {
		sort.Slice(members[c], func(a, b int) bool { return members[c][a] < members[c][b] })
	}
	return members
}
