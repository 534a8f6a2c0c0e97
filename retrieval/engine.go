package retrieval

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
	"github.com/hupe1980/scanngo/distance"
	"github.com/hupe1980/scanngo/keycodec"
	"github.com/hupe1980/scanngo/kmeanstree"
	"github.com/hupe1980/scanngo/projection"
)

// Neighbor is one search result.
type Neighbor struct {
	ID       uint32
	Distance float32
}

// Embedder turns a token chunk into a query vector. Supplied by the
// RETRO-style consumer; the engine treats it as a black box.
type Embedder interface {
	Embed(ctx context.Context, tokens []uint32) ([]float32, error)
}

// snapshot is the immutable trained state a query runs against. It is
// replaced wholesale via atomic swap; in-flight queries keep the snapshot
// they started with.
type snapshot struct {
	tree *kmeanstree.Tree
	proj projection.Projection
}

// Options configures an Engine.
type Options struct {
	// NProbe is the number of partitioner leaves probed per query.
	NProbe int

	// NumNeighbors is the fixed k used by RetrieveChunks.
	NumNeighbors int

	// EmbeddingCacheSize bounds the chunk-embedding LRU cache.
	EmbeddingCacheSize int

	// Embedder embeds token chunks for RetrieveChunks.
	Embedder Embedder

	// TokenSequences maps datapoint id to its stored neighbor token
	// sequence, indexed by row. Required for RetrieveChunks.
	TokenSequences [][]uint32
}

// DefaultOptions returns the options used when a caller has no opinion.
func DefaultOptions() Options {
	return Options{
		NProbe:             1,
		NumNeighbors:       2,
		EmbeddingCacheSize: 1024,
	}
}

// Engine answers top-k queries over one dataset. Safe for concurrent use;
// the trained partitioner is swapped atomically by SetPartitioner.
type Engine struct {
	ds          *dataset.DenseDataset[float32]
	measure     distance.Func
	measureName string
	opts        Options

	snap  atomic.Pointer[snapshot]
	cache *lru.Cache[string, []float32]
}

// New creates an engine over the dataset with the named distance measure.
// Without a partitioner every query falls back to exact brute force.
func New(ds *dataset.DenseDataset[float32], measureName string, optFns ...func(o *Options)) (*Engine, error) {
	if ds == nil || ds.Size() == 0 {
		return nil, core.InvalidArgumentf("engine requires a non-empty dataset")
	}

	measure, err := distance.ByName(measureName)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NProbe <= 0 {
		return nil, core.InvalidArgumentf("nprobe must be > 0, got %d", opts.NProbe)
	}
	if opts.NumNeighbors <= 0 {
		return nil, core.InvalidArgumentf("num neighbors must be > 0, got %d", opts.NumNeighbors)
	}
	if opts.TokenSequences != nil && len(opts.TokenSequences) != ds.Size() {
		return nil, core.InvalidArgumentf("token sequences cover %d rows, dataset has %d", len(opts.TokenSequences), ds.Size())
	}

	cache, err := lru.New[string, []float32](opts.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		ds:          ds,
		measure:     measure,
		measureName: measureName,
		opts:        opts,
		cache:       cache,
	}, nil
}

// SetPartitioner publishes a new trained snapshot. proj may be nil when the
// tree was trained in the original space; otherwise queries are projected
// through it before descending the tree. Passing a nil tree clears the
// partitioner and returns the engine to brute force.
func (e *Engine) SetPartitioner(tree *kmeanstree.Tree, proj projection.Projection) error {
	if tree == nil {
		e.snap.Store(nil)
		return nil
	}

	wantDims := e.ds.Dimensionality()
	if proj != nil {
		if proj.InputDims() != e.ds.Dimensionality() {
			return core.InvalidArgumentf("projection expects %d input dimensions, dataset has %d", proj.InputDims(), e.ds.Dimensionality())
		}
		wantDims = proj.ProjectedDims()
	}
	if tree.Dimensionality() != wantDims {
		return core.InvalidArgumentf("partitioner was trained on %d dimensions, queries will have %d", tree.Dimensionality(), wantDims)
	}

	e.snap.Store(&snapshot{tree: tree, proj: proj})
	return nil
}

// MeasureName returns the configured distance measure name.
func (e *Engine) MeasureName() string { return e.measureName }

// Search returns the k nearest datapoints, ascending by distance with ties
// broken by ascending id. With a partitioner set the result is approximate;
// see the package documentation.
func (e *Engine) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, core.InvalidArgumentf("k must be > 0, got %d", k)
	}
	if len(query) != e.ds.Dimensionality() {
		return nil, core.InvalidArgumentf("query has dimension %d, want %d", len(query), e.ds.Dimensionality())
	}

	snap := e.snap.Load()
	if snap == nil {
		return e.bruteForce(ctx, query, k)
	}
	return e.partitionedSearch(ctx, query, k, snap)
}

// bruteForce scores the query against every row, sharded across workers
// with a per-shard top-k heap and a sequential merge.
func (e *Engine) bruteForce(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	n := e.ds.Size()
	numShards := runtime.GOMAXPROCS(0)
	if numShards > n {
		numShards = n
	}
	chunk := (n + numShards - 1) / numShards

	shards := make([][]Neighbor, 0, numShards)
	for start := 0; start < n; start += chunk {
		shards = append(shards, nil)
	}

	g, ctx := errgroup.WithContext(ctx)
	for s := range shards {
		start := s * chunk
		end := min(start+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h := newTopK(k)
			for i := start; i < end; i++ {
				h.push(Neighbor{ID: uint32(i), Distance: e.measure(query, e.ds.Row(i))})
			}
			shards[s] = h.drain()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newTopK(k)
	for _, shard := range shards {
		for _, nb := range shard {
			merged.push(nb)
		}
	}
	return merged.drain(), nil
}

// partitionedSearch projects the query if needed, probes the nearest leaves
// and re-scores the candidate union against the original vectors.
func (e *Engine) partitionedSearch(ctx context.Context, query []float32, k int, snap *snapshot) ([]Neighbor, error) {
	treeQuery := query
	if snap.proj != nil {
		projected, err := snap.proj.Project(query)
		if err != nil {
			return nil, err
		}
		treeQuery = projected
	}

	leafIDs, err := snap.tree.NearestLeaves(treeQuery, e.opts.NProbe)
	if err != nil {
		return nil, err
	}

	// Union deduplicates: a spilled point reachable via several leaves is
	// scored exactly once.
	leaves := make([]*roaring.Bitmap, len(leafIDs))
	for i, id := range leafIDs {
		leaves[i] = snap.tree.Leaf(id)
	}
	candidates := roaring.FastOr(leaves...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := newTopK(k)
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		h.push(Neighbor{ID: id, Distance: e.measure(query, e.ds.Row(int(id)))})
	}
	return h.drain(), nil
}

// RetrieveChunks windows tokens into non-overlapping chunks of chunkSize,
// embeds each chunk and returns, per chunk, the stored neighbor token
// sequences of its nearest datapoints. A trailing partial chunk is dropped;
// callers that need last-chunk coverage must pre-pad.
func (e *Engine) RetrieveChunks(ctx context.Context, tokens []uint32, chunkSize int) ([][][]uint32, error) {
	if chunkSize <= 0 {
		return nil, core.InvalidArgumentf("chunk size must be > 0, got %d", chunkSize)
	}
	if e.opts.Embedder == nil {
		return nil, core.FailedPreconditionf("no embedder configured")
	}
	if e.opts.TokenSequences == nil {
		return nil, core.FailedPreconditionf("no token sequences configured")
	}

	numChunks := len(tokens) / chunkSize
	out := make([][][]uint32, 0, numChunks)

	for c := 0; c < numChunks; c++ {
		chunk := tokens[c*chunkSize : (c+1)*chunkSize]

		embedding, err := e.embedChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}

		neighbors, err := e.Search(ctx, embedding, e.opts.NumNeighbors)
		if err != nil {
			return nil, err
		}

		sequences := make([][]uint32, len(neighbors))
		for i, nb := range neighbors {
			sequences[i] = e.opts.TokenSequences[nb.ID]
		}
		out = append(out, sequences)
	}
	return out, nil
}

// embedChunk embeds a chunk through the consumer-supplied Embedder, caching
// by the chunk's order-preserving key encoding.
func (e *Engine) embedChunk(ctx context.Context, chunk []uint32) ([]float32, error) {
	key := make([]byte, 0, 4*len(chunk))
	for _, tok := range chunk {
		key = keycodec.AppendUint32(key, tok)
	}

	if embedding, ok := e.cache.Get(string(key)); ok {
		return embedding, nil
	}

	embedding, err := e.opts.Embedder.Embed(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if len(embedding) != e.ds.Dimensionality() {
		return nil, core.InvalidArgumentf("embedder produced %d dimensions, want %d", len(embedding), e.ds.Dimensionality())
	}

	e.cache.Add(string(key), embedding)
	return embedding, nil
}
