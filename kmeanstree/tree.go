package kmeanstree

import (
	"container/heap"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/internal/math32"
	"github.com/hupe1980/scanngo/persistence"
)

// node is one arena slot. Children occupy a contiguous index span; a leaf
// node points into the tree's leaf table instead.
type node struct {
	childrenFirst int32
	childrenCount int32
	leaf          int32 // -1 for internal nodes
}

// Tree is a trained hierarchical k-means partitioner. Read-only after
// training; safe for concurrent queries.
type Tree struct {
	dims         int
	measureName  string
	partitioning PartitioningType
	numLevels    int

	nodes   []node
	centers []float32 // one row per node, row-major; the root row is unused
	leaves  []*roaring.Bitmap
}

// Dimensionality returns the vector dimensionality the tree was trained on.
func (t *Tree) Dimensionality() int { return t.dims }

// MeasureName returns the distance measure name the tree was trained for.
func (t *Tree) MeasureName() string { return t.measureName }

// NumLeaves returns the number of leaves.
func (t *Tree) NumLeaves() int { return len(t.leaves) }

// NumLevels returns the depth of the deepest leaf, counting the root's
// children as level 1. A single-leaf tree has 0 levels.
func (t *Tree) NumLevels() int { return t.numLevels }

// Leaf returns the point-id set of leaf i. The returned bitmap aliases tree
// state and must be treated as read-only.
func (t *Tree) Leaf(i int) *roaring.Bitmap { return t.leaves[i] }

// centerDistance scores a query against a node's center in the geometry the
// tree was trained in.
func (t *Tree) centerDistance(query []float32, idx int32) float32 {
	center := t.centers[int(idx)*t.dims : (int(idx)+1)*t.dims]
	if t.partitioning == SphericalPartitioning {
		return -math32.Dot(query, center)
	}
	return math32.SquaredL2(query, center)
}

// NearestLeaves returns the indices of up to n leaves whose centers are
// nearest to the query, by best-first descent from the root. Ties are broken
// by ascending node index so results are deterministic.
func (t *Tree) NearestLeaves(query []float32, n int) ([]int, error) {
	if n <= 0 {
		return nil, core.InvalidArgumentf("leaf count must be > 0, got %d", n)
	}
	if len(query) != t.dims {
		return nil, core.InvalidArgumentf("query has dimension %d, want %d", len(query), t.dims)
	}

	root := t.nodes[0]
	if root.leaf >= 0 {
		return []int{int(root.leaf)}, nil
	}

	h := &nodeHeap{}
	heap.Init(h)
	for c := root.childrenFirst; c < root.childrenFirst+root.childrenCount; c++ {
		heap.Push(h, nodeDist{dist: t.centerDistance(query, c), idx: c})
	}

	out := make([]int, 0, n)
	for h.Len() > 0 && len(out) < n {
		best := heap.Pop(h).(nodeDist)
		nd := t.nodes[best.idx]
		if nd.leaf >= 0 {
			out = append(out, int(nd.leaf))
			continue
		}
		for c := nd.childrenFirst; c < nd.childrenFirst+nd.childrenCount; c++ {
			heap.Push(h, nodeDist{dist: t.centerDistance(query, c), idx: c})
		}
	}
	return out, nil
}

type nodeDist struct {
	dist float32
	idx  int32
}

type nodeHeap []nodeDist

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].idx < h[j].idx
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(nodeDist)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Save writes the tree to filename.
func (t *Tree) Save(filename string) error {
	return persistence.SaveToFile(filename, persistence.CompressionZstd, func(w io.Writer) error {
		bw := persistence.NewBinaryWriter(w)

		if err := bw.WriteUint32(uint32(t.dims)); err != nil {
			return err
		}
		if err := bw.WriteString(t.measureName); err != nil {
			return err
		}
		if err := bw.WriteUint32(uint32(t.partitioning)); err != nil {
			return err
		}
		if err := bw.WriteUint32(uint32(t.numLevels)); err != nil {
			return err
		}

		if err := bw.WriteUint32(uint32(len(t.nodes))); err != nil {
			return err
		}
		for _, nd := range t.nodes {
			if err := bw.WriteInt32(nd.childrenFirst); err != nil {
				return err
			}
			if err := bw.WriteInt32(nd.childrenCount); err != nil {
				return err
			}
			if err := bw.WriteInt32(nd.leaf); err != nil {
				return err
			}
		}
		if err := bw.WriteFloat32Slice(t.centers); err != nil {
			return err
		}

		if err := bw.WriteUint32(uint32(len(t.leaves))); err != nil {
			return err
		}
		for _, leaf := range t.leaves {
			data, err := leaf.MarshalBinary()
			if err != nil {
				return err
			}
			if err := bw.WriteBytes(data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads a tree written by Save.
func Load(filename string) (*Tree, error) {
	var t *Tree

	err := persistence.LoadFromFile(filename, func(r io.Reader) error {
		br := persistence.NewBinaryReader(r)

		dims, err := br.ReadUint32()
		if err != nil {
			return err
		}
		if dims == 0 {
			return core.InvalidArgumentf("serialized tree has zero dimensionality")
		}
		measureName, err := br.ReadString()
		if err != nil {
			return err
		}
		partitioning, err := br.ReadUint32()
		if err != nil {
			return err
		}
		numLevels, err := br.ReadUint32()
		if err != nil {
			return err
		}

		numNodes, err := br.ReadUint32()
		if err != nil {
			return err
		}
		if numNodes == 0 {
			return core.InvalidArgumentf("serialized tree has no nodes")
		}
		nodes := make([]node, numNodes)
		for i := range nodes {
			if nodes[i].childrenFirst, err = br.ReadInt32(); err != nil {
				return err
			}
			if nodes[i].childrenCount, err = br.ReadInt32(); err != nil {
				return err
			}
			if nodes[i].leaf, err = br.ReadInt32(); err != nil {
				return err
			}
		}
		centers, err := br.ReadFloat32Slice(int(numNodes) * int(dims))
		if err != nil {
			return err
		}

		numLeaves, err := br.ReadUint32()
		if err != nil {
			return err
		}
		leaves := make([]*roaring.Bitmap, numLeaves)
		for i := range leaves {
			data, err := br.ReadBytes()
			if err != nil {
				return err
			}
			leaves[i] = roaring.New()
			if err := leaves[i].UnmarshalBinary(data); err != nil {
				return err
			}
		}

		t = &Tree{
			dims:         int(dims),
			measureName:  measureName,
			partitioning: PartitioningType(partitioning),
			numLevels:    int(numLevels),
			nodes:        nodes,
			centers:      centers,
			leaves:       leaves,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}
