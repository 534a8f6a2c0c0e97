package retrieval

import (
	"container/heap"
	"sort"
)

// topK keeps the k best neighbors seen so far. Internally a max-heap
// ordered worst-first, so the root is the candidate to evict.
type topK struct {
	k int
	h neighborHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(neighborHeap, 0, k)}
}

func (t *topK) push(nb Neighbor) {
	if len(t.h) < t.k {
		heap.Push(&t.h, nb)
		return
	}
	if worse(t.h[0], nb) {
		t.h[0] = nb
		heap.Fix(&t.h, 0)
	}
}

// drain returns the collected neighbors ascending by (distance, id) and
// leaves the heap empty.
func (t *topK) drain() []Neighbor {
	out := []Neighbor(t.h)
	t.h = nil
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// worse reports whether a ranks strictly after b: larger distance, ties by
// larger id.
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

type neighborHeap []Neighbor

func (h neighborHeap) Len() int { return len(h) }

func (h neighborHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h neighborHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
