package scorer

import (
	"container/heap"

	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Result is one (TID, score) pair in the top-K heap.
type Result struct {
	TID   tid.TID
	Score float64
}

// less reports whether a should be evicted before b when the heap is full:
// lower score first; on a tie, higher TID first (so the lowest TID
// survives), matching spec §4.10's deterministic tie-break.
func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return b.TID.Less(a.TID)
}

// topKHeap is a min-heap of size ≤ K over (TID, score), evicting the worst
// entry (by less) when a better one arrives.
type topKHeap struct {
	k    int
	data []Result
}

// NewTopK returns an empty top-K heap.
func NewTopK(k int) *topKHeap {
	return &topKHeap{k: k, data: make([]Result, 0, k)}
}

func (h *topKHeap) Len() int            { return len(h.data) }
func (h *topKHeap) Less(i, j int) bool  { return less(h.data[i], h.data[j]) }
func (h *topKHeap) Swap(i, j int)       { h.data[i], h.data[j] = h.data[j], h.data[i] }
func (h *topKHeap) Push(x interface{})  { h.data = append(h.data, x.(Result)) }
func (h *topKHeap) Pop() interface{} {
	old := h.data
	n := len(old)
	item := old[n-1]
	h.data = old[:n-1]
	return item
}

// Full reports whether the heap holds K entries already.
func (h *topKHeap) Full() bool { return len(h.data) >= h.k }

// Threshold is the score a new candidate must beat to be worth computing:
// 0 while the heap isn't full, otherwise the current worst survivor's score.
func (h *topKHeap) Threshold() float64 {
	if !h.Full() || h.k == 0 {
		return 0
	}
	return h.data[0].Score
}

// Offer pushes r if the heap has room or r beats the current worst
// survivor, evicting that worst survivor when already full.
func (h *topKHeap) Offer(r Result) {
	if h.k == 0 {
		return
	}
	if !h.Full() {
		heap.Push(h, r)
		return
	}
	if less(h.data[0], r) {
		heap.Pop(h)
		heap.Push(h, r)
	}
}

// Results drains the heap into non-increasing score order (ties broken by
// ascending TID), the contract scan() promises callers.
func (h *topKHeap) Results() []Result {
	out := make([]Result, len(h.data))
	tmp := append([]Result(nil), h.data...)
	for i := len(out) - 1; i >= 0; i-- {
		// Pop smallest-by-less repeatedly, which yields ascending
		// "worseness" — reverse to get best-first.
		minIdx := 0
		for j := 1; j < len(tmp); j++ {
			if less(tmp[j], tmp[minIdx]) {
				minIdx = j
			}
		}
		out[i] = tmp[minIdx]
		tmp = append(tmp[:minIdx], tmp[minIdx+1:]...)
	}
	return out
}
