package leaderboard

import "container/heap"

// entryHeap is a min-heap bounded to TopN. Ties on amount evict the higher
// customer ID first, which keeps rebuilds deterministic.
type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Amount != h[j].Amount {
		return h[i].Amount < h[j].Amount
	}
	return h[i].CustomerID > h[j].CustomerID
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// offer adds e if the heap has room or e outranks the current minimum.
func (h *entryHeap) offer(e Entry) {
	if h.Len() < TopN {
		heap.Push(h, e)
		return
	}
	root := (*h)[0]
	if e.Amount > root.Amount || (e.Amount == root.Amount && e.CustomerID < root.CustomerID) {
		(*h)[0] = e
		heap.Fix(h, 0)
	}
}

// drainDescending empties the heap into a slice ordered best first.
func (h *entryHeap) drainDescending() []Entry {
	out := make([]Entry, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Entry)
	}
	return out
}
