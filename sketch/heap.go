package sketch

// maxHeap is a value-based binary max-heap of hash values. The largest value
// sits at index 0 so the bottom-k eviction candidate is always O(1) away.
type maxHeap struct {
	items []uint64
}

func newMaxHeap(capacity int) maxHeap {
	return maxHeap{items: make([]uint64, 0, capacity)}
}

// Len returns the number of values in the heap.
func (h *maxHeap) Len() int { return len(h.items) }

// Top returns the largest value.
func (h *maxHeap) Top() (uint64, bool) {
	if len(h.items) == 0 {
		return 0, false
	}
	return h.items[0], true
}

// Push inserts v while maintaining the heap invariant.
func (h *maxHeap) Push(v uint64) {
	h.items = append(h.items, v)
	h.siftUp(len(h.items) - 1)
}

// ReplaceTop swaps the largest value for v and restores the invariant.
// It is the fused pop+push used on eviction.
func (h *maxHeap) ReplaceTop(v uint64) uint64 {
	old := h.items[0]
	h.items[0] = v
	h.siftDown(0)
	return old
}

func (h *maxHeap) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if h.items[i] <= h.items[p] {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *maxHeap) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.items[r] > h.items[l] {
			best = r
		}
		if h.items[best] <= h.items[i] {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

// Values returns the backing slice in heap order.
func (h *maxHeap) Values() []uint64 { return h.items }
