package sketch

import "slices"

// BottomK keeps the size smallest distinct values of a stream.
//
// Memory is O(size) regardless of stream length and every Add is
// O(log size). A BottomK is not safe for concurrent use.
type BottomK struct {
	size    int
	heap    maxHeap
	members map[uint64]struct{}
}

// NewBottomK returns an empty BottomK bounded to size values.
func NewBottomK(size int) *BottomK {
	return &BottomK{
		size:    size,
		heap:    newMaxHeap(size),
		members: make(map[uint64]struct{}, size),
	}
}

// Add offers v to the set and reports whether it was retained.
func (b *BottomK) Add(v uint64) bool {
	if b.size <= 0 {
		return false
	}
	if b.heap.Len() >= b.size {
		top, _ := b.heap.Top()
		if v >= top {
			return false
		}
		if _, dup := b.members[v]; dup {
			return false
		}
		evicted := b.heap.ReplaceTop(v)
		delete(b.members, evicted)
		b.members[v] = struct{}{}
		return true
	}
	if _, dup := b.members[v]; dup {
		return false
	}
	b.heap.Push(v)
	b.members[v] = struct{}{}
	return true
}

// Len returns the number of retained values.
func (b *BottomK) Len() int { return b.heap.Len() }

// Max returns the largest retained value.
func (b *BottomK) Max() (uint64, bool) { return b.heap.Top() }

// Sorted returns the retained values in strictly ascending order.
func (b *BottomK) Sorted() []uint64 {
	out := slices.Clone(b.heap.Values())
	slices.Sort(out)
	return out
}
