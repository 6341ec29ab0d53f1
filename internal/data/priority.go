package data

import (
	"time"
)

// deadlineItem is a value scheduled to expire.
type deadlineItem struct {
	value    interface{}
	deadline time.Time
}

// deadlineHeap implements heap.Interface as a min heap on deadline, so the value that expires
// first sits at the root.
type deadlineHeap []deadlineItem

func (h deadlineHeap) Len() int {
	return len(h)
}

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *deadlineHeap) Push(x interface{}) {
	*h = append(*h, x.(deadlineItem))
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	last := old[len(old)-1]
	old[len(old)-1] = deadlineItem{}
	*h = old[:len(old)-1]

	return last
}
