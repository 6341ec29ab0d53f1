package data

import (
	"container/heap"
	"time"
)

// ExpiryQueue is a priority queue that orders values by deadline, so that a periodic sweep can
// remove expired values without scanning live ones.
//
// ExpiryQueue is not safe for concurrent use; callers serialize access with their own lock.
type ExpiryQueue struct {
	store *deadlineHeap
}

// NewExpiryQueue creates an empty expiry queue.
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{store: &deadlineHeap{}}
}

// Push schedules a value to expire at the given deadline.
func (q *ExpiryQueue) Push(value interface{}, deadline time.Time) {
	heap.Push(q.store, deadlineItem{value: value, deadline: deadline})
}

// PopExpired removes and returns the value with the earliest deadline, provided that deadline is
// strictly before now. The boolean is false when the queue is empty or nothing has expired yet.
func (q *ExpiryQueue) PopExpired(now time.Time) (interface{}, time.Time, bool) {
	if q.store.Len() == 0 {
		return nil, time.Time{}, false
	}

	if head := (*q.store)[0]; !head.deadline.Before(now) {
		return nil, time.Time{}, false
	}

	item := heap.Pop(q.store).(deadlineItem)
	return item.value, item.deadline, true
}

// Size reads the current size of the queue.
func (q *ExpiryQueue) Size() int {
	return q.store.Len()
}

// Empty returns whether the queue holds no items.
func (q *ExpiryQueue) Empty() bool {
	return q.store.Len() == 0
}
