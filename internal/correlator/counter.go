package correlator

import (
	"math"
	"sync/atomic"
)

// IDCounter is a ring counter over the signed 16-bit range. After math.MaxInt16 it wraps to
// math.MinInt16. It is safe for concurrent use; no two calls observe the same step.
type IDCounter struct {
	next atomic.Int32
}

// NewIDCounter creates a counter whose first value is math.MinInt16.
func NewIDCounter() *IDCounter {
	return NewIDCounterAt(math.MinInt16)
}

// NewIDCounterAt creates a counter whose first value is start.
func NewIDCounterAt(start int16) *IDCounter {
	c := &IDCounter{}
	c.next.Store(int32(start))

	return c
}

// Next returns the current value as a wire ID and advances the counter.
func (c *IDCounter) Next() uint16 {
	for {
		current := c.next.Load()
		if c.next.CompareAndSwap(current, successor(current)) {
			return uint16(int16(current))
		}
	}
}

// successor applies the wrap rule explicitly instead of relying on overflow.
func successor(value int32) int32 {
	if value >= math.MaxInt16 {
		return math.MinInt16
	}

	return value + 1
}
