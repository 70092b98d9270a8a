// Package clock provides a microsecond timestamp source whose values are
// unique per instance, suitable for use as ordered-set members.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock combines a wall-clock origin with the monotonic time elapsed since the
// Clock was created. Values are unix microseconds and strictly increase across
// calls on the same instance, including concurrent calls.
type Clock struct {
	origin int64
	start  time.Time
	last   atomic.Int64
}

// New creates a Clock anchored at the current wall-clock time.
func New() *Clock {
	start := time.Now()

	return &Clock{
		origin: start.UnixMicro(),
		start:  start,
	}
}

// Now returns the current time in unix microseconds. Two calls never return
// the same value: when the monotonic reading has not advanced, the previous
// value plus one is returned instead.
func (c *Clock) Now() int64 {
	candidate := c.origin + time.Since(c.start).Microseconds()

	for {
		last := c.last.Load()

		next := candidate
		if next <= last {
			next = last + 1
		}

		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
