// Package completion joins a known number of asynchronous completions.
package completion

import (
	"sync/atomic"

	"github.com/ranlab/rtcore/log"
)

// Counter lets any number of producers report completed work to a single
// waiter. A Counter is single use: once Join returns it must be discarded.
type Counter struct {
	remaining atomic.Int64
	sem       chan struct{}
}

// New returns a counter expecting n completions. With n == 0 Join returns
// at once.
func New(n int) *Counter {
	log.AssertFatal(n >= 0, "completion: negative count %d", n)
	c := &Counter{sem: make(chan struct{}, 1)}
	c.remaining.Store(int64(n))
	if n == 0 {
		c.sem <- struct{}{}
	}
	return c
}

// Complete records k completions. The call that brings the counter to zero
// wakes the waiter.
func (c *Counter) Complete(k int) {
	left := c.remaining.Add(-int64(k))
	log.AssertFatal(left >= 0, "completion: %d completions more than expected", -left)
	if left == 0 {
		c.sem <- struct{}{}
	}
}

// Join blocks until the counter has reached zero.
func (c *Counter) Join() {
	<-c.sem
}

// Done returns a channel that receives once the counter reaches zero. It is
// an alternative to Join for select loops, not an addition to it.
func (c *Counter) Done() <-chan struct{} {
	return c.sem
}

// Remaining is a snapshot of the outstanding completions.
func (c *Counter) Remaining() int {
	return int(c.remaining.Load())
}
