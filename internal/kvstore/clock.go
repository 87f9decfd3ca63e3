package kvstore

import "sync/atomic"

// seqClock is the store-wide sequence used when an insert carries no seq.
//
// Thread-safety: safe for concurrent use (atomic operations).
type seqClock struct {
	seq atomic.Int64
}

// newSeqClockAt creates a clock whose next value is start+1.
func newSeqClockAt(start int64) *seqClock {
	c := &seqClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *seqClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the greatest sequence number handed out or observed.
func (c *seqClock) Current() int64 {
	return c.seq.Load()
}

// Observe advances the clock to seq if seq is ahead of it, so explicit
// sequence numbers are never handed out again.
func (c *seqClock) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
