package engine

import "sync/atomic"

// Clock is the Lamport clock of one task list.
//
// Every local write is stamped with Next(). Every merged remote write is
// passed to Observe() first, so the next local stamp orders after anything
// this replica has seen. Stamps are therefore consistent with causality:
// a write made after observing another write always wins over it.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// TaskList additionally calls it only while holding its writer lock.
type Clock struct {
	counter atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next stamp is start+1.
// Used when restoring a snapshot.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.counter.Store(start)
	return c
}

// Next returns the next counter value and advances the clock.
func (c *Clock) Next() uint64 {
	return c.counter.Add(1)
}

// Observe raises the clock to at least seen. It never moves backwards.
func (c *Clock) Observe(seen uint64) {
	for {
		cur := c.counter.Load()
		if seen <= cur {
			return
		}
		if c.counter.CompareAndSwap(cur, seen) {
			return
		}
	}
}

// Current returns the current counter without advancing.
func (c *Clock) Current() uint64 {
	return c.counter.Load()
}
