package testutil

import (
	"sync"
	"time"
)

// FixedClock provides a thread-safe, manually advanced wall clock for tests.
//
// Stored timestamps drive query ordering and range bounds, so tests need
// timestamps that are deterministic and strictly increasing. FixedClock
// starts at a known instant and only moves when told to.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default starting instant for a FixedClock.
var Epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// NewFixedClock creates a clock frozen at start. A zero start uses Epoch.
func NewFixedClock(start time.Time) *FixedClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FixedClock{now: start.UTC()}
}

// Now returns the current instant without advancing.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock by d and returns the new instant.
//
// Monotonic for positive d: successive Tick calls never return equal or
// decreasing instants.
func (c *FixedClock) Tick(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Series returns n instants spaced step apart, starting one step after the
// current instant, and leaves the clock at the last one.
func (c *FixedClock) Series(n int, step time.Duration) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		c.now = c.now.Add(step)
		out = append(out, c.now)
	}
	return out
}
