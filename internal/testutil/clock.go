package testutil

import (
	"sync"

	"github.com/roach88/dispatchr/internal/dispatch"
)

var _ dispatch.Sequencer = (*DeterministicClock)(nil)

// DeterministicClock is a resettable logical clock for tests.
//
// Unlike dispatch.Clock, it can be reset so the same scenario runs several
// times with identical seq values (and therefore identical action IDs).
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
