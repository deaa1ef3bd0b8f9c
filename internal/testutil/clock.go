// Package testutil holds shared test fakes.
package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for time-sensitive tests.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a Clock pinned to start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current fake time. Pass as the store clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
