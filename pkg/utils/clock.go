package utils

import (
	"sync"
	"time"
)

// Clock abstracts wall time so campaign timestamps can be controlled in tests
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a clock that only moves when told to
type ManualClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManualClock creates a manual clock starting at the given time
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{current: start}
}

// Now returns the current manual time
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
