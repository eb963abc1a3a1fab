package window

import (
	"sync"
	"time"
)

// Clock supplies "now" in device-local time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a location that can be swapped after a
// timezone change without restarting the process.
type SystemClock struct {
	mu  sync.RWMutex
	loc *time.Location
}

// NewSystemClock returns a clock in time.Local.
func NewSystemClock() *SystemClock {
	return &SystemClock{loc: time.Local}
}

func (c *SystemClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().In(c.loc)
}

// SetLocation switches the clock's wall-clock location.
func (c *SystemClock) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}

// Location returns the current wall-clock location.
func (c *SystemClock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// FixedClock is a settable clock for tests and dry runs.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
