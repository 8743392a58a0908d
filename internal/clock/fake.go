package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock. Each call to Now advances it by Step, so
// consecutive writes receive distinct timestamps.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.Step)
	return now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
