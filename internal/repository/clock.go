package repository

import (
	"sync"
	"time"
)

// monotonicClock hands out strictly increasing timestamps at the precision
// postgres keeps.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{now: time.Now}
}

func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
