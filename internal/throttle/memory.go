package throttle

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	start time.Time
	count int64
}

// MemoryCounter is an in-process fixed-window counter. A window opens at
// the first hit for a key and closes window later.
type MemoryCounter struct {
	mu        sync.Mutex
	entries   map[string]*windowEntry
	now       func() time.Time
	nextSweep time.Time
}

// NewMemoryCounter returns a MemoryCounter. A nil clock uses time.Now.
func NewMemoryCounter(clock func() time.Time) *MemoryCounter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounter{
		entries: make(map[string]*windowEntry),
		now:     clock,
	}
}

// IncrWindow counts a hit for key and returns the count in the current
// window and the time left in it.
func (c *MemoryCounter) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep(now, window)

	e := c.entries[key]
	if e == nil || !now.Before(e.start.Add(window)) {
		e = &windowEntry{start: now}
		c.entries[key] = e
	}
	e.count++
	return e.count, e.start.Add(window).Sub(now), nil
}

// sweep drops closed windows, at most once per window. Caller holds mu.
func (c *MemoryCounter) sweep(now time.Time, window time.Duration) {
	if now.Before(c.nextSweep) {
		return
	}
	for k, e := range c.entries {
		if !now.Before(e.start.Add(window)) {
			delete(c.entries, k)
		}
	}
	c.nextSweep = now.Add(window)
}

// Len returns the number of tracked keys.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
