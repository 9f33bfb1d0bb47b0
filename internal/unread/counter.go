package unread

import (
	"context"
	"fmt"
	"log"
	"sync"
)

const (
	// recentPushes bounds the IDs remembered for duplicate detection.
	recentPushes = 128

	// maxRefreshRetries bounds how often Refresh re-fetches because a push
	// arrived while its request was in flight.
	maxRefreshRetries = 3
)

// Fetcher returns the authoritative unread count from the backend.
type Fetcher interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Counter holds the unread notification count for the current identity.
// The value is never negative: any local computation that would drive it
// below zero triggers a Refresh instead of clamping.
type Counter struct {
	fetcher Fetcher

	mu     sync.Mutex
	value  int
	seq    uint64 // staleness token of the latest Refresh
	pushes uint64 // bumped by every counted push
	known  bool

	// Recently counted push IDs, oldest first.
	seen  map[string]struct{}
	order []string

	changes chan struct{}
}

// New creates a Counter backed by fetcher.
func New(fetcher Fetcher) *Counter {
	return &Counter{
		fetcher: fetcher,
		seen:    make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Known reports whether the value has been confirmed by the server or
// seeded from the cache at least once.
func (c *Counter) Known() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known
}

// Changes signals after every change of Value. Signals are coalesced.
func (c *Counter) Changes() <-chan struct{} {
	return c.changes
}

// Refresh replaces the value with the server's count. On failure the
// previous value is kept and the error is returned after being logged.
// A response that arrives after a newer Refresh started is discarded. A
// push counted while the request was in flight may be missing from the
// response, so the request is repeated instead of committed.
func (c *Counter) Refresh(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		c.seq++
		token := c.seq
		pushes := c.pushes
		c.mu.Unlock()

		n, err := c.fetcher.UnreadCount(ctx)
		if err == nil && n < 0 {
			err = fmt.Errorf("server reported negative unread count %d", n)
		}
		if err != nil {
			log.Printf("refreshing unread count: %v", err)
			return err
		}

		c.mu.Lock()
		if token != c.seq {
			c.mu.Unlock()
			return nil
		}
		if c.pushes != pushes {
			c.mu.Unlock()
			if attempt < maxRefreshRetries {
				continue
			}
			// Pushes keep arriving; the optimistic value stands.
			return nil
		}
		c.known = true
		c.setLocked(n)
		c.mu.Unlock()
		return nil
	}
}

// OnPushEvent optimistically counts a newly pushed notification. A push
// whose id was counted recently is a redelivery and is ignored.
func (c *Counter) OnPushEvent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != "" {
		if _, dup := c.seen[id]; dup {
			return
		}
		c.seen[id] = struct{}{}
		c.order = append(c.order, id)
		if len(c.order) > recentPushes {
			delete(c.seen, c.order[0])
			c.order = c.order[1:]
		}
	}

	c.pushes++
	c.setLocked(c.value + 1)
}

// OnMarkRead applies n confirmed mark-as-read mutations and reconciles with
// the server. If the local value would go negative it is left untouched and
// only the refresh runs.
func (c *Counter) OnMarkRead(ctx context.Context, n int) {
	c.mu.Lock()
	if next := c.value - n; next >= 0 {
		c.setLocked(next)
	}
	c.mu.Unlock()

	_ = c.Refresh(ctx)
}

// OnMarkAllRead reconciles with the server after a mark-all-read.
func (c *Counter) OnMarkAllRead(ctx context.Context) {
	_ = c.Refresh(ctx)
}

// Seed sets a cached value ahead of the first Refresh. Negative values are
// ignored.
func (c *Counter) Seed(n int) {
	if n < 0 {
		return
	}
	c.mu.Lock()
	c.known = true
	c.setLocked(n)
	c.mu.Unlock()
}

// Reset zeroes the count and invalidates in-flight refreshes, e.g. on logout.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.seq++
	c.known = false
	c.seen = make(map[string]struct{})
	c.order = nil
	c.setLocked(0)
	c.mu.Unlock()
}

// setLocked stores v and signals a change. c.mu must be held.
func (c *Counter) setLocked(v int) {
	if v == c.value {
		return
	}
	c.value = v
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
