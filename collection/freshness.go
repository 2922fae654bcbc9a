package collection

import (
	"sync"
	"time"
)

// freshnessTTL is how long a successful load is trusted before the next read
// triggers a reload. Fixed policy, not tunable per call.
const freshnessTTL = 120 * time.Second

// freshnessCache is a single-slot, time-expiring flag answering "is the
// in-memory DateSet currently trustworthy". Capacity is one entry: the only
// logical key is the current index. The cache is owned by its Manifest
// instance, never shared process-wide; the time source is injectable so tests
// can fast-forward TTL expiry.
type freshnessCache struct {
	now func() time.Time

	mu    sync.Mutex
	valid bool
	setAt time.Time
}

func newFreshnessCache(now func() time.Time) *freshnessCache {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &freshnessCache{now: now}
}

// isFresh reports whether the slot holds a non-expired flag.
func (c *freshnessCache) isFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid && c.now().Sub(c.setAt) < freshnessTTL
}

// markFresh sets the flag with a fresh TTL.
func (c *freshnessCache) markFresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = true
	c.setAt = c.now()
}

// invalidate clears the flag immediately, forcing the next load to hit the
// remote store.
func (c *freshnessCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
