package collection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testClock is a fake time source tests can advance manually.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFreshnessCacheTTL(t *testing.T) {
	clock := newTestClock()
	cache := newFreshnessCache(clock.Now)

	assert.False(t, cache.isFresh(), "starts stale")

	cache.markFresh()
	assert.True(t, cache.isFresh())

	clock.Advance(119 * time.Second)
	assert.True(t, cache.isFresh(), "still within TTL")

	clock.Advance(2 * time.Second)
	assert.False(t, cache.isFresh(), "expired after TTL")

	cache.markFresh()
	assert.True(t, cache.isFresh(), "markFresh restarts the TTL")
}

func TestFreshnessCacheInvalidate(t *testing.T) {
	clock := newTestClock()
	cache := newFreshnessCache(clock.Now)

	cache.markFresh()
	assert.True(t, cache.isFresh())

	cache.invalidate()
	assert.False(t, cache.isFresh(), "invalidate clears immediately, before TTL")
}

func TestFreshnessCacheDefaultClock(t *testing.T) {
	cache := newFreshnessCache(nil)
	cache.markFresh()
	assert.True(t, cache.isFresh())
}
