// ABOUTME: Tests for the request id replay guard
// ABOUTME: Validates claiming, TTL expiry, release, eviction order, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size, WithClock(clock.Now))
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_ClaimOnce(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("conn-1:req-1"))
	assert.False(t, c.Claim("conn-1:req-1"))
	assert.True(t, c.Claim("conn-2:req-1"))
}

func TestCache_ClaimAfterTTL(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("req"))
	clock.Advance(59 * time.Second)
	assert.False(t, c.Claim("req"))
	clock.Advance(time.Second)
	assert.True(t, c.Claim("req"))
}

func TestCache_Release(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("req"))
	c.Release("req")
	assert.True(t, c.Claim("req"))
	c.Release("never-claimed")
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, c.Claim(fmt.Sprintf("req-%d", i)))
		clock.Advance(time.Second)
	}
	assert.True(t, c.Claim("req-3"))
	assert.Equal(t, 3, c.Len())

	// req-0 was evicted and can be claimed again; req-1 is still held.
	assert.True(t, c.Claim("req-0"))
	assert.False(t, c.Claim("req-3"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Claim("a")
	clock.Advance(30 * time.Second)
	c.Claim("b")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Claim("b"))
}

func TestCache_ConcurrentClaims(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 1000)

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim("same") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)

	c.Close()
	c.Close()
}
