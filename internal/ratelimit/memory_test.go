// ABOUTME: Tests for the in-process fixed-window limiter
// ABOUTME: Covers quota, window reset, boundary bursts, sweeping, key bounds and concurrency

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock) *MemoryLimiter {
	t.Helper()
	l := NewMemoryLimiter(cfg, WithClock(clock.Now))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestMemoryLimiter_RejectsThirtyFirstRequest(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 30}, clock)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, d.Count)
		clock.Advance(300 * time.Millisecond)
	}

	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.Count, "rejected requests must not increment the count")
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter(clock.Now()), time.Duration(0))
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 2}, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := l.Allow(ctx, "a")
		assert.True(t, d.Allowed)
	}
	d, _ := l.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Allow(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 1}, clock)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	clock.Advance(time.Minute)

	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestMemoryLimiter_BoundaryStraddleAllowsTwiceCapacity(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: 10 * time.Second, Capacity: 5}, clock)
	ctx := context.Background()

	// Open the window, then burst right before it ends.
	d, _ := l.Allow(ctx, "k")
	require.True(t, d.Allowed)
	clock.Advance(9900 * time.Millisecond)
	for i := 0; i < 4; i++ {
		d, _ = l.Allow(ctx, "k")
		require.True(t, d.Allowed)
	}

	// A new window opens 100ms later and accepts a full quota again.
	clock.Advance(100 * time.Millisecond)
	accepted := 0
	for i := 0; i < 10; i++ {
		d, _ = l.Allow(ctx, "k")
		if d.Allowed {
			accepted++
		}
	}
	assert.Equal(t, 5, accepted)
}

func TestMemoryLimiter_NeverExceedsCapacityWithinWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Second, Capacity: 7}, clock)
	ctx := context.Background()

	var windowStart time.Time
	acceptedInWindow := 0
	for i := 0; i < 500; i++ {
		d, _ := l.Allow(ctx, "k")
		if d.Allowed && d.Count == 1 {
			windowStart = clock.Now()
			acceptedInWindow = 0
		}
		if d.Allowed {
			acceptedInWindow++
		}
		assert.LessOrEqual(t, acceptedInWindow, 7, "window starting %s", windowStart)
		clock.Advance(37 * time.Millisecond)
	}
}

func TestMemoryLimiter_Forget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 1}, clock)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "conn-1")
	d, _ := l.Allow(ctx, "conn-1")
	assert.False(t, d.Allowed)

	require.NoError(t, l.Forget(ctx, "conn-1"))
	assert.Equal(t, 0, l.Len())

	d, _ = l.Allow(ctx, "conn-1")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_SweepRemovesEndedWindows(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 5}, clock)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old")
	clock.Advance(30 * time.Second)
	_, _ = l.Allow(ctx, "fresh")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_MaxKeysBound(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Window: time.Minute, Capacity: 5, MaxKeys: 3}, clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, l.Len())
}

func TestMemoryLimiter_ConcurrentAllow(t *testing.T) {
	l := NewMemoryLimiter(Config{Window: time.Hour, Capacity: 100})
	defer l.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d, err := l.Allow(ctx, "shared")
				if err == nil && d.Allowed {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, accepted)
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(Config{})
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Now()
	d := Decision{Allowed: false, ResetAt: now.Add(5 * time.Second)}
	assert.Equal(t, 5*time.Second, d.RetryAfter(now))

	d.Allowed = true
	assert.Equal(t, time.Duration(0), d.RetryAfter(now))
}
