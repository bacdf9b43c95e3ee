// ABOUTME: In-process fixed-window rate limiter with periodic sweeping of ended windows
// ABOUTME: Bounded by MaxKeys; the window closest to ending is evicted when full

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the RateLimitEntry for one key.
type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a thread-safe fixed-window limiter backed by a map.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     Config
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// NewMemoryLimiter creates a limiter and starts its sweep goroutine.
func NewMemoryLimiter(cfg Config, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// Allow applies the fixed-window algorithm to key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(l.windows) >= l.cfg.MaxKeys {
			l.makeRoomLocked(now)
		}
		w = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
		return l.decision(true, w), nil
	}

	if w.count >= l.cfg.Capacity {
		return l.decision(false, w), nil
	}

	w.count++
	return l.decision(true, w), nil
}

func (l *MemoryLimiter) decision(allowed bool, w *window) Decision {
	remaining := l.cfg.Capacity - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     w.count,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Forget removes the window for key.
func (l *MemoryLimiter) Forget(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// makeRoomLocked sweeps ended windows and, if the map is still full, evicts the
// window that ends soonest. Must be called with mu held.
func (l *MemoryLimiter) makeRoomLocked(now time.Time) {
	l.sweepLocked(now)
	if len(l.windows) < l.cfg.MaxKeys {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, w := range l.windows {
		if oldestKey == "" || w.resetAt.Before(oldest) {
			oldestKey = key
			oldest = w.resetAt
		}
	}
	delete(l.windows, oldestKey)
}

// sweepLoop periodically removes windows that have ended.
func (l *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Sweep removes every window whose reset time has passed and returns how many
// were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweep goroutine. It is safe to call multiple times.
func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
	return nil
}
