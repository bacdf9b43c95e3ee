// ABOUTME: Thread-safe TTL set of claimed request ids with FIFO eviction at capacity
// ABOUTME: A background sweep drops ids older than the TTL

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults for New.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 50_000
	sweepInterval  = time.Minute
)

type claim struct {
	at      time.Time
	element *list.Element
}

// Cache is a bounded set of request ids. Claiming is atomic so two frames
// carrying the same id can never both run.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache and starts its sweep goroutine. Non-positive values
// select the defaults.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Claim records key and returns true, or returns false if key was already
// claimed within the TTL.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.claims[key]; ok {
		if now.Sub(cl.at) < c.ttl {
			return false
		}
		c.removeLocked(key, cl)
	}

	if len(c.claims) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.removeLocked(oldest, c.claims[oldest])
		}
	}

	c.claims[key] = &claim{at: now, element: c.order.PushBack(key)}
	return true
}

// Release forgets key so it can be claimed again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.claims[key]; ok {
		c.removeLocked(key, cl)
	}
}

// Len returns the number of live claims, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

func (c *Cache) removeLocked(key string, cl *claim) {
	if cl != nil {
		c.order.Remove(cl.element)
	}
	delete(c.claims, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep drops expired claims and returns how many were removed. Claims are
// kept in claim order, so it stops at the first live one.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		cl := c.claims[key]
		if now.Sub(cl.at) < c.ttl {
			break
		}
		next := e.Next()
		c.removeLocked(key, cl)
		removed++
		e = next
	}
	return removed
}

// Close stops the sweep goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
