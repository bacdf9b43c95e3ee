// ABOUTME: Limiter interface and decision type shared by the rate limit backends
// ABOUTME: Decisions carry the window reset time so callers can report retry-after

package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimited is returned by callers that convert a rejected Decision into an error.
var ErrLimited = errors.New("rate limit exceeded")

// Defaults used when a Config leaves a field unset.
const (
	DefaultWindow        = 60 * time.Second
	DefaultCapacity      = 30
	DefaultSweepInterval = time.Minute
	DefaultMaxKeys       = 100_000
)

// Config holds fixed-window parameters.
type Config struct {
	Window        time.Duration
	Capacity      int
	SweepInterval time.Duration
	MaxKeys       int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	return c
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	// Allow records one request for key and reports whether it fits the quota.
	Allow(ctx context.Context, key string) (Decision, error)
	// Forget drops any window held for key.
	Forget(ctx context.Context, key string) error
	Close() error
}
