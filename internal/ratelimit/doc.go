// Package ratelimit provides fixed-window request counters for the gateway.
//
// # Algorithm
//
// Each key (a client IP or a connection id) owns one window:
//
//	if no window exists, or the window has ended:
//	    count = 1, resetAt = now + Window      -> allowed
//	else if count >= Capacity:
//	    rejected, count is not incremented
//	else:
//	    count++                                -> allowed
//
// Fixed windows allow up to 2*Capacity requests across a window boundary.
// That burst is accepted in exchange for O(1) state per key.
//
// # Backends
//
// MemoryLimiter keeps windows in a mutex-protected map. A background sweep
// removes windows that have ended, and MaxKeys bounds the map so a flood of
// distinct keys cannot grow it without limit.
//
// RedisLimiter stores each window as a counter key with a millisecond TTL so
// several gateway replicas share one quota. The check-and-increment runs as a
// single Lua script.
package ratelimit
