// ABOUTME: Redis-backed fixed-window limiter shared by every gateway replica
// ABOUTME: Check-and-increment runs as one Lua script; window keys expire via PEXPIRE

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fixedWindowScript returns {allowed, count, pttl}. The counter is only
// incremented when the request fits the quota.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, n, redis.call('PTTL', KEYS[1])}
`)

// RedisConfig holds connection settings for the shared limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisLimiter implements Limiter on top of a redis server.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects to redis and verifies the connection with PING.
func NewRedisLimiter(ctx context.Context, rc RedisConfig, cfg Config) (*RedisLimiter, error) {
	if rc.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	prefix := rc.Prefix
	if prefix == "" {
		prefix = "switchboard:ratelimit:"
	}
	return &RedisLimiter{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow runs the fixed-window script for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.Capacity, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	count := int(res[1])
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = l.cfg.Window
	}
	remaining := l.cfg.Capacity - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Count:     count,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl),
	}, nil
}

// Forget deletes the window key.
func (l *RedisLimiter) Forget(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting rate limit key: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
