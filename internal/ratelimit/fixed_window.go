package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "eduflow:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window when Allowed is false.
	RetryAfter time.Duration
}

// FixedWindowLimiter counts requests per key in fixed windows stored in Redis,
// so the quota is shared by every replica pointed at the same instance.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewClient builds the Redis client shared by limiters.
func NewClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password}), nil
}

// NewFixedWindowLimiter creates a limiter over an existing client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// NewRedisFixedWindowLimiter dials addr and creates a limiter with its own client.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	client, err := NewClient(addr, password)
	if err != nil {
		return nil, err
	}
	return NewFixedWindowLimiter(client, prefix, limit, window)
}

// Allow counts one request for key. Redis failures deny the request.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	if count > int64(l.limit) {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}
