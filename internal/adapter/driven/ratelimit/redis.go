package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RateLimiter = (*Redis)(nil)

// fixedWindowScript evaluates and advances one window atomically.
// KEYS[1] window hash; ARGV now_ms, limit, period_ms.
// Returns {allowed, count, window_start_ms}.
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local period = tonumber(ARGV[3])

local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if start == nil or count == nil or now >= start + period then
	start = now
	count = 0
end

if count >= limit then
	return {0, count, start}
end

count = count + 1
redis.call('HSET', KEYS[1], 'start', start, 'count', count)
redis.call('PEXPIRE', KEYS[1], start + period - now)
return {1, count, start}
`)

// Redis is a fixed-window RateLimiter shared by every instance connected to
// the same Redis. The check-and-increment runs as one Lua script.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter. Keys are namespaced under prefix.
func NewRedis(client *redis.Client, prefix string, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "opscenter:ratelimit"
	}
	return &Redis{client: client, prefix: prefix, now: now}
}

// NewRedisFromURL parses a redis:// URL, connects and pings.
func NewRedisFromURL(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, prefix, nil), nil
}

func (r *Redis) key(principal, action string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, action, principal)
}

// CheckAndIncrement evaluates and advances the window for (principal, action).
func (r *Redis) CheckAndIncrement(
	ctx context.Context, principal, action string, limit int, period time.Duration,
) (model.RateDecision, error) {
	if limit <= 0 || period <= 0 {
		return model.RateDecision{}, fmt.Errorf("rate limit %s: limit and period must be positive", action)
	}

	now := r.now()
	res, err := fixedWindowScript.Run(ctx, r.client,
		[]string{r.key(principal, action)},
		now.UnixMilli(), limit, period.Milliseconds(),
	).Slice()
	if err != nil {
		return model.RateDecision{}, fmt.Errorf("rate limit %s for %q: %w", action, principal, err)
	}
	if len(res) != 3 {
		return model.RateDecision{}, fmt.Errorf("rate limit %s: unexpected script reply length %d", action, len(res))
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	startMs, _ := res[2].(int64)

	if allowed == 1 {
		return model.RateDecision{Allowed: true, Remaining: limit - int(count)}, nil
	}

	resetAt := time.UnixMilli(startMs).Add(period)
	return model.RateDecision{Allowed: false, RetryAfter: resetAt.Sub(now)}, nil
}

// Prune is a no-op: window keys expire through their Redis TTL.
func (r *Redis) Prune(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
