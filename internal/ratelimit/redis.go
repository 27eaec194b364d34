package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically so replicas share one budget per key.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = idle expiry (seconds)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)
return allowed
`)

// RedisLimiter is a token bucket shared by every replica through Redis.
type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
	nowF   func() time.Time
}

// NewRedisClient builds the go-redis client for REDIS_ADDR.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisLimiter returns a limiter whose keys are namespaced under prefix.
func NewRedisLimiter(client redis.Scripter, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "coresuite:mfa:ratelimit"
	}
	return &RedisLimiter{client: client, policy: policy, prefix: prefix, nowF: time.Now}
}

// Allow consumes one token for key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !r.policy.Enabled() {
		return true, nil
	}
	now := float64(r.nowF().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + ":" + key},
		r.policy.perSecond(), r.policy.capacity(), now, int(idleTTL/time.Second)).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return res == 1, nil
}
