package alertgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "alertgate:ethics:critical")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

-- Expire in 120s so idle buckets self-clean
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return {allowed, tokens}
`)

// RedisStore implements LimiterStore using Redis, so multiple
// governance instances share alert budgets.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// NewRedisStoreWithClient wraps an existing client, e.g. for tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Allow executes the Lua script to check and update the token bucket.
func (s *RedisStore) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	bucketKey := fmt.Sprintf("alertgate:%s", key)

	perSec := float64(policy.PerMinute) / 60.0
	if perSec <= 0 {
		perSec = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{bucketKey}, perSec, policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	allowedVal, _ := results[0].(int64)
	return allowedVal == 1, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
