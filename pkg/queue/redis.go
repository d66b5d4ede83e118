package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//   - result:{taskID}: latest result JSON, expires after the configured TTL
//   - completed_queue: last 100 completed results
//   - dead_letter_queue: failed and cancelled results
//   - ratelimit:{key}: token bucket state (hash: tokens, last_refill)
const (
	resultKeyPrefix    = "result:"
	completedQueue     = "completed_queue"
	deadLetterQueue    = "dead_letter_queue"
	completedHistory   = 100
	DefaultResultTTL   = 24 * time.Hour
	rateLimitKeyPrefix = "ratelimit:"
)

// ErrResultNotFound is returned by GetResult for unknown or expired ids.
var ErrResultNotFound = errors.New("queue: result not found")

// RedisStore mirrors terminal results into Redis so they can be looked up
// by id from other processes, and provides a shared token bucket.
// It is an external copy only; the in-process ResultStore stays the
// source of truth.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to the Redis server at addr ("host:port").
// A non-positive ttl uses DefaultResultTTL.
//
// Example:
//
//	store := queue.NewRedisStore("localhost:6379", 24*time.Hour)
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (c *RedisStore) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisStore) Close() error {
	return c.rdb.Close()
}

// Publish stores r under result:{id} with the store TTL and appends it to
// completed_queue (trimmed to the last 100) or dead_letter_queue.
// All writes happen in one transaction pipeline.
func (c *RedisStore) Publish(ctx context.Context, r tasks.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", r.TaskID, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, resultKeyPrefix+r.TaskID, data, c.ttl)
	if r.Status == tasks.StatusCompleted {
		pipe.RPush(ctx, completedQueue, data)
		// Trim to last 100 (keep tail)
		pipe.LTrim(ctx, completedQueue, -completedHistory, -1)
	} else {
		pipe.RPush(ctx, deadLetterQueue, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetResult retrieves a published result.
func (c *RedisStore) GetResult(ctx context.Context, taskID string) (tasks.Result, error) {
	raw, err := c.rdb.Get(ctx, resultKeyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return tasks.Result{}, ErrResultNotFound
	}
	if err != nil {
		return tasks.Result{}, err
	}
	var r tasks.Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return tasks.Result{}, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return r, nil
}

// Depths returns the length of the completed and dead-letter lists.
func (c *RedisStore) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)
	for _, q := range []string{completedQueue, deadLetterQueue} {
		if n, err := c.rdb.LLen(ctx, q).Result(); err == nil {
			depths[q] = n
		}
	}
	return depths
}

// Inspect returns up to limit results from the head of list, which must be
// "completed_queue" or "dead_letter_queue". Malformed entries are skipped.
func (c *RedisStore) Inspect(ctx context.Context, list string, limit int64) ([]tasks.Result, error) {
	if list != completedQueue && list != deadLetterQueue {
		return nil, fmt.Errorf("unknown result list %q", list)
	}
	raws, err := c.rdb.LRange(ctx, list, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]tasks.Result, 0, len(raws))
	for _, raw := range raws {
		var r tasks.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// tokenBucket refills at ARGV[1] tokens/second up to ARGV[2] and takes ARGV[4].
//
//	KEYS[1]: bucket key
//	ARGV[1]: rate (tokens/sec)
//	ARGV[2]: burst (capacity)
//	ARGV[3]: current timestamp (seconds, fractional)
//	ARGV[4]: tokens to consume
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	local allowed = 0
	if new_tokens >= requested then
		new_tokens = new_tokens - requested
		allowed = 1
	end
	redis.call('HSET', key, 'tokens', tostring(new_tokens), 'last_refill', tostring(now))
	return allowed
`)

// Allow takes one token from the bucket named key, refilled at rate
// tokens per second with capacity burst.
func (c *RedisStore) Allow(ctx context.Context, key string, rate float64, burst int) (bool, error) {
	now := float64(time.Now().UnixMilli()) / 1000
	result, err := tokenBucket.Run(ctx, c.rdb, []string{rateLimitKeyPrefix + key}, rate, burst, now, 1).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// RateLimiter limits calls per key to Calls per Period using the Redis
// token bucket, so the budget is shared by every process using the server.
type RateLimiter struct {
	store  *RedisStore
	calls  int
	period time.Duration
}

// NewRateLimiter returns nil when calls or period is not positive, meaning
// no limit.
func NewRateLimiter(store *RedisStore, calls int, period time.Duration) *RateLimiter {
	if store == nil || calls <= 0 || period <= 0 {
		return nil
	}
	return &RateLimiter{store: store, calls: calls, period: period}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rate := float64(l.calls) / l.period.Seconds()
	return l.store.Allow(ctx, key, rate, l.calls)
}
