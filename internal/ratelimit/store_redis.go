package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "beacon:rl:"

// RedisStore shares windows between instances using one sorted set per key,
// scored by request time. Check and record are two round trips, so concurrent
// requests may overshoot the limit slightly.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Allow records the request if the key is under its limit.
func (s *RedisStore) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	now := s.now()
	k := redisKeyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-limit.Window).UnixNano(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
	count := pipe.ZCard(ctx, k)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read rate limit window: %w", err)
	}

	resetAt := now.Add(limit.Window)
	if z := oldest.Val(); len(z) > 0 {
		resetAt = time.Unix(0, int64(z[0].Score)).Add(limit.Window)
	}

	used := int(count.Val())
	if used >= limit.Requests {
		return &Result{
			Allowed:    false,
			Limit:      limit.Requests,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()[:8]
	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.PExpire(ctx, k, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record rate limit hit: %w", err)
	}
	if used == 0 {
		resetAt = now.Add(limit.Window)
	}
	return &Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - used - 1,
		ResetAt:   resetAt,
	}, nil
}
