package httpx

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/feed/pkg/config"
)

const (
	redisRatePrefix  = "feed:ratelimit:"
	redisRateTimeout = 250 * time.Millisecond
)

// redisRateLimiter shares windows between API replicas. Each key is a counter
// that expires when its window closes.
type redisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter connects to Redis and verifies it is reachable.
func NewRedisRateLimiter(ctx context.Context, addr, password string, db int) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisRateLimiter{client: client}, nil
}

func (rl *redisRateLimiter) Take(ctx context.Context, key string, limit config.RateLimit) (rateDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, redisRateTimeout)
	defer cancel()

	redisKey := redisRatePrefix + key
	var hits *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	}); err != nil {
		return rateDecision{}, fmt.Errorf("count %s: %w", key, err)
	}

	// A counter without expiry was just created, or lost its TTL.
	remaining := ttl.Val()
	if remaining <= 0 {
		if err := rl.client.PExpire(ctx, redisKey, limit.Window).Err(); err != nil {
			return rateDecision{}, fmt.Errorf("expire %s: %w", key, err)
		}
		remaining = limit.Window
	}
	count := int(hits.Val())
	return rateDecision{
		allowed: count <= limit.Limit,
		count:   count,
		resetAt: time.Now().Add(remaining),
	}, nil
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
