package server

import (
	"context"
	"fmt"
	"time"

	"github.com/pixforge/pixforge/internal/cache"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting using Redis. It
// throttles request bursts per subject; the daily generation quota is a
// separate concern handled by the ledger.
type RateLimiter struct {
	redis  *cache.Redis
	config *config.RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *cache.Redis, cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		config: cfg,
	}
}

// Check checks if a request is allowed under the rate limit.
// Uses a sliding window over a Redis sorted set; score = timestamp.
// On Redis errors the request is allowed (fail open).
func (r *RateLimiter) Check(ctx context.Context, subject string) (*RateLimitResult, error) {
	limit := r.config.PerWindow
	windowSeconds := r.config.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	now := time.Now()
	windowDuration := time.Duration(windowSeconds) * time.Second
	windowStart := now.Add(-windowDuration)

	key := fmt.Sprintf("ratelimit:sliding:%s", subject)

	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to check rate limit")
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(limit),
			Limit:     limit,
		}, nil
	}

	currentCount := countCmd.Val()
	result := &RateLimitResult{
		Limit:   limit,
		ResetAt: now.Add(windowDuration),
	}

	if currentCount >= int64(limit) {
		result.Allowed = false
		result.Remaining = 0

		// Retry after the oldest entry falls out of the window
		oldest, err := r.redis.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(windowDuration).Sub(now)
			if result.RetryAfter < 0 {
				result.RetryAfter = time.Second
			}
		} else {
			result.RetryAfter = windowDuration
		}
		return result, nil
	}

	entry := fmt.Sprintf("%d-%s", now.UnixNano(), subject)
	if err := r.redis.Client.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: entry,
	}).Err(); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to add rate limit entry")
	}
	r.redis.Client.Expire(ctx, key, windowDuration*2)

	result.Allowed = true
	result.Remaining = int64(limit) - currentCount - 1
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result, nil
}

// Reset clears the rate limit window for a subject
func (r *RateLimiter) Reset(ctx context.Context, subject string) error {
	key := fmt.Sprintf("ratelimit:sliding:%s", subject)
	return r.redis.Client.Del(ctx, key).Err()
}
