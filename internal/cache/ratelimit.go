package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed window request counter.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewLimiter(client *redis.Client, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
	}
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow counts a request for key and reports whether it fits the window,
// with the number of requests left.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}
	redisKey := l.prefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err = l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, err
		}
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(l.limit), remaining, nil
}
