package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter is a fixed-window counter per order shared by every
// instance. It implements otp.AttemptLimiter.
type AttemptLimiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
}

func NewAttemptLimiter(rdb *redis.Client, max int, window time.Duration) *AttemptLimiter {
	if window <= 0 {
		window = TTLOTPWindow
	}
	return &AttemptLimiter{rdb: rdb, max: int64(max), window: window}
}

func (l *AttemptLimiter) Attempt(ctx context.Context, orderID string) (bool, error) {
	key := fmt.Sprintf(KeyOTPAttempts, orderID)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("count otp attempt: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("start otp window: %w", err)
		}
	}
	return n <= l.max, nil
}
