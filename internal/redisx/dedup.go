package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewDedup(rdb *redis.Client, service string, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Dedup{rdb: rdb, service: service, ttl: ttl}
}

// Claim marks id as seen and reports whether this caller was first.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", id, err)
	}
	return ok, nil
}

// Forget drops a claim so a failed handler can see the event again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	if err := d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err(); err != nil {
		return fmt.Errorf("dedup forget %s: %w", id, err)
	}
	return nil
}
