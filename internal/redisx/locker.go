package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockScript deletes the lock only while it still holds our token, so an
// expired holder never frees a lock someone else has taken since.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// CheckoutLocker is the cross-instance orders.CheckoutLocker.
type CheckoutLocker struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewCheckoutLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CheckoutLocker {
	if ttl <= 0 {
		ttl = TTLCheckoutLock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutLocker{rdb: rdb, ttl: ttl, log: log}
}

func (l *CheckoutLocker) Lock(ctx context.Context, checkoutID string) (func(), error) {
	key := fmt.Sprintf(KeyCheckoutLock, checkoutID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock checkout %s: %w", checkoutID, err)
	}
	if !ok {
		return nil, orders.ErrCheckoutInFlight
	}

	return func() {
		// request ctx may be gone by now
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(uctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn("release checkout lock failed", zap.String("checkout_id", checkoutID), zap.Error(err))
		}
	}, nil
}
