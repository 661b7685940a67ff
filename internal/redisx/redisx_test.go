package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestCheckoutLocker(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewCheckoutLocker(client, 10*time.Second, nil)

	unlock, err := l.Lock(ctx, "chk-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:checkout:chk-1"))

	_, err = l.Lock(ctx, "chk-1")
	assert.ErrorIs(t, err, orders.ErrCheckoutInFlight)

	other, err := l.Lock(ctx, "chk-2")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("lock:checkout:chk-1"))

	again, err := l.Lock(ctx, "chk-1")
	require.NoError(t, err)
	again()
}

func TestCheckoutLockerExpiredHolderKeepsNewLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewCheckoutLocker(client, time.Second, nil)

	stale, err := l.Lock(ctx, "chk-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Lock(ctx, "chk-1")
	require.NoError(t, err)
	defer fresh()

	stale()
	assert.True(t, mr.Exists("lock:checkout:chk-1"), "stale unlock must not free the new holder")
}

func TestCheckoutLockerRedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	_, err := NewCheckoutLocker(client, time.Second, nil).Lock(context.Background(), "chk-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, orders.ErrCheckoutInFlight)
}

func TestAttemptLimiterWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewAttemptLimiter(client, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := l.Attempt(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Attempt(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Attempt(ctx, "o2")
	require.NoError(t, err)
	assert.True(t, ok, "budgets are per order")

	assert.Equal(t, time.Minute, mr.TTL("otp:attempts:o1"))
	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Attempt(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedup(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	d := NewDedup(client, "notifier", time.Hour)

	first, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	second, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, second)
	assert.Equal(t, time.Hour, mr.TTL("dedup:notifier:evt-1"))

	require.NoError(t, d.Forget(ctx, "evt-1"))
	again, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, again)
}
