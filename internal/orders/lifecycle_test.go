package orders_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveredCreditsNetPayoutOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	out := f.deliver(t, o)
	assert.Equal(t, orders.StatusDelivered, out.Status)
	require.NotNil(t, out.DeliveredAt)
	assert.Equal(t, orders.PaymentSucceeded, out.PaymentInfo.Status)
	assert.True(t, f.balance(t, "shop-a").Equal(decimal.NewFromInt(930)))
	assert.True(t, f.balance(t, "shop-b").IsZero())

	again, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", string(orders.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, again.Status)
	assert.Equal(t, *out.DeliveredAt, *again.DeliveredAt)
	assert.True(t, f.balance(t, "shop-a").Equal(decimal.NewFromInt(930)))
	assert.Equal(t, 1, f.pub.count(orders.TopicPayoutCredited))
}

func TestConcurrentDeliveredCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)
	require.NoError(t, f.svc.VerifyOTP(ctx, o.ID, o.OTP))
	_, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.UpdateStatus(ctx, o.ID, "shop-a", "Delivered")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, f.balance(t, "shop-a").Equal(decimal.NewFromInt(930)))
	assert.Equal(t, 1, f.pub.count(orders.TopicPayoutCredited))
}

func TestDeliveredRequiresVerifiedOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	_, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, o.ID, "shop-a", "Delivered")
	assert.Equal(t, orders.KindConflict, kindOf(err))
	assert.Equal(t, "otp_not_verified", orders.CodeOf(err))

	cur, err := f.svc.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInTransit, cur.Status)
	assert.True(t, f.balance(t, "shop-a").IsZero())
}

func TestDeliveredWithoutOTPGate(t *testing.T) {
	f := newFixture(t, withoutDeliveryOTP())
	ctx := context.Background()
	o := f.createOne(t)

	_, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)
	out, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "Delivered")
	require.NoError(t, err)
	assert.False(t, out.OTPVerified)
	assert.True(t, f.balance(t, "shop-a").Equal(decimal.NewFromInt(930)))
}

func TestTransferDoesNotTouchStock(t *testing.T) {
	f := newFixture(t)
	o := f.createOne(t)
	require.Equal(t, 8, f.product(t, "p1").Stock)

	out, err := f.svc.UpdateStatus(context.Background(), o.ID, "shop-a", string(orders.StatusInTransit))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInTransit, out.Status)
	assert.Equal(t, o.Version+1, out.Version)
	assert.Nil(t, out.DeliveredAt)

	p1 := f.product(t, "p1")
	assert.Equal(t, 8, p1.Stock)
	assert.Equal(t, 2, p1.SoldOut)
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderStatusChanged))
}

func TestUpdateStatusRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	cases := []struct {
		name   string
		id     string
		shopID string
		status string
		kind   orders.Kind
		code   string
	}{
		{"skip transit", o.ID, "shop-a", "Delivered", orders.KindConflict, "invalid_transition"},
		{"unknown status", o.ID, "shop-a", "Lost", orders.KindValidation, "invalid_status"},
		{"refund via seller update", o.ID, "shop-a", "Refund Success", orders.KindValidation, "status_not_allowed"},
		{"back to processing", o.ID, "shop-a", "Processing", orders.KindValidation, "status_not_allowed"},
		{"other shop", o.ID, "shop-b", "InTransit", orders.KindForbidden, "not_order_shop"},
		{"no shop", o.ID, "", "InTransit", orders.KindForbidden, "not_order_shop"},
		{"unknown order", "missing", "shop-a", "InTransit", orders.KindNotFound, "order_not_found"},
		{"empty id", "", "shop-a", "InTransit", orders.KindValidation, "missing_order_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateStatus(ctx, tc.id, tc.shopID, tc.status)
			assert.Equal(t, tc.kind, kindOf(err))
			assert.Equal(t, tc.code, orders.CodeOf(err))
		})
	}

	cur, err := f.svc.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, cur.Status)
	assert.Equal(t, o.Version, cur.Version)
}

func TestDeliveredIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.deliver(t, f.createOne(t))

	_, err := f.svc.RequestRefund(ctx, o.ID, "buyer-1", "")
	assert.Equal(t, "invalid_transition", orders.CodeOf(err))
	_, err = f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	assert.Equal(t, "invalid_transition", orders.CodeOf(err))
}

func TestRefundRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	req, err := f.svc.RequestRefund(ctx, o.ID, "buyer-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefundRequested, req.Status)
	assert.Equal(t, 8, f.product(t, "p1").Stock)

	acc, err := f.svc.AcceptRefund(ctx, o.ID, "shop-a", string(orders.StatusRefundAccepted))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefundAccepted, acc.Status)
	p1 := f.product(t, "p1")
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 0, p1.SoldOut)

	// a repeated acceptance does not restock twice
	_, err = f.svc.AcceptRefund(ctx, o.ID, "shop-a", "RefundAccepted")
	require.NoError(t, err)
	assert.Equal(t, 10, f.product(t, "p1").Stock)
	assert.True(t, f.balance(t, "shop-a").IsZero())
}

func TestRefundFromTransit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	_, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, o.ID, "buyer-1", "Refund Requested")
	require.NoError(t, err)
	_, err = f.svc.AcceptRefund(ctx, o.ID, "shop-a", "")
	require.NoError(t, err)
	assert.Equal(t, 10, f.product(t, "p1").Stock)
}

func TestRefundRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOne(t)

	_, err := f.svc.RequestRefund(ctx, o.ID, "buyer-2", "")
	assert.Equal(t, orders.KindForbidden, kindOf(err))
	assert.Equal(t, "not_order_buyer", orders.CodeOf(err))

	_, err = f.svc.RequestRefund(ctx, o.ID, "buyer-1", "Delivered")
	assert.Equal(t, "status_not_allowed", orders.CodeOf(err))

	_, err = f.svc.AcceptRefund(ctx, o.ID, "shop-a", "")
	assert.Equal(t, orders.KindConflict, kindOf(err))
	assert.Equal(t, "invalid_transition", orders.CodeOf(err))
	assert.Equal(t, 8, f.product(t, "p1").Stock)

	_, err = f.svc.RequestRefund(ctx, o.ID, "buyer-1", "")
	require.NoError(t, err)
	_, err = f.svc.AcceptRefund(ctx, o.ID, "shop-b", "")
	assert.Equal(t, orders.KindForbidden, kindOf(err))
	assert.Equal(t, 8, f.product(t, "p1").Stock)
}

// flakyPayouts fails the first n credits.
type flakyPayouts struct {
	orders.Payouts
	failures atomic.Int32
}

func (p *flakyPayouts) CreditDelivery(ctx context.Context, shopID, orderID string, total decimal.Decimal) (payout.Credit, error) {
	if p.failures.Add(-1) >= 0 {
		return payout.Credit{}, errors.New("balance store unavailable")
	}
	return p.Payouts.CreditDelivery(ctx, shopID, orderID, total)
}

func TestPayoutFailureSettledByRetry(t *testing.T) {
	f := newFixture(t, withPayouts(func(p orders.Payouts) orders.Payouts {
		fp := &flakyPayouts{Payouts: p}
		fp.failures.Store(1)
		return fp
	}))
	ctx := context.Background()
	o := f.createOne(t)
	require.NoError(t, f.svc.VerifyOTP(ctx, o.ID, o.OTP))
	_, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)

	out, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "Delivered")
	assert.Equal(t, orders.KindPartialFailure, kindOf(err))
	assert.Equal(t, "payout_pending", orders.CodeOf(err))
	assert.Equal(t, orders.StatusDelivered, out.Status)
	assert.True(t, f.balance(t, "shop-a").IsZero())

	_, err = f.svc.UpdateStatus(ctx, o.ID, "shop-a", "Delivered")
	require.NoError(t, err)
	assert.True(t, f.balance(t, "shop-a").Equal(decimal.NewFromInt(930)))
}

// conflictingStore reports a version conflict for the first n updates.
type conflictingStore struct {
	orders.Store
	conflicts atomic.Int32
}

func (s *conflictingStore) Update(ctx context.Context, o orders.Order) error {
	if s.conflicts.Add(-1) >= 0 {
		return orders.ErrVersionConflict
	}
	return s.Store.Update(ctx, o)
}

func TestVersionConflictIsRetried(t *testing.T) {
	var cs *conflictingStore
	f := newFixture(t, withStore(func(s orders.Store) orders.Store {
		cs = &conflictingStore{Store: s}
		return cs
	}))
	ctx := context.Background()
	o := f.createOne(t)

	cs.conflicts.Store(2)
	out, err := f.svc.UpdateStatus(ctx, o.ID, "shop-a", "InTransit")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInTransit, out.Status)

	cs.conflicts.Store(3)
	_, err = f.svc.RequestRefund(ctx, o.ID, "buyer-1", "")
	assert.Equal(t, orders.KindConflict, kindOf(err))
	assert.Equal(t, "concurrent_update", orders.CodeOf(err))
}
