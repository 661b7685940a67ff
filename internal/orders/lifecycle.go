package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"go.opentelemetry.io/otel/attribute"
)

type transition struct {
	orderID   string
	target    Status
	authorize func(Order) error
	// before runs ahead of the write; a failure leaves the order untouched.
	before func(context.Context, Order) error
	// settle is the idempotent side effect of reaching target. It runs
	// after the write, or before it when settleFirst is set, and again
	// when a retry finds the order already in target.
	settle      func(context.Context, Order) error
	settleFirst bool
	apply       func(*Order, time.Time)
}

// UpdateStatus is the seller-side fulfillment step: Processing ->
// InTransit -> Delivered. Delivered stamps deliveredAt, marks the payment
// succeeded and credits the shop's payout exactly once.
func (s *Service) UpdateStatus(ctx context.Context, orderID, shopID, status string) (o Order, err error) {
	ctx, done := s.begin(ctx, "update_status", attribute.String("order.id", orderID))
	defer func() { done(&err) }()

	target, err := ParseStatus(status)
	if err != nil {
		return Order{}, err
	}
	if target != StatusInTransit && target != StatusDelivered {
		return Order{}, Validation("status_not_allowed", "sellers may set %q or %q, not %q",
			StatusInTransit, StatusDelivered, target)
	}

	t := transition{
		orderID:   orderID,
		target:    target,
		authorize: s.sellerOf(shopID),
	}
	if target == StatusDelivered {
		t.before = s.requireVerifiedOTP
		t.apply = func(o *Order, now time.Time) {
			if o.DeliveredAt == nil {
				o.DeliveredAt = &now
			}
			o.PaymentInfo.Status = PaymentSucceeded
		}
		t.settle = s.creditPayout
	}
	return s.transition(ctx, t)
}

// RequestRefund is the buyer asking for a refund of an open order.
func (s *Service) RequestRefund(ctx context.Context, orderID, buyerID, status string) (o Order, err error) {
	ctx, done := s.begin(ctx, "request_refund", attribute.String("order.id", orderID))
	defer func() { done(&err) }()

	if err = expectStatus(status, StatusRefundRequested); err != nil {
		return Order{}, err
	}
	return s.transition(ctx, transition{
		orderID:   orderID,
		target:    StatusRefundRequested,
		authorize: buyerOf(buyerID),
	})
}

// AcceptRefund is the seller approving a refund. Stock for every line is
// given back before the status is written, so a success response always
// means the stock is restored.
func (s *Service) AcceptRefund(ctx context.Context, orderID, shopID, status string) (o Order, err error) {
	ctx, done := s.begin(ctx, "accept_refund", attribute.String("order.id", orderID))
	defer func() { done(&err) }()

	if err = expectStatus(status, StatusRefundAccepted); err != nil {
		return Order{}, err
	}
	return s.transition(ctx, transition{
		orderID:     orderID,
		target:      StatusRefundAccepted,
		authorize:   s.sellerOf(shopID),
		settle:      s.releaseStock,
		settleFirst: true,
	})
}

func expectStatus(raw string, want Status) error {
	if raw == "" {
		return nil
	}
	got, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	if got != want {
		return Validation("status_not_allowed", "this operation only sets %q, not %q", want, got)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, t transition) (Order, error) {
	if t.orderID == "" {
		return Order{}, Validation("missing_order_id", "order id is required")
	}

	for attempt := 1; ; attempt++ {
		cur, err := s.store.Get(ctx, t.orderID)
		if err != nil {
			return Order{}, storeErr(err, t.orderID)
		}
		if err := t.authorize(cur); err != nil {
			return Order{}, err
		}

		if cur.Status == t.target {
			// Retry of a transition that already happened: finish its side
			// effect (no-op when it was applied) and report the order.
			if t.settle != nil {
				if err := t.settle(ctx, cur); err != nil {
					return cur, err
				}
			}
			return cur, nil
		}
		if !CanTransition(cur.Status, t.target) {
			return Order{}, Conflict("invalid_transition", "cannot move order %s from %q to %q",
				cur.ID, cur.Status, t.target)
		}

		if t.before != nil {
			if err := t.before(ctx, cur); err != nil {
				return Order{}, err
			}
		}
		if t.settleFirst && t.settle != nil {
			if err := t.settle(ctx, cur); err != nil {
				return Order{}, err
			}
		}

		now := s.now().UTC()
		next := cur.Clone()
		next.Status = t.target
		next.UpdatedAt = now
		if t.apply != nil {
			t.apply(&next, now)
		}

		err = s.store.Update(ctx, next)
		if errors.Is(err, ErrVersionConflict) {
			if attempt >= s.maxUpdateAttempts {
				return Order{}, Conflict("concurrent_update", "order %s was modified concurrently, retry", cur.ID)
			}
			continue
		}
		if err != nil {
			return Order{}, storeErr(err, cur.ID)
		}
		next.Version++

		s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, next.ID, OrderStatusChangedPayload{
			OrderID:     next.ID,
			ShopID:      next.ShopID,
			BuyerID:     next.Buyer.ID,
			BuyerName:   next.Buyer.Name,
			BuyerEmail:  next.Buyer.Email,
			From:        cur.Status,
			To:          next.Status,
			DeliveredAt: next.DeliveredAt,
		})

		if !t.settleFirst && t.settle != nil {
			if err := t.settle(ctx, next); err != nil {
				return next, err
			}
		}
		return next, nil
	}
}

func (s *Service) sellerOf(shopID string) func(Order) error {
	return func(o Order) error {
		if shopID == "" || o.ShopID != shopID {
			return Forbidden("not_order_shop", "order %s does not belong to this shop", o.ID)
		}
		return nil
	}
}

func buyerOf(buyerID string) func(Order) error {
	return func(o Order) error {
		if buyerID == "" || o.Buyer.ID != buyerID {
			return Forbidden("not_order_buyer", "order %s does not belong to this buyer", o.ID)
		}
		return nil
	}
}

func (s *Service) requireVerifiedOTP(_ context.Context, o Order) error {
	if s.requireDeliveryOTP && !o.OTPVerified {
		return Conflict("otp_not_verified", "delivery code for order %s has not been verified", o.ID)
	}
	return nil
}

func (s *Service) creditPayout(ctx context.Context, o Order) error {
	c, err := s.payouts.CreditDelivery(ctx, o.ShopID, o.ID, o.TotalPrice)
	if err != nil {
		e := newError(KindPartialFailure, "payout_pending",
			"order %s is delivered but the payout credit failed; repeat the update to settle it", o.ID)
		e.ShopID, e.OrderID, e.Err = o.ShopID, o.ID, err
		return e
	}
	if c.Applied {
		s.publish(ctx, TopicPayoutCredited, EventPayoutCredited, o.ID, PayoutCreditedPayload{
			OrderID:    o.ID,
			ShopID:     o.ShopID,
			Gross:      c.Gross.StringFixed(2),
			Commission: c.Commission.StringFixed(2),
			Net:        c.Net.StringFixed(2),
			Currency:   c.Currency,
		})
	}
	return nil
}

// releaseStock gives back every line's quantity, keyed per line so a
// retried acceptance never restocks twice.
func (s *Service) releaseStock(ctx context.Context, o Order) error {
	for _, it := range o.Cart {
		ref := inventory.Ref{OrderID: o.ID, LineID: it.ID}
		if err := s.ledger.Release(ctx, ref, it.ProductID, it.Quantity); err != nil {
			e := newError(KindPartialFailure, "stock_release_incomplete",
				"stock release for order %s stopped at product %s; the refund was not accepted, retry", o.ID, it.ProductID)
			e.ShopID, e.OrderID, e.Err = o.ShopID, o.ID, err
			return e
		}
	}
	s.publish(ctx, TopicStockReleased, EventStockReleased, o.ID, StockReleasedPayload{
		OrderID: o.ID,
		Items:   itemsOf(o),
	})
	return nil
}
