package orders

import (
	"context"
	"strings"

	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"go.opentelemetry.io/otel/attribute"
)

// VerifyOTP confirms the delivery code of an order. It succeeds once per
// order; later attempts report that the code was already verified.
func (s *Service) VerifyOTP(ctx context.Context, orderID, code string) (err error) {
	ctx, done := s.begin(ctx, "verify_otp", attribute.String("order.id", orderID))
	defer func() { done(&err) }()

	code = strings.TrimSpace(code)
	if orderID == "" {
		return Validation("missing_order_id", "order id is required")
	}
	if code == "" {
		return Validation("missing_otp", "otp is required")
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return storeErr(err, orderID)
	}
	if o.OTPVerified {
		return Conflict("otp_already_verified", "OTP already verified")
	}

	// Counted before comparing so wrong and right guesses share one budget.
	allowed, err := s.attempts.Attempt(ctx, orderID)
	if err != nil {
		return Upstream(err, "otp_limiter_unavailable", "cannot verify OTP right now, try again later")
	}
	if !allowed {
		return newError(KindTooManyAttempts, "otp_attempts_exhausted", "too many OTP attempts, try again later")
	}

	if !otp.Equal(code, o.OTP) {
		return Validation("otp_mismatch", "Invalid OTP")
	}

	flipped, err := s.store.MarkOTPVerified(ctx, orderID, s.now().UTC())
	if err != nil {
		return storeErr(err, orderID)
	}
	if !flipped {
		return Conflict("otp_already_verified", "OTP already verified")
	}

	s.publish(ctx, TopicOrderOTPVerified, EventOrderOTPVerified, o.ID, OrderOTPVerifiedPayload{
		OrderID: o.ID,
		ShopID:  o.ShopID,
	})
	return nil
}
