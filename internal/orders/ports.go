package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrVersionConflict  = errors.New("order version conflict")
	ErrDuplicate        = errors.New("order already exists")
	ErrCheckoutInFlight = errors.New("checkout already in progress")
)

// Store persists orders. Every method is atomic for a single order.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// Update writes o only if the stored version still equals o.Version and
	// stores it as o.Version+1; otherwise ErrVersionConflict.
	Update(ctx context.Context, o Order) error
	// MarkOTPVerified flips otpVerified false->true and reports whether
	// this call did the flip.
	MarkOTPVerified(ctx context.Context, id string, at time.Time) (bool, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListByShop(ctx context.Context, shopID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListByCheckout(ctx context.Context, checkoutID string) ([]Order, error)
}

type Ledger interface {
	Reserve(ctx context.Context, ref inventory.Ref, productID string, qty int) error
	Release(ctx context.Context, ref inventory.Ref, productID string, qty int) error
}

type Payouts interface {
	CreditDelivery(ctx context.Context, shopID, orderID string, total decimal.Decimal) (payout.Credit, error)
}

type CodeGenerator interface {
	Generate() (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }

// CheckoutLocker serializes concurrent submissions of one checkout id.
// Lock fails with ErrCheckoutInFlight while another holder is active.
type CheckoutLocker interface {
	Lock(ctx context.Context, checkoutID string) (unlock func(), err error)
}

type Recorder interface {
	ObserveUseCase(name, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUseCase(string, string, time.Duration) {}
