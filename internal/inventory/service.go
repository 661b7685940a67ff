package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Recorder interface {
	ObserveMovement(direction, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMovement(string, string) {}

type Options struct {
	// MaxAttempts bounds retries of transient store failures (default 3).
	MaxAttempts int
	BaseBackoff time.Duration
	// CallTimeout bounds every single store call (default 2s).
	CallTimeout time.Duration
	Recorder    Recorder
	Logger      *zap.Logger
}

// Ledger is the only writer of product stock and sold counts.
type Ledger struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	rec         Recorder
	log         *zap.Logger
}

func NewLedger(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:       store,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.BaseBackoff,
		callTimeout: opts.CallTimeout,
		rec:         opts.Recorder,
		log:         opts.Logger,
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = 3
	}
	if l.backoff <= 0 {
		l.backoff = 50 * time.Millisecond
	}
	if l.callTimeout <= 0 {
		l.callTimeout = 2 * time.Second
	}
	if l.rec == nil {
		l.rec = nopRecorder{}
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// Reserve takes qty units: stock -= qty, sold_out += qty.
func (l *Ledger) Reserve(ctx context.Context, ref Ref, productID string, qty int) error {
	return l.apply(ctx, Movement{Ref: ref, Direction: DirectionReserve, ProductID: productID, Qty: qty})
}

// Release gives qty units back: stock += qty, sold_out -= qty.
func (l *Ledger) Release(ctx context.Context, ref Ref, productID string, qty int) error {
	return l.apply(ctx, Movement{Ref: ref, Direction: DirectionRelease, ProductID: productID, Qty: qty})
}

func (l *Ledger) Product(ctx context.Context, productID string) (Product, error) {
	return l.store.Get(ctx, productID)
}

func (l *Ledger) apply(ctx context.Context, m Movement) error {
	if m.Qty <= 0 {
		return fmt.Errorf("%s %s: %w", m.Direction, m.ProductID, ErrInvalidQuantity)
	}
	if m.ProductID == "" || m.Ref.OrderID == "" || m.Ref.LineID == "" {
		return fmt.Errorf("%s: product, order and line ids are required", m.Direction)
	}

	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, l.callTimeout)
		applied, err := l.store.Apply(cctx, m)
		cancel()

		switch {
		case err == nil && applied:
			l.rec.ObserveMovement(string(m.Direction), "applied")
			return nil
		case err == nil:
			l.rec.ObserveMovement(string(m.Direction), "duplicate")
			l.log.Debug("stock movement already applied", zap.String("key", m.Key()))
			return nil
		case errors.Is(err, ErrInsufficientStock):
			l.rec.ObserveMovement(string(m.Direction), "insufficient_stock")
			return err
		case errors.Is(err, ErrProductNotFound):
			l.rec.ObserveMovement(string(m.Direction), "not_found")
			return err
		}

		if attempt >= l.maxAttempts || ctx.Err() != nil {
			l.rec.ObserveMovement(string(m.Direction), "failed")
			return fmt.Errorf("%s %s x%d after %d attempts: %w", m.Direction, m.ProductID, m.Qty, attempt, err)
		}

		wait := l.backoff << (attempt - 1)
		l.log.Warn("stock movement failed, retrying",
			zap.String("key", m.Key()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.rec.ObserveMovement(string(m.Direction), "failed")
			return fmt.Errorf("%s %s: %w", m.Direction, m.ProductID, ctx.Err())
		case <-t.C:
		}
	}
}
