package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// CheckoutLocker is the single-process stand-in for the Redis lock.
type CheckoutLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewCheckoutLocker() *CheckoutLocker {
	return &CheckoutLocker{held: make(map[string]struct{})}
}

func (l *CheckoutLocker) Lock(_ context.Context, checkoutID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[checkoutID]; busy {
		return nil, orders.ErrCheckoutInFlight
	}
	l.held[checkoutID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, checkoutID)
			l.mu.Unlock()
		})
	}, nil
}
