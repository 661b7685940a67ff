package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// OrderStore is an in-process orders.Store. Returned orders are copies.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]orders.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]orders.Order)}
}

func (s *OrderStore) Insert(ctx context.Context, o orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return orders.ErrDuplicate
	}
	if o.CheckoutID != "" {
		for _, cur := range s.orders {
			if cur.CheckoutID == o.CheckoutID && cur.ShopID == o.ShopID {
				return orders.ErrDuplicate
			}
		}
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *OrderStore) Update(ctx context.Context, o orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != o.Version {
		return orders.ErrVersionConflict
	}
	next := o.Clone()
	next.Version = o.Version + 1
	s.orders[o.ID] = next
	return nil
}

func (s *OrderStore) MarkOTPVerified(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, orders.ErrNotFound
	}
	if o.OTPVerified {
		return false, nil
	}
	o.OTPVerified = true
	o.UpdatedAt = at
	o.Version++
	s.orders[id] = o
	return true, nil
}

func (s *OrderStore) ListByBuyer(_ context.Context, buyerID string) ([]orders.Order, error) {
	out := s.filter(func(o orders.Order) bool { return o.Buyer.ID == buyerID })
	sortNewestFirst(out)
	return out, nil
}

func (s *OrderStore) ListByShop(_ context.Context, shopID string) ([]orders.Order, error) {
	out := s.filter(func(o orders.Order) bool { return o.ShopID == shopID })
	sortNewestFirst(out)
	return out, nil
}

func (s *OrderStore) ListAll(_ context.Context) ([]orders.Order, error) {
	out := s.filter(func(orders.Order) bool { return true })
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DeliveredAt, out[j].DeliveredAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *OrderStore) ListByCheckout(_ context.Context, checkoutID string) ([]orders.Order, error) {
	out := s.filter(func(o orders.Order) bool { return o.CheckoutID == checkoutID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *OrderStore) filter(keep func(orders.Order) bool) []orders.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func sortNewestFirst(list []orders.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
