package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/shopspring/decimal"
)

type ShopStore struct {
	mu      sync.Mutex
	shops   map[string]payout.Shop
	credits map[string]struct{}
}

func NewShopStore() *ShopStore {
	return &ShopStore{
		shops:   make(map[string]payout.Shop),
		credits: make(map[string]struct{}),
	}
}

func (s *ShopStore) Put(shop payout.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ID] = shop
}

func (s *ShopStore) Shop(_ context.Context, shopID string) (payout.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return payout.Shop{}, payout.ErrShopNotFound
	}
	return shop, nil
}

func (s *ShopStore) Credit(ctx context.Context, shopID, ref string, amount decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.credits[ref]; dup {
		return false, nil
	}
	shop, ok := s.shops[shopID]
	if !ok {
		return false, payout.ErrShopNotFound
	}
	shop.AvailableBalance = shop.AvailableBalance.Add(amount)
	s.shops[shopID] = shop
	s.credits[ref] = struct{}{}
	return true, nil
}
