package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

// ProductStore keeps products and applied movement keys behind one mutex,
// so every Apply is atomic for its product.
type ProductStore struct {
	mu       sync.Mutex
	products map[string]inventory.Product
	applied  map[string]struct{}
}

func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[string]inventory.Product),
		applied:  make(map[string]struct{}),
	}
}

func (s *ProductStore) Put(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *ProductStore) Get(_ context.Context, productID string) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (s *ProductStore) Apply(ctx context.Context, m inventory.Movement) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Key()
	if _, dup := s.applied[key]; dup {
		return false, nil
	}
	p, ok := s.products[m.ProductID]
	if !ok {
		return false, inventory.ErrProductNotFound
	}

	switch m.Direction {
	case inventory.DirectionReserve:
		if p.Stock < m.Qty {
			return false, inventory.ErrInsufficientStock
		}
		p.Stock -= m.Qty
		p.SoldOut += m.Qty
	case inventory.DirectionRelease:
		p.Stock += m.Qty
		p.SoldOut = max(p.SoldOut-m.Qty, 0)
	}
	s.products[p.ID] = p
	s.applied[key] = struct{}{}
	return true, nil
}
