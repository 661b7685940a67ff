package inventory

import (
	"context"
	"errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
)

type Direction string

const (
	DirectionReserve Direction = "reserve"
	DirectionRelease Direction = "release"
)

type Product struct {
	ID      string
	ShopID  string
	Name    string
	Stock   int
	SoldOut int
}

// Ref identifies the order line a movement belongs to.
type Ref struct {
	OrderID string
	LineID  string
}

// Movement is one reserve or release of Qty units. Key() is unique per
// (order, line, direction), which makes a replayed movement a no-op.
type Movement struct {
	Ref       Ref
	Direction Direction
	ProductID string
	Qty       int
}

func (m Movement) Key() string {
	return m.Ref.OrderID + ":" + m.Ref.LineID + ":" + string(m.Direction)
}

// Store applies movements atomically per product.
//
// Apply returns applied=false with a nil error when the movement key was
// already applied. A reserve never takes stock below zero: it fails with
// ErrInsufficientStock instead and leaves the product untouched.
type Store interface {
	Apply(ctx context.Context, m Movement) (applied bool, err error)
	Get(ctx context.Context, productID string) (Product, error)
}
