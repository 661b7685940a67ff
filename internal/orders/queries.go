package orders

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// BuyerOrders lists a buyer's orders, newest first.
func (s *Service) BuyerOrders(ctx context.Context, buyerID string) (out []Order, err error) {
	ctx, done := s.begin(ctx, "list_buyer_orders", attribute.String("buyer.id", buyerID))
	defer func() { done(&err) }()

	if buyerID == "" {
		return nil, Validation("missing_buyer", "buyer id is required")
	}
	out, err = s.store.ListByBuyer(ctx, buyerID)
	return out, storeErr(err, "")
}

// ShopOrders lists a shop's orders, newest first.
func (s *Service) ShopOrders(ctx context.Context, shopID string) (out []Order, err error) {
	ctx, done := s.begin(ctx, "list_shop_orders", attribute.String("shop.id", shopID))
	defer func() { done(&err) }()

	if shopID == "" {
		return nil, Validation("missing_shop", "shop id is required")
	}
	out, err = s.store.ListByShop(ctx, shopID)
	return out, storeErr(err, "")
}

// AllOrders lists every order, most recently delivered first; orders not
// delivered yet follow, newest first.
func (s *Service) AllOrders(ctx context.Context) (out []Order, err error) {
	ctx, done := s.begin(ctx, "list_all_orders")
	defer func() { done(&err) }()

	out, err = s.store.ListAll(ctx)
	return out, storeErr(err, "")
}

func (s *Service) Order(ctx context.Context, orderID string) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	return o, storeErr(err, orderID)
}
