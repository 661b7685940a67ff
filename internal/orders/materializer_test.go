package orders_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionKeepsFirstSeenShopOrder(t *testing.T) {
	groups := orders.Partition([]orders.CartItem{
		{ProductID: "p2", ShopID: "shop-b", Quantity: 1},
		{ProductID: "p1", ShopID: "shop-a", Quantity: 2},
		{ProductID: "p4", ShopID: "shop-b", Quantity: 3},
		{ProductID: "p9", ShopID: "shop-c", Quantity: 1},
	})

	require.Len(t, groups, 3)
	assert.Equal(t, "shop-b", groups[0].ShopID)
	assert.Equal(t, "shop-a", groups[1].ShopID)
	assert.Equal(t, "shop-c", groups[2].ShopID)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, "p2", groups[0].Items[0].ProductID)
	assert.Equal(t, "p4", groups[0].Items[1].ProductID)
}

func TestCreateOrdersOnePerShop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateOrders(ctx, input(
		item("p1", "shop-a", "10", 2),
		item("p2", "shop-b", "5", 1),
	))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.Len(t, res.Orders, 2)

	a, b := res.Orders[0], res.Orders[1]
	assert.Equal(t, "shop-a", a.ShopID)
	assert.Equal(t, "shop-b", b.ShopID)
	for _, o := range res.Orders {
		assert.Equal(t, orders.StatusProcessing, o.Status)
		assert.Equal(t, "482913", o.OTP)
		assert.False(t, o.OTPVerified)
		assert.Nil(t, o.DeliveredAt)
		for _, it := range o.Cart {
			assert.Equal(t, o.ShopID, it.ShopID)
			assert.NotEmpty(t, it.ID)
		}
	}
	assert.True(t, a.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.True(t, b.TotalPrice.Equal(decimal.NewFromInt(5)))
	assert.NotEqual(t, a.ID, b.ID)

	// stock moves by the requested quantity, not by one per line
	p1, p2 := f.product(t, "p1"), f.product(t, "p2")
	assert.Equal(t, 8, p1.Stock)
	assert.Equal(t, 2, p1.SoldOut)
	assert.Equal(t, 4, p2.Stock)
	assert.Equal(t, 1, p2.SoldOut)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Cart, stored.Cart)
	assert.Equal(t, 2, f.pub.count(orders.TopicOrderCreated))
}

func TestCreateOrdersGroupsInterleavedLines(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateOrders(context.Background(), input(
		item("p1", "shop-a", "10", 1),
		item("p2", "shop-b", "5", 2),
		item("p3", "shop-a", "3.50", 1),
	))
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)

	a := res.Orders[0]
	require.Len(t, a.Cart, 2)
	assert.Equal(t, "p1", a.Cart[0].ProductID)
	assert.Equal(t, "p3", a.Cart[1].ProductID)
	assert.Equal(t, "13.50", a.TotalPrice.StringFixed(2))
	assert.Equal(t, 3, a.Quantity())
	assert.Equal(t, 0, f.product(t, "p3").Stock)
}

func TestCreateOrdersInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrders(ctx, input(
		item("p1", "shop-a", "10", 2),
		item("p2", "shop-b", "5", 6),
	))
	require.Error(t, err)
	assert.Equal(t, orders.KindInsufficientStock, kindOf(err))
	assert.Contains(t, err.Error(), "p2")
	assert.Contains(t, err.Error(), "shop-b")

	p1 := f.product(t, "p1")
	assert.Equal(t, 10, p1.Stock, "reservation of the first shop is given back")
	assert.Equal(t, 0, p1.SoldOut)

	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.pub.count(orders.TopicOrderCreated))
}

func TestCreateOrdersUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrders(context.Background(), input(
		item("p1", "shop-a", "10", 1),
		item("ghost", "shop-a", "1", 1),
	))
	assert.Equal(t, orders.KindNotFound, kindOf(err))
	assert.Equal(t, "product_not_found", orders.CodeOf(err))
	assert.Equal(t, 10, f.product(t, "p1").Stock)
}

func TestCreateOrdersValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooPrecise := input(item("p1", "shop-a", "1.005", 1))
	mismatch := input(item("p1", "shop-a", "10", 1))
	mismatch.TotalPrice = decimal.NewFromInt(11)
	noBuyer := input(item("p1", "shop-a", "10", 1))
	noBuyer.Buyer.ID = ""
	noAddress := input(item("p1", "shop-a", "10", 1))
	noAddress.ShippingAddress = orders.Address{}

	cases := map[string]struct {
		in   orders.CreateInput
		code string
	}{
		"empty cart":     {orders.CreateInput{Buyer: orders.Buyer{ID: "b"}}, "empty_cart"},
		"zero quantity":  {input(item("p1", "shop-a", "10", 0)), "invalid_quantity"},
		"missing shop":   {input(item("p1", "", "10", 1)), "invalid_cart_item"},
		"negative price": {input(item("p1", "shop-a", "-1", 1)), "invalid_price"},
		"three decimals": {tooPrecise, "invalid_price"},
		"total mismatch": {mismatch, "total_mismatch"},
		"missing buyer":  {noBuyer, "missing_buyer"},
		"no address":     {noAddress, "missing_shipping_address"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrders(ctx, tc.in)
			assert.Equal(t, orders.KindValidation, kindOf(err))
			assert.Equal(t, tc.code, orders.CodeOf(err))
		})
	}
	assert.Equal(t, 10, f.product(t, "p1").Stock)
}

func TestCreateOrdersReplaysCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := input(item("p1", "shop-a", "10", 2), item("p2", "shop-b", "5", 1))
	in.CheckoutID = "chk-1"

	first, err := f.svc.CreateOrders(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.CreateOrders(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	require.Len(t, second.Orders, 2)
	assert.Equal(t, first.Orders[0].ID, second.Orders[0].ID)
	assert.Equal(t, first.Orders[1].ID, second.Orders[1].ID)
	assert.Equal(t, 8, f.product(t, "p1").Stock)
	assert.Equal(t, 4, f.product(t, "p2").Stock)
}

func TestCreateOrdersRejectsCheckoutOfAnotherBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := input(item("p1", "shop-a", "10", 2), item("p2", "shop-b", "5", 1))
	in.CheckoutID = "chk-1"
	_, err := f.svc.CreateOrders(ctx, in)
	require.NoError(t, err)

	t.Run("same cart", func(t *testing.T) {
		stolen := in
		stolen.Buyer.ID = "buyer-2"
		res, err := f.svc.CreateOrders(ctx, stolen)
		require.Error(t, err)
		assert.Equal(t, orders.KindConflict, kindOf(err))
		assert.Equal(t, "checkout_id_taken", orders.CodeOf(err))
		assert.Empty(t, res.Orders)
	})

	t.Run("different cart", func(t *testing.T) {
		stolen := input(item("p3", "shop-a", "7", 1))
		stolen.CheckoutID = "chk-1"
		stolen.Buyer.ID = "buyer-2"
		res, err := f.svc.CreateOrders(ctx, stolen)
		assert.Equal(t, "checkout_id_taken", orders.CodeOf(err))
		assert.Empty(t, res.Orders)
	})

	assert.Equal(t, 8, f.product(t, "p1").Stock)
	assert.Equal(t, 4, f.product(t, "p2").Stock)
	assert.Equal(t, 1, f.product(t, "p3").Stock)
}

func TestCreateOrdersRejectsCheckoutInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unlock, err := f.locker.Lock(ctx, "chk-busy")
	require.NoError(t, err)
	defer unlock()

	in := input(item("p1", "shop-a", "10", 1))
	in.CheckoutID = "chk-busy"
	_, err = f.svc.CreateOrders(ctx, in)
	assert.Equal(t, orders.KindConflict, kindOf(err))
	assert.Equal(t, "checkout_in_flight", orders.CodeOf(err))
}

// failingInsert rejects inserts for one shop while armed.
type failingInsert struct {
	orders.Store
	shopID string
	armed  atomic.Bool
}

func (s *failingInsert) Insert(ctx context.Context, o orders.Order) error {
	if s.armed.Load() && o.ShopID == s.shopID {
		return errors.New("write concern timeout")
	}
	return s.Store.Insert(ctx, o)
}

func TestCreateOrdersPartialFailureCanBeCompleted(t *testing.T) {
	var fi *failingInsert
	f := newFixture(t, withStore(func(s orders.Store) orders.Store {
		fi = &failingInsert{Store: s, shopID: "shop-b"}
		fi.armed.Store(true)
		return fi
	}))
	ctx := context.Background()

	in := input(item("p1", "shop-a", "10", 2), item("p2", "shop-b", "5", 1))
	in.CheckoutID = "chk-partial"

	_, err := f.svc.CreateOrders(ctx, in)
	require.Error(t, err)
	assert.Equal(t, orders.KindPartialFailure, kindOf(err))

	var oe *orders.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "shop-b", oe.ShopID)
	assert.NotEmpty(t, oe.OrderID)
	require.Len(t, oe.Created, 1)

	// shop-a's order stays with its stock; shop-b's stock was given back
	assert.Equal(t, 8, f.product(t, "p1").Stock)
	assert.Equal(t, 5, f.product(t, "p2").Stock)

	fi.armed.Store(false)
	res, err := f.svc.CreateOrders(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, oe.Created[0], res.Orders[0].ID)
	assert.Equal(t, 8, f.product(t, "p1").Stock)
	assert.Equal(t, 4, f.product(t, "p2").Stock)
}

func TestCreateOrdersSingleInsertFailureIsInternal(t *testing.T) {
	f := newFixture(t, withStore(func(s orders.Store) orders.Store {
		fi := &failingInsert{Store: s, shopID: "shop-a"}
		fi.armed.Store(true)
		return fi
	}))

	_, err := f.svc.CreateOrders(context.Background(), input(item("p1", "shop-a", "10", 2)))
	assert.Equal(t, orders.KindInternal, kindOf(err))
	assert.Equal(t, 10, f.product(t, "p1").Stock)
}
