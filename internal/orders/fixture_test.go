package orders_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/memory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *orders.Service
	store    *memory.OrderStore
	products *memory.ProductStore
	shops    *memory.ShopStore
	ledger   *inventory.Ledger
	payouts  *payout.Engine
	pub      *recordingPublisher
	locker   *memory.CheckoutLocker
}

type fixtureOption func(*orders.Deps)

func withStore(wrap func(orders.Store) orders.Store) fixtureOption {
	return func(d *orders.Deps) { d.Store = wrap(d.Store) }
}

func withPayouts(wrap func(orders.Payouts) orders.Payouts) fixtureOption {
	return func(d *orders.Deps) { d.Payouts = wrap(d.Payouts) }
}

func withAttempts(l otp.AttemptLimiter) fixtureOption {
	return func(d *orders.Deps) { d.Attempts = l }
}

func withoutDeliveryOTP() fixtureOption {
	return func(d *orders.Deps) { d.RequireDeliveryOTP = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewOrderStore(),
		products: memory.NewProductStore(),
		shops:    memory.NewShopStore(),
		pub:      &recordingPublisher{},
		locker:   memory.NewCheckoutLocker(),
	}
	f.products.Put(inventory.Product{ID: "p1", ShopID: "shop-a", Name: "Kettle", Stock: 10})
	f.products.Put(inventory.Product{ID: "p2", ShopID: "shop-b", Name: "Mug", Stock: 5})
	f.products.Put(inventory.Product{ID: "p3", ShopID: "shop-a", Name: "Tray", Stock: 1})
	f.shops.Put(payout.Shop{ID: "shop-a", AvailableBalance: decimal.Zero})
	f.shops.Put(payout.Shop{ID: "shop-b", AvailableBalance: decimal.Zero})

	f.ledger = inventory.NewLedger(f.products, inventory.Options{BaseBackoff: time.Millisecond})
	var err error
	f.payouts, err = payout.NewEngine(payout.DefaultConfig(), f.shops, nil, nil)
	require.NoError(t, err)

	deps := orders.Deps{
		Store:              f.store,
		Ledger:             f.ledger,
		Payouts:            f.payouts,
		Codes:              fixedCode("482913"),
		Attempts:           otp.NewMemoryLimiter(5, time.Minute),
		Locker:             f.locker,
		Publisher:          f.pub,
		RequireDeliveryOTP: true,
		Now:                newClock().Now,
	}
	for _, o := range opts {
		o(&deps)
	}
	f.svc, err = orders.NewService(deps)
	require.NoError(t, err)
	return f
}

func (f *fixture) product(t *testing.T, id string) inventory.Product {
	t.Helper()
	p, err := f.products.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, shopID string) decimal.Decimal {
	t.Helper()
	b, err := f.payouts.Balance(context.Background(), shopID)
	require.NoError(t, err)
	return b
}

// createOne places a single-shop order: 2 x p1 at 500 = 1000.
func (f *fixture) createOne(t *testing.T) orders.Order {
	t.Helper()
	res, err := f.svc.CreateOrders(context.Background(), input(
		item("p1", "shop-a", "500", 2),
	))
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	return res.Orders[0]
}

// deliver walks an order to Delivered, verifying the OTP on the way.
func (f *fixture) deliver(t *testing.T, o orders.Order) orders.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.VerifyOTP(ctx, o.ID, o.OTP))
	_, err := f.svc.UpdateStatus(ctx, o.ID, o.ShopID, string(orders.StatusInTransit))
	require.NoError(t, err)
	out, err := f.svc.UpdateStatus(ctx, o.ID, o.ShopID, string(orders.StatusDelivered))
	require.NoError(t, err)
	return out
}

func item(productID, shopID, price string, qty int) orders.CartItem {
	return orders.CartItem{
		ProductID: productID,
		ShopID:    shopID,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func input(items ...orders.CartItem) orders.CreateInput {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return orders.CreateInput{
		Cart:            items,
		ShippingAddress: orders.Address{Address1: "Jl. Merdeka 1", City: "Bandung", Country: "ID"},
		Buyer:           orders.Buyer{ID: "buyer-1", Name: "Rina", Email: "rina@example.com"},
		TotalPrice:      total,
		PaymentInfo:     orders.PaymentInfo{ID: "pay-1", Status: "Pending", Type: "Card"},
	}
}

type fixedCode string

func (c fixedCode) Generate() (string, error) { return string(c), nil }

// clock advances one second per reading so creation times are distinct.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type published struct {
	topic string
	env   orders.Envelope
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, env: env})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

func (p *recordingPublisher) count(topic string) int {
	n := 0
	for _, t := range p.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

func kindOf(err error) orders.Kind { return orders.KindOf(err) }
