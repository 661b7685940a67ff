package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrShopNotFound = errors.New("shop not found")
	ErrInvalidRate  = errors.New("commission rate must be in [0, 1)")
)

type Shop struct {
	ID               string
	Name             string
	AvailableBalance decimal.Decimal
}

// BalanceStore credits shop balances once per reference (the order id).
type BalanceStore interface {
	Credit(ctx context.Context, shopID, ref string, amount decimal.Decimal) (applied bool, err error)
	Shop(ctx context.Context, shopID string) (Shop, error)
}

type Recorder interface {
	ObservePayout(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObservePayout(string) {}

type Config struct {
	CommissionRate decimal.Decimal
	Currency       string
}

func DefaultConfig() Config {
	return Config{CommissionRate: decimal.RequireFromString("0.07"), Currency: "USD"}
}

type Credit struct {
	ShopID     string
	OrderID    string
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
	Currency   string
	// Applied is false when this order had been credited before.
	Applied bool
}

type Engine struct {
	cfg   Config
	store BalanceStore
	rec   Recorder
	log   *zap.Logger
}

func NewEngine(cfg Config, store BalanceStore, rec Recorder, log *zap.Logger) (*Engine, error) {
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, cfg.CommissionRate)
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, store: store, rec: rec, log: log}, nil
}

// Split returns commission and net for a gross amount, both rounded to
// cents; commission + net always equals the rounded gross.
func (e *Engine) Split(total decimal.Decimal) (commission, net decimal.Decimal) {
	gross := total.Round(2)
	commission = gross.Mul(e.cfg.CommissionRate).Round(2)
	return commission, gross.Sub(commission)
}

// CreditDelivery credits the shop with the order's net payout. Calling it
// again for the same order leaves the balance unchanged.
func (e *Engine) CreditDelivery(ctx context.Context, shopID, orderID string, total decimal.Decimal) (Credit, error) {
	if shopID == "" || orderID == "" {
		return Credit{}, errors.New("payout: shop and order ids are required")
	}
	if total.IsNegative() {
		return Credit{}, fmt.Errorf("payout: negative total %s", total)
	}

	commission, net := e.Split(total)
	c := Credit{
		ShopID:     shopID,
		OrderID:    orderID,
		Gross:      total.Round(2),
		Commission: commission,
		Net:        net,
		Currency:   e.cfg.Currency,
	}

	applied, err := e.store.Credit(ctx, shopID, orderID, net)
	if err != nil {
		e.rec.ObservePayout("failed")
		return Credit{}, fmt.Errorf("credit shop %s for order %s: %w", shopID, orderID, err)
	}
	c.Applied = applied
	if applied {
		e.rec.ObservePayout("applied")
		e.log.Info("payout credited",
			zap.String("shop_id", shopID),
			zap.String("order_id", orderID),
			zap.String("net", net.StringFixed(2)),
			zap.String("commission", commission.StringFixed(2)),
			zap.String("currency", e.cfg.Currency),
		)
	} else {
		e.rec.ObservePayout("duplicate")
	}
	return c, nil
}

func (e *Engine) Balance(ctx context.Context, shopID string) (decimal.Decimal, error) {
	s, err := e.store.Shop(ctx, shopID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.AvailableBalance, nil
}
