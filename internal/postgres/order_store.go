package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OrderStore keeps orders in one row each; cart, buyer, address and payment
// are JSONB snapshots.
type OrderStore struct{ DB *pgxpool.Pool }

const orderColumns = `id, checkout_id, shop_id, cart, shipping_address, buyer, total_price::text,
	payment_info, status, otp, otp_verified, delivered_at, created_at, updated_at, version`

func (s *OrderStore) Insert(ctx context.Context, o orders.Order) error {
	cart, addr, buyer, pay, err := marshalSnapshots(o)
	if err != nil {
		return err
	}
	var checkoutID *string
	if o.CheckoutID != "" {
		checkoutID = &o.CheckoutID
	}

	_, err = s.DB.Exec(ctx, `
		INSERT INTO orders(id, checkout_id, shop_id, buyer_id, cart, shipping_address, buyer,
			total_price, payment_info, status, otp, otp_verified, delivered_at, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, checkoutID, o.ShopID, o.Buyer.ID, cart, addr, buyer,
		o.TotalPrice.String(), pay, string(o.Status), o.OTP, o.OTPVerified, o.DeliveredAt,
		o.CreatedAt, o.UpdatedAt, o.Version,
	)
	if isUniqueViolation(err) {
		return orders.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// Update is a compare-and-set on version.
func (s *OrderStore) Update(ctx context.Context, o orders.Order) error {
	cart, addr, buyer, pay, err := marshalSnapshots(o)
	if err != nil {
		return err
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET cart=$3, shipping_address=$4, buyer=$5, total_price=$6::numeric, payment_info=$7,
			status=$8, otp_verified=$9, delivered_at=$10, updated_at=$11, version=version+1
		WHERE id=$1 AND version=$2`,
		o.ID, o.Version, cart, addr, buyer, o.TotalPrice.String(), pay,
		string(o.Status), o.OTPVerified, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	exists, err := s.exists(ctx, o.ID)
	if err != nil {
		return err
	}
	if !exists {
		return orders.ErrNotFound
	}
	return orders.ErrVersionConflict
}

func (s *OrderStore) MarkOTPVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET otp_verified=TRUE, updated_at=$2, version=version+1
		WHERE id=$1 AND NOT otp_verified`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark otp verified %s: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, orders.ErrNotFound
	}
	return false, nil
}

func (s *OrderStore) ListByBuyer(ctx context.Context, buyerID string) ([]orders.Order, error) {
	return s.list(ctx, `WHERE buyer_id=$1 ORDER BY created_at DESC, id DESC`, buyerID)
}

func (s *OrderStore) ListByShop(ctx context.Context, shopID string) ([]orders.Order, error) {
	return s.list(ctx, `WHERE shop_id=$1 ORDER BY created_at DESC, id DESC`, shopID)
}

func (s *OrderStore) ListAll(ctx context.Context) ([]orders.Order, error) {
	return s.list(ctx, `ORDER BY delivered_at DESC NULLS LAST, created_at DESC, id DESC`)
}

func (s *OrderStore) ListByCheckout(ctx context.Context, checkoutID string) ([]orders.Order, error) {
	return s.list(ctx, `WHERE checkout_id=$1 ORDER BY created_at, id`, checkoutID)
}

func (s *OrderStore) list(ctx context.Context, tail string, args ...any) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]orders.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *OrderStore) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check order %s: %w", id, err)
	}
	return ok, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                      orders.Order
		checkoutID             *string
		cart, addr, buyer, pay []byte
		total, status          string
	)
	err := row.Scan(&o.ID, &checkoutID, &o.ShopID, &cart, &addr, &buyer, &total,
		&pay, &status, &o.OTP, &o.OTPVerified, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return orders.Order{}, err
	}
	if checkoutID != nil {
		o.CheckoutID = *checkoutID
	}
	o.Status = orders.Status(status)
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{cart, &o.Cart}, {addr, &o.ShippingAddress}, {buyer, &o.Buyer}, {pay, &o.PaymentInfo}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return orders.Order{}, fmt.Errorf("order %s snapshot: %w", o.ID, err)
		}
	}
	return o, nil
}

func marshalSnapshots(o orders.Order) (cart, addr, buyer, pay []byte, err error) {
	if cart, err = json.Marshal(o.Cart); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal cart: %w", err)
	}
	if addr, err = json.Marshal(o.ShippingAddress); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal address: %w", err)
	}
	if buyer, err = json.Marshal(o.Buyer); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal buyer: %w", err)
	}
	if pay, err = json.Marshal(o.PaymentInfo); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal payment: %w", err)
	}
	return cart, addr, buyer, pay, nil
}
