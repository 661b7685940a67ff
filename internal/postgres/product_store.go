package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProductStore struct{ DB *pgxpool.Pool }

// Upsert seeds or replaces a product row.
func (s *ProductStore) Upsert(ctx context.Context, p inventory.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, shop_id, name, stock, sold_out)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET shop_id=EXCLUDED.shop_id, name=EXCLUDED.name, stock=EXCLUDED.stock,
			sold_out=EXCLUDED.sold_out, updated_at=NOW()`,
		p.ID, p.ShopID, p.Name, p.Stock, p.SoldOut)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (s *ProductStore) Get(ctx context.Context, productID string) (inventory.Product, error) {
	var p inventory.Product
	err := s.DB.QueryRow(ctx, `SELECT id, shop_id, name, stock, sold_out FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.ShopID, &p.Name, &p.Stock, &p.SoldOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("get product %s: %w", productID, err)
	}
	return p, nil
}

// Apply records the movement and adjusts stock in one transaction. The
// movement key row is the idempotency guard: a replayed key changes nothing.
// Reserve only succeeds while stock >= qty, so stock never goes negative.
func (s *ProductStore) Apply(ctx context.Context, m inventory.Movement) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO stock_movements(movement_key, order_id, line_id, product_id, direction, qty)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (movement_key) DO NOTHING`,
		m.Key(), m.Ref.OrderID, m.Ref.LineID, m.ProductID, string(m.Direction), m.Qty)
	if err != nil {
		return false, fmt.Errorf("record movement %s: %w", m.Key(), err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	var q string
	switch m.Direction {
	case inventory.DirectionReserve:
		q = `UPDATE products SET stock = stock - $2, sold_out = sold_out + $2, updated_at = NOW()
		     WHERE id=$1 AND stock >= $2`
	case inventory.DirectionRelease:
		q = `UPDATE products SET stock = stock + $2, sold_out = GREATEST(sold_out - $2, 0), updated_at = NOW()
		     WHERE id=$1`
	default:
		return false, fmt.Errorf("unknown movement direction %q", m.Direction)
	}
	ct, err = tx.Exec(ctx, q, m.ProductID, m.Qty)
	if err != nil {
		return false, fmt.Errorf("apply movement %s: %w", m.Key(), err)
	}
	if ct.RowsAffected() != 1 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, m.ProductID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, inventory.ErrProductNotFound
		}
		return false, inventory.ErrInsufficientStock // rollback via defer
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
