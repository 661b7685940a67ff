package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ShopStore holds shop balances; payout_credits keeps one row per credited
// order so a credit is applied at most once.
type ShopStore struct{ DB *pgxpool.Pool }

func (s *ShopStore) Upsert(ctx context.Context, shop payout.Shop) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO shops(id, name, available_balance) VALUES ($1,$2,$3::numeric)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, available_balance=EXCLUDED.available_balance, updated_at=NOW()`,
		shop.ID, shop.Name, shop.AvailableBalance.String())
	if err != nil {
		return fmt.Errorf("upsert shop %s: %w", shop.ID, err)
	}
	return nil
}

func (s *ShopStore) Shop(ctx context.Context, shopID string) (payout.Shop, error) {
	var (
		shop    payout.Shop
		balance string
	)
	err := s.DB.QueryRow(ctx, `SELECT id, name, available_balance::text FROM shops WHERE id=$1`, shopID).
		Scan(&shop.ID, &shop.Name, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.Shop{}, payout.ErrShopNotFound
	}
	if err != nil {
		return payout.Shop{}, fmt.Errorf("get shop %s: %w", shopID, err)
	}
	if shop.AvailableBalance, err = decimal.NewFromString(balance); err != nil {
		return payout.Shop{}, fmt.Errorf("shop %s balance: %w", shopID, err)
	}
	return shop, nil
}

func (s *ShopStore) Credit(ctx context.Context, shopID, ref string, amount decimal.Decimal) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO payout_credits(order_id, shop_id, amount) VALUES ($1,$2,$3::numeric)
		ON CONFLICT (order_id) DO NOTHING`, ref, shopID, amount.String())
	if err != nil {
		return false, fmt.Errorf("record payout %s: %w", ref, err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	ct, err = tx.Exec(ctx, `
		UPDATE shops SET available_balance = available_balance + $2::numeric, updated_at = NOW()
		WHERE id=$1`, shopID, amount.String())
	if err != nil {
		return false, fmt.Errorf("credit shop %s: %w", shopID, err)
	}
	if ct.RowsAffected() != 1 {
		return false, payout.ErrShopNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
