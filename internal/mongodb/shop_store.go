package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type shopDoc struct {
	ID               string               `bson:"_id"`
	Name             string               `bson:"name"`
	AvailableBalance primitive.Decimal128 `bson:"available_balance"`
}

type creditDoc struct {
	OrderID   string               `bson:"_id"`
	ShopID    string               `bson:"shop_id"`
	Amount    primitive.Decimal128 `bson:"amount"`
	CreatedAt time.Time            `bson:"created_at"`
}

// ShopStore credits balances with $inc. payout_credits keeps one document
// per credited order, written in the same transaction, so each order is
// credited once.
type ShopStore struct {
	db         *mongo.Database
	collection *mongo.Collection
	credits    *mongo.Collection
}

func NewShopStore(db *mongo.Database) *ShopStore {
	return &ShopStore{
		db:         db,
		collection: db.Collection(shopsCollection),
		credits:    db.Collection(payoutCreditsCollection),
	}
}

func (s *ShopStore) Upsert(ctx context.Context, shop payout.Shop) error {
	balance, err := toDecimal128(shop.AvailableBalance)
	if err != nil {
		return err
	}
	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": shop.ID},
		bson.M{"$set": bson.M{"name": shop.Name, "available_balance": balance}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shop: %w", err)
	}
	return nil
}

func (s *ShopStore) Shop(ctx context.Context, shopID string) (payout.Shop, error) {
	var doc shopDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": shopID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return payout.Shop{}, payout.ErrShopNotFound
	}
	if err != nil {
		return payout.Shop{}, fmt.Errorf("failed to get shop: %w", err)
	}
	balance, err := fromDecimal128(doc.AvailableBalance)
	if err != nil {
		return payout.Shop{}, fmt.Errorf("shop %s balance: %w", shopID, err)
	}
	return payout.Shop{ID: doc.ID, Name: doc.Name, AvailableBalance: balance}, nil
}

func (s *ShopStore) Credit(ctx context.Context, shopID, ref string, amount decimal.Decimal) (bool, error) {
	inc, err := toDecimal128(amount)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	err = withTransaction(ctx, s.db, func(sc mongo.SessionContext) error {
		_, err := s.credits.InsertOne(sc, creditDoc{OrderID: ref, ShopID: shopID, Amount: inc, CreatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return errAlreadyApplied
		}
		if err != nil {
			return fmt.Errorf("failed to record payout %s: %w", ref, err)
		}
		res, err := s.collection.UpdateOne(sc,
			bson.M{"_id": shopID},
			bson.M{
				"$inc": bson.M{"available_balance": inc},
				"$set": bson.M{"updated_at": now},
			},
		)
		if err != nil {
			return fmt.Errorf("failed to credit shop: %w", err)
		}
		if res.MatchedCount == 0 {
			return payout.ErrShopNotFound
		}
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
