package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type productDoc struct {
	ID      string `bson:"_id"`
	ShopID  string `bson:"shop_id"`
	Name    string `bson:"name"`
	Stock   int    `bson:"stock"`
	SoldOut int    `bson:"sold_out"`
}

// movementDoc is keyed by the movement key; its unique _id is the
// idempotency guard.
type movementDoc struct {
	Key       string    `bson:"_id"`
	OrderID   string    `bson:"order_id"`
	LineID    string    `bson:"line_id"`
	ProductID string    `bson:"product_id"`
	Direction string    `bson:"direction"`
	Qty       int       `bson:"qty"`
	CreatedAt time.Time `bson:"created_at"`
}

// ProductStore records each movement in stock_movements and adjusts the
// product in the same transaction, so the product document never grows
// with history. Transactions need a replica set.
type ProductStore struct {
	db         *mongo.Database
	collection *mongo.Collection
	movements  *mongo.Collection
}

func NewProductStore(db *mongo.Database) *ProductStore {
	return &ProductStore{
		db:         db,
		collection: db.Collection(productsCollection),
		movements:  db.Collection(movementsCollection),
	}
}

func (s *ProductStore) Upsert(ctx context.Context, p inventory.Product) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{"$set": bson.M{
			"shop_id":    p.ShopID,
			"name":       p.Name,
			"stock":      p.Stock,
			"sold_out":   p.SoldOut,
			"updated_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (s *ProductStore) Get(ctx context.Context, productID string) (inventory.Product, error) {
	var doc productDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return inventory.Product{ID: doc.ID, ShopID: doc.ShopID, Name: doc.Name, Stock: doc.Stock, SoldOut: doc.SoldOut}, nil
}

// Apply inserts the movement and updates stock in one transaction. A key that
// was recorded before changes nothing. Reserve only matches while
// stock >= qty; release never drives sold_out below zero.
func (s *ProductStore) Apply(ctx context.Context, m inventory.Movement) (bool, error) {
	key := m.Key()
	filter := bson.M{"_id": m.ProductID}
	var update any
	now := time.Now().UTC()
	switch m.Direction {
	case inventory.DirectionReserve:
		filter["stock"] = bson.M{"$gte": m.Qty}
		update = bson.M{
			"$inc": bson.M{"stock": -m.Qty, "sold_out": m.Qty},
			"$set": bson.M{"updated_at": now},
		}
	case inventory.DirectionRelease:
		update = mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"stock":      bson.M{"$add": bson.A{"$stock", m.Qty}},
			"sold_out":   bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$sold_out", m.Qty}}}},
			"updated_at": now,
		}}}}
	default:
		return false, fmt.Errorf("unknown movement direction %q", m.Direction)
	}

	err := withTransaction(ctx, s.db, func(sc mongo.SessionContext) error {
		_, err := s.movements.InsertOne(sc, movementDoc{
			Key:       key,
			OrderID:   m.Ref.OrderID,
			LineID:    m.Ref.LineID,
			ProductID: m.ProductID,
			Direction: string(m.Direction),
			Qty:       m.Qty,
			CreatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return errAlreadyApplied
		}
		if err != nil {
			return fmt.Errorf("failed to record movement %s: %w", key, err)
		}

		res, err := s.collection.UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("failed to apply movement %s: %w", key, err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
		// abort: product hilang atau stok kurang, movement ikut batal
		n, err := s.collection.CountDocuments(sc, bson.M{"_id": m.ProductID})
		if err != nil {
			return fmt.Errorf("failed to inspect product: %w", err)
		}
		if n == 0 {
			return inventory.ErrProductNotFound
		}
		return inventory.ErrInsufficientStock
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
