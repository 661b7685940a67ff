package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection        = "orders"
	productsCollection      = "products"
	shopsCollection         = "shops"
	movementsCollection     = "stock_movements"
	payoutCreditsCollection = "payout_credits"
)

// errAlreadyApplied aborts a transaction whose idempotency key exists.
var errAlreadyApplied = errors.New("already applied")

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

// CreateIndexes sets up every index the stores rely on, including the
// unique (checkout_id, shop_id) pair.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	orderIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "checkout_id", Value: 1}, {Key: "shop_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"checkout_id": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "buyer._id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "delivered_at", Value: -1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	productIndexes := []mongo.IndexModel{{Keys: bson.D{{Key: "shop_id", Value: 1}}}}
	if _, err := db.Collection(productsCollection).Indexes().CreateMany(ctx, productIndexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	movementIndexes := []mongo.IndexModel{{Keys: bson.D{{Key: "order_id", Value: 1}}}}
	if _, err := db.Collection(movementsCollection).Indexes().CreateMany(ctx, movementIndexes); err != nil {
		return fmt.Errorf("failed to create movement indexes: %w", err)
	}
	creditIndexes := []mongo.IndexModel{{Keys: bson.D{{Key: "shop_id", Value: 1}}}}
	if _, err := db.Collection(payoutCreditsCollection).Indexes().CreateMany(ctx, creditIndexes); err != nil {
		return fmt.Errorf("failed to create payout credit indexes: %w", err)
	}
	return nil
}

// withTransaction runs fn inside a multi-document transaction; transient
// write conflicts are retried by the driver. Needs a replica set.
func withTransaction(ctx context.Context, db *mongo.Database, fn func(sc mongo.SessionContext) error) error {
	sess, err := db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}
