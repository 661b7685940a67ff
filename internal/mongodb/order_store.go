package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type lineDoc struct {
	ID        string               `bson:"_id"`
	ProductID string               `bson:"product_id"`
	ShopID    string               `bson:"shop_id"`
	Name      string               `bson:"name,omitempty"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Quantity  int                  `bson:"qty"`
}

type addressDoc struct {
	Address1    string `bson:"address1"`
	Address2    string `bson:"address2,omitempty"`
	City        string `bson:"city"`
	Country     string `bson:"country"`
	ZipCode     string `bson:"zip_code,omitempty"`
	AddressType string `bson:"address_type,omitempty"`
}

type buyerDoc struct {
	ID          string `bson:"_id"`
	Name        string `bson:"name,omitempty"`
	Email       string `bson:"email,omitempty"`
	PhoneNumber string `bson:"phone_number,omitempty"`
}

type paymentDoc struct {
	ID     string `bson:"id,omitempty"`
	Status string `bson:"status,omitempty"`
	Type   string `bson:"type,omitempty"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	CheckoutID      string               `bson:"checkout_id,omitempty"`
	ShopID          string               `bson:"shop_id"`
	Cart            []lineDoc            `bson:"cart"`
	ShippingAddress addressDoc           `bson:"shipping_address"`
	Buyer           buyerDoc             `bson:"buyer"`
	TotalPrice      primitive.Decimal128 `bson:"total_price"`
	PaymentInfo     paymentDoc           `bson:"payment_info"`
	Status          string               `bson:"status"`
	OTP             string               `bson:"otp"`
	OTPVerified     bool                 `bson:"otp_verified"`
	DeliveredAt     *time.Time           `bson:"delivered_at,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
	Version         int64                `bson:"version"`
}

func toOrderDoc(o orders.Order) (orderDoc, error) {
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return orderDoc{}, err
	}
	d := orderDoc{
		ID:         o.ID,
		CheckoutID: o.CheckoutID,
		ShopID:     o.ShopID,
		Cart:       make([]lineDoc, 0, len(o.Cart)),
		ShippingAddress: addressDoc{
			Address1:    o.ShippingAddress.Address1,
			Address2:    o.ShippingAddress.Address2,
			City:        o.ShippingAddress.City,
			Country:     o.ShippingAddress.Country,
			ZipCode:     o.ShippingAddress.ZipCode,
			AddressType: o.ShippingAddress.AddressType,
		},
		Buyer:       buyerDoc(o.Buyer),
		TotalPrice:  total,
		PaymentInfo: paymentDoc(o.PaymentInfo),
		Status:      string(o.Status),
		OTP:         o.OTP,
		OTPVerified: o.OTPVerified,
		DeliveredAt: o.DeliveredAt,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Version:     o.Version,
	}
	for _, it := range o.Cart {
		price, err := toDecimal128(it.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		d.Cart = append(d.Cart, lineDoc{
			ID:        it.ID,
			ProductID: it.ProductID,
			ShopID:    it.ShopID,
			Name:      it.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
		})
	}
	return d, nil
}

func (d orderDoc) order() (orders.Order, error) {
	total, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %s total: %w", d.ID, err)
	}
	o := orders.Order{
		ID:         d.ID,
		CheckoutID: d.CheckoutID,
		ShopID:     d.ShopID,
		ShippingAddress: orders.Address{
			Address1:    d.ShippingAddress.Address1,
			Address2:    d.ShippingAddress.Address2,
			City:        d.ShippingAddress.City,
			Country:     d.ShippingAddress.Country,
			ZipCode:     d.ShippingAddress.ZipCode,
			AddressType: d.ShippingAddress.AddressType,
		},
		Buyer:       orders.Buyer(d.Buyer),
		TotalPrice:  total,
		PaymentInfo: orders.PaymentInfo(d.PaymentInfo),
		Status:      orders.Status(d.Status),
		OTP:         d.OTP,
		OTPVerified: d.OTPVerified,
		DeliveredAt: d.DeliveredAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Version:     d.Version,
	}
	for _, l := range d.Cart {
		price, err := fromDecimal128(l.UnitPrice)
		if err != nil {
			return orders.Order{}, fmt.Errorf("order %s line %s price: %w", d.ID, l.ID, err)
		}
		o.Cart = append(o.Cart, orders.LineItem{
			ID:        l.ID,
			ProductID: l.ProductID,
			ShopID:    l.ShopID,
			Name:      l.Name,
			UnitPrice: price,
			Quantity:  l.Quantity,
		})
	}
	return o, nil
}

type OrderStore struct {
	collection *mongo.Collection
}

func NewOrderStore(db *mongo.Database) *OrderStore {
	return &OrderStore{collection: db.Collection(ordersCollection)}
}

func (s *OrderStore) Insert(ctx context.Context, o orders.Order) error {
	doc, err := toOrderDoc(o)
	if err != nil {
		return err
	}
	_, err = s.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return orders.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	var doc orderDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.order()
}

// Update replaces the document only while its version matches.
func (s *OrderStore) Update(ctx context.Context, o orders.Order) error {
	doc, err := toOrderDoc(o)
	if err != nil {
		return err
	}
	doc.Version = o.Version + 1

	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": o.Version}, doc)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.missOrConflict(ctx, o.ID, orders.ErrVersionConflict)
}

func (s *OrderStore) MarkOTPVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "otp_verified": false},
		bson.M{
			"$set": bson.M{"otp_verified": true, "updated_at": at},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark otp verified: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	return false, s.missOrConflict(ctx, id, nil)
}

func (s *OrderStore) ListByBuyer(ctx context.Context, buyerID string) ([]orders.Order, error) {
	return s.find(ctx, bson.M{"buyer._id": buyerID}, newestFirst)
}

func (s *OrderStore) ListByShop(ctx context.Context, shopID string) ([]orders.Order, error) {
	return s.find(ctx, bson.M{"shop_id": shopID}, newestFirst)
}

// ListAll relies on missing delivered_at sorting below any date.
func (s *OrderStore) ListAll(ctx context.Context) ([]orders.Order, error) {
	return s.find(ctx, bson.M{}, bson.D{
		{Key: "delivered_at", Value: -1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})
}

func (s *OrderStore) ListByCheckout(ctx context.Context, checkoutID string) ([]orders.Order, error) {
	return s.find(ctx, bson.M{"checkout_id": checkoutID}, bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (s *OrderStore) find(ctx context.Context, filter bson.M, sort bson.D) ([]orders.Order, error) {
	cur, err := s.collection.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	out := make([]orders.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.order()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// missOrConflict tells a missing order apart from one whose guard failed.
func (s *OrderStore) missOrConflict(ctx context.Context, id string, conflict error) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if n == 0 {
		return orders.ErrNotFound
	}
	return conflict
}
