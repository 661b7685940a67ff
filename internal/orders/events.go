package orders

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderOTPVerified   = "OrderOTPVerified"
	EventPayoutCredited     = "PayoutCredited"
	EventStockReleased      = "StockReleased"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, traceID, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

type ItemQty struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

func itemsOf(o Order) []ItemQty {
	out := make([]ItemQty, 0, len(o.Cart))
	for _, it := range o.Cart {
		out = append(out, ItemQty{LineID: it.ID, ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

type OrderCreatedPayload struct {
	OrderID    string    `json:"order_id"`
	CheckoutID string    `json:"checkout_id,omitempty"`
	ShopID     string    `json:"shop_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name,omitempty"`
	BuyerEmail string    `json:"buyer_email,omitempty"`
	Items      []ItemQty `json:"items"`
	TotalPrice string    `json:"total_price"`
}

type OrderStatusChangedPayload struct {
	OrderID     string     `json:"order_id"`
	ShopID      string     `json:"shop_id"`
	BuyerID     string     `json:"buyer_id"`
	BuyerName   string     `json:"buyer_name,omitempty"`
	BuyerEmail  string     `json:"buyer_email,omitempty"`
	From        Status     `json:"from"`
	To          Status     `json:"to"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type OrderOTPVerifiedPayload struct {
	OrderID string `json:"order_id"`
	ShopID  string `json:"shop_id"`
}

type PayoutCreditedPayload struct {
	OrderID    string `json:"order_id"`
	ShopID     string `json:"shop_id"`
	Gross      string `json:"gross"`
	Commission string `json:"commission"`
	Net        string `json:"net"`
	Currency   string `json:"currency"`
}

type StockReleasedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}
