package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const PaymentSucceeded = "Succeeded"

type LineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	ShopID    string          `json:"shopId"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"qty"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Address struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	Country     string `json:"country"`
	ZipCode     string `json:"zipCode,omitempty"`
	AddressType string `json:"addressType,omitempty"`
}

// Buyer is a snapshot taken at checkout, not a live reference.
type Buyer struct {
	ID          string `json:"_id"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type PaymentInfo struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Order holds the line items of exactly one shop.
type Order struct {
	ID              string
	CheckoutID      string
	ShopID          string
	Cart            []LineItem
	ShippingAddress Address
	Buyer           Buyer
	TotalPrice      decimal.Decimal
	PaymentInfo     PaymentInfo
	Status          Status
	OTP             string
	OTPVerified     bool
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Version increases by one on every successful update.
	Version int64
}

func (o Order) Clone() Order {
	c := o
	c.Cart = append([]LineItem(nil), o.Cart...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return c
}

func (o Order) Quantity() int {
	n := 0
	for _, it := range o.Cart {
		n += it.Quantity
	}
	return n
}
