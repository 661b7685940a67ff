package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const compensationTimeout = 10 * time.Second

type CartItem struct {
	ProductID string
	ShopID    string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type CreateInput struct {
	// CheckoutID makes the call idempotent when set.
	CheckoutID      string
	Cart            []CartItem
	ShippingAddress Address
	Buyer           Buyer
	TotalPrice      decimal.Decimal
	PaymentInfo     PaymentInfo
}

type CreateResult struct {
	Orders []Order
	// Replayed is true when every order already existed for the checkout.
	Replayed bool
}

func (in CreateInput) Validate() error {
	if len(in.Cart) == 0 {
		return Validation("empty_cart", "cart must contain at least one item")
	}
	if in.Buyer.ID == "" {
		return Validation("missing_buyer", "buyer id is required")
	}
	a := in.ShippingAddress
	if a.Address1 == "" || a.City == "" || a.Country == "" {
		return Validation("missing_shipping_address", "shipping address needs address1, city and country")
	}

	subtotal := decimal.Zero
	for i, it := range in.Cart {
		if it.ProductID == "" || it.ShopID == "" {
			return Validation("invalid_cart_item", "cart item %d: productId and shopId are required", i)
		}
		if it.Quantity < 1 {
			return Validation("invalid_quantity", "cart item %d: quantity must be at least 1", i)
		}
		if !validAmount(it.UnitPrice) {
			return Validation("invalid_price", "cart item %d: unitPrice must be non-negative with at most 2 decimals", i)
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !validAmount(in.TotalPrice) {
		return Validation("invalid_total", "totalPrice must be non-negative with at most 2 decimals")
	}
	if !in.TotalPrice.Equal(subtotal) {
		return Validation("total_mismatch", "totalPrice %s does not match cart subtotal %s",
			in.TotalPrice.StringFixed(2), subtotal.StringFixed(2))
	}
	return nil
}

func validAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(2))
}

type ShopGroup struct {
	ShopID string
	Items  []CartItem
}

// Partition groups cart items by shop, keeping the order in which shops
// first appear in the cart.
func Partition(items []CartItem) []ShopGroup {
	idx := make(map[string]int)
	var groups []ShopGroup
	for _, it := range items {
		i, ok := idx[it.ShopID]
		if !ok {
			i = len(groups)
			idx[it.ShopID] = i
			groups = append(groups, ShopGroup{ShopID: it.ShopID})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

type reservation struct {
	ref       inventory.Ref
	productID string
	qty       int
}

// CreateOrders turns a cart into one order per shop and reserves stock for
// every line. A failed reservation gives back what this call reserved; a
// failure after some orders were persisted is reported as a partial
// failure, and retrying with the same checkout id completes the rest.
func (s *Service) CreateOrders(ctx context.Context, in CreateInput) (res CreateResult, err error) {
	ctx, done := s.begin(ctx, "create_orders",
		attribute.Int("cart.items", len(in.Cart)),
		attribute.String("checkout.id", in.CheckoutID),
	)
	defer func() { done(&err) }()

	if err = in.Validate(); err != nil {
		return CreateResult{}, err
	}

	if in.CheckoutID != "" && s.locker != nil {
		unlock, lerr := s.locker.Lock(ctx, in.CheckoutID)
		if errors.Is(lerr, ErrCheckoutInFlight) {
			return CreateResult{}, Conflict("checkout_in_flight", "checkout %s is already being processed", in.CheckoutID)
		}
		if lerr != nil {
			return CreateResult{}, Upstream(lerr, "checkout_lock_unavailable", "could not lock checkout %s", in.CheckoutID)
		}
		defer unlock()
	}

	existing := make(map[string]Order)
	if in.CheckoutID != "" {
		prev, lerr := s.store.ListByCheckout(ctx, in.CheckoutID)
		if lerr != nil {
			return CreateResult{}, storeErr(lerr, "")
		}
		for _, o := range prev {
			// checkout id dipilih client, jangan kembalikan order milik buyer lain
			if o.Buyer.ID != in.Buyer.ID {
				return CreateResult{}, Conflict("checkout_id_taken", "checkout %s belongs to another buyer", in.CheckoutID)
			}
			existing[o.ShopID] = o
		}
	}

	now := s.now().UTC()
	groups := Partition(in.Cart)
	out := make([]Order, 0, len(groups))
	var fresh []int
	for _, g := range groups {
		if o, ok := existing[g.ShopID]; ok {
			out = append(out, o)
			continue
		}
		o, gerr := s.newOrder(in, g, now)
		if gerr != nil {
			return CreateResult{}, gerr
		}
		fresh = append(fresh, len(out))
		out = append(out, o)
	}
	if len(fresh) == 0 {
		return CreateResult{Orders: out, Replayed: true}, nil
	}

	var reserved []reservation
	for _, i := range fresh {
		o := out[i]
		for _, it := range o.Cart {
			r := reservation{ref: inventory.Ref{OrderID: o.ID, LineID: it.ID}, productID: it.ProductID, qty: it.Quantity}
			if rerr := s.ledger.Reserve(ctx, r.ref, r.productID, r.qty); rerr != nil {
				if cerr := s.compensate(ctx, reserved); cerr != nil {
					return CreateResult{}, partialFailure(o, nil, errors.Join(rerr, cerr))
				}
				return CreateResult{}, reserveErr(rerr, o, it)
			}
			reserved = append(reserved, r)
		}
	}

	for n, i := range fresh {
		o := out[i]
		ierr := s.store.Insert(ctx, o)
		if ierr == nil {
			continue
		}

		notPersisted := make(map[string]bool)
		var created []string
		for k, j := range fresh {
			if k < n {
				created = append(created, out[j].ID)
			} else {
				notPersisted[out[j].ID] = true
			}
		}
		var pending []reservation
		for _, r := range reserved {
			if notPersisted[r.ref.OrderID] {
				pending = append(pending, r)
			}
		}
		cerr := s.compensate(ctx, pending)

		if len(created) == 0 && cerr == nil {
			if errors.Is(ierr, ErrDuplicate) {
				return CreateResult{}, Conflict("duplicate_order", "an order for shop %s already exists in checkout %s", o.ShopID, in.CheckoutID)
			}
			return CreateResult{}, storeErr(ierr, o.ID)
		}
		return CreateResult{}, partialFailure(o, created, errors.Join(ierr, cerr))
	}

	for _, i := range fresh {
		o := out[i]
		s.publish(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
			OrderID:    o.ID,
			CheckoutID: o.CheckoutID,
			ShopID:     o.ShopID,
			BuyerID:    o.Buyer.ID,
			BuyerName:  o.Buyer.Name,
			BuyerEmail: o.Buyer.Email,
			Items:      itemsOf(o),
			TotalPrice: o.TotalPrice.StringFixed(2),
		})
	}
	return CreateResult{Orders: out}, nil
}

func (s *Service) newOrder(in CreateInput, g ShopGroup, now time.Time) (Order, error) {
	code, err := s.codes.Generate()
	if err != nil {
		return Order{}, Internal(err, "generate delivery code")
	}
	o := Order{
		ID:              s.newID(),
		CheckoutID:      in.CheckoutID,
		ShopID:          g.ShopID,
		ShippingAddress: in.ShippingAddress,
		Buyer:           in.Buyer,
		TotalPrice:      decimal.Zero,
		PaymentInfo:     in.PaymentInfo,
		Status:          StatusProcessing,
		OTP:             code,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	for _, it := range g.Items {
		li := LineItem{
			ID:        s.newID(),
			ProductID: it.ProductID,
			ShopID:    it.ShopID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
		o.Cart = append(o.Cart, li)
		o.TotalPrice = o.TotalPrice.Add(li.Subtotal())
	}
	return o, nil
}

// compensate releases reservations newest first. It runs detached from the
// caller's cancellation so an abandoned request still returns its stock.
func (s *Service) compensate(ctx context.Context, rs []reservation) error {
	if len(rs) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var errs []error
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		if err := s.ledger.Release(cctx, r.ref, r.productID, r.qty); err != nil {
			logging.FromContext(ctx, s.log).Error("compensating release failed",
				zap.String("order_id", r.ref.OrderID),
				zap.String("line_id", r.ref.LineID),
				zap.String("product_id", r.productID),
				zap.Int("qty", r.qty),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("release %s/%s: %w", r.ref.OrderID, r.ref.LineID, err))
		}
	}
	return errors.Join(errs...)
}

func reserveErr(err error, o Order, it LineItem) error {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		e := newError(KindInsufficientStock, "insufficient_stock",
			"insufficient stock for product %s (shop %s): requested %d", it.ProductID, o.ShopID, it.Quantity)
		e.ShopID, e.Err = o.ShopID, err
		return e
	case errors.Is(err, inventory.ErrProductNotFound):
		e := NotFound("product_not_found", "product %s not found", it.ProductID)
		e.Err = err
		return e
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return Validation("invalid_quantity", "invalid quantity for product %s", it.ProductID)
	default:
		return Internal(err, "stock reservation failed for shop %s", o.ShopID)
	}
}

func partialFailure(o Order, created []string, cause error) *Error {
	e := newError(KindPartialFailure, "checkout_partially_applied",
		"checkout partially applied: order %s for shop %s failed; retry with the same checkout id to complete",
		o.ID, o.ShopID)
	e.ShopID, e.OrderID, e.Created, e.Err = o.ShopID, o.ID, created, cause
	return e
}
