package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	HeaderActorUser = "X-Actor-User"
	HeaderActorShop = "X-Actor-Shop"
	HeaderActorRole = "X-Actor-Role"

	// HeaderIdempotencyKey carries the checkout id when the body has none.
	HeaderIdempotencyKey = "Idempotency-Key"

	RoleAdmin = "admin"

	maxBodyBytes = 1 << 20
)

type OrdersHandler struct {
	Service *orders.Service
	Log     *zap.Logger
	// Timeout bounds each request's use case.
	Timeout time.Duration
}

type cartItemReq struct {
	ProductID string          `json:"productId"`
	ShopID    string          `json:"shopId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Qty       int             `json:"qty"`
}

type CreateOrderReq struct {
	CheckoutID      string             `json:"checkoutId"`
	Cart            []cartItemReq      `json:"cart"`
	ShippingAddress orders.Address     `json:"shippingAddress"`
	User            orders.Buyer       `json:"user"`
	TotalPrice      decimal.Decimal    `json:"totalPrice"`
	PaymentInfo     orders.PaymentInfo `json:"paymentInfo"`
}

type StatusReq struct {
	Status string `json:"status"`
}

type VerifyOTPReq struct {
	OTP string `json:"otp"`
}

type OrderResp struct {
	ID              string             `json:"_id"`
	CheckoutID      string             `json:"checkoutId,omitempty"`
	ShopID          string             `json:"shopId"`
	Cart            []orders.LineItem  `json:"cart"`
	ShippingAddress orders.Address     `json:"shippingAddress"`
	User            orders.Buyer       `json:"user"`
	TotalPrice      decimal.Decimal    `json:"totalPrice"`
	PaymentInfo     orders.PaymentInfo `json:"paymentInfo"`
	Status          orders.Status      `json:"status"`
	OTP             string             `json:"otp,omitempty"`
	OTPVerified     *bool              `json:"otpVerified,omitempty"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// toResp hides the delivery code unless withOTP is set; only the buyer
// sees it, right after checkout.
func toResp(o orders.Order, withOTP bool) OrderResp {
	r := OrderResp{
		ID:              o.ID,
		CheckoutID:      o.CheckoutID,
		ShopID:          o.ShopID,
		Cart:            o.Cart,
		ShippingAddress: o.ShippingAddress,
		User:            o.Buyer,
		TotalPrice:      o.TotalPrice,
		PaymentInfo:     o.PaymentInfo,
		Status:          o.Status,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if withOTP {
		verified := o.OTPVerified
		r.OTP, r.OTPVerified = o.OTP, &verified
	}
	return r
}

func toResps(list []orders.Order) []OrderResp {
	out := make([]OrderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toResp(o, false))
	}
	return out
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Route("/api/v2/order", func(r chi.Router) {
		r.Post("/create-order", h.createOrder)
		r.Get("/get-all-orders/{userId}", h.buyerOrders)
		r.Get("/get-seller-all-orders/{shopId}", h.shopOrders)
		r.Put("/update-order-status/{id}", h.updateStatus)
		r.Put("/order-refund/{id}", h.requestRefund)
		r.Put("/order-refund-success/{id}", h.acceptRefund)
		r.Get("/admin-all-orders", h.adminOrders)
		r.Post("/verify-otp/{orderId}", h.verifyOTP)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects unknown fields and trailing data. An empty body is
// accepted only when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		return true
	}
	if err == nil && dec.More() {
		err = errors.New("trailing data")
	}
	if err != nil {
		badRequest(w, "invalid_json", "invalid json: "+err.Error())
		return false
	}
	return true
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *OrdersHandler) log(ctx context.Context) *zap.Logger {
	fallback := h.Log
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return logging.FromContext(ctx, fallback)
}

func (h *OrdersHandler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(w, h.log(ctx), err)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	// buyer di body harus sama dengan identitas dari gateway
	if actor := r.Header.Get(HeaderActorUser); actor != "" {
		if req.User.ID == "" {
			req.User.ID = actor
		}
		if req.User.ID != actor {
			h.fail(r.Context(), w, orders.Forbidden("buyer_mismatch", "orders can only be placed for the signed-in buyer"))
			return
		}
	}

	if req.CheckoutID == "" {
		req.CheckoutID = r.Header.Get(HeaderIdempotencyKey)
	}

	in := orders.CreateInput{
		CheckoutID:      req.CheckoutID,
		Cart:            make([]orders.CartItem, 0, len(req.Cart)),
		ShippingAddress: req.ShippingAddress,
		Buyer:           req.User,
		TotalPrice:      req.TotalPrice,
		PaymentInfo:     req.PaymentInfo,
	}
	for _, it := range req.Cart {
		in.Cart = append(in.Cart, orders.CartItem{
			ProductID: it.ProductID,
			ShopID:    it.ShopID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Qty,
		})
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.CreateOrders(ctx, in)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	// replay tidak mengulang kode OTP
	out := make([]OrderResp, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, toResp(o, !res.Replayed))
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"success": true, "orders": out})
}

func (h *OrdersHandler) buyerOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !h.allowBuyer(w, r, userID) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Service.BuyerOrders(ctx, userID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": toResps(list)})
}

func (h *OrdersHandler) shopOrders(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopId")
	if !h.allowShop(w, r, shopID) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Service.ShopOrders(ctx, shopID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": toResps(list)})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Status == "" {
		badRequest(w, "missing_status", "status is required")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, chi.URLParam(r, "id"), r.Header.Get(HeaderActorShop), req.Status)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": toResp(o, false)})
}

func (h *OrdersHandler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !decodeJSON(w, r, &req, true) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.RequestRefund(ctx, chi.URLParam(r, "id"), r.Header.Get(HeaderActorUser), req.Status)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   toResp(o, false),
		"message": "Order Refund Request successfully!",
	})
}

func (h *OrdersHandler) acceptRefund(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !decodeJSON(w, r, &req, true) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	if _, err := h.Service.AcceptRefund(ctx, chi.URLParam(r, "id"), r.Header.Get(HeaderActorShop), req.Status); err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Order Refund successfull!"})
}

func (h *OrdersHandler) adminOrders(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderActorRole) != RoleAdmin {
		h.fail(r.Context(), w, orders.Forbidden("admin_only", "admin role required"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Service.AllOrders(ctx)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": toResps(list)})
}

func (h *OrdersHandler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPReq
	if !decodeJSON(w, r, &req, false) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Service.VerifyOTP(ctx, chi.URLParam(r, "orderId"), req.OTP); err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP verified successfully!"})
}

// allowBuyer lets a buyer read only their own orders; admins read any.
func (h *OrdersHandler) allowBuyer(w http.ResponseWriter, r *http.Request, userID string) bool {
	if r.Header.Get(HeaderActorRole) == RoleAdmin {
		return true
	}
	if actor := r.Header.Get(HeaderActorUser); actor != "" && actor != userID {
		h.fail(r.Context(), w, orders.Forbidden("not_own_orders", "cannot list another buyer's orders"))
		return false
	}
	return true
}

func (h *OrdersHandler) allowShop(w http.ResponseWriter, r *http.Request, shopID string) bool {
	if r.Header.Get(HeaderActorRole) == RoleAdmin {
		return true
	}
	if actor := r.Header.Get(HeaderActorShop); actor != "" && actor != shopID {
		h.fail(r.Context(), w, orders.Forbidden("not_own_shop", "cannot list another shop's orders"))
		return false
	}
	return true
}
