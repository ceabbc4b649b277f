package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// CartClearer empties a user's persisted cart after a successful checkout.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

type CheckoutHandler struct {
	Engine *checkout.Engine
	Carts  CartClearer         // optional
	Idem   *redisx.Idempotency // optional
	Log    *slog.Logger
}

// productRef accepts either a bare id or a populated product object.
type productRef struct {
	ID string `json:"_id"`
}

func (p *productRef) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		return json.Unmarshal(b, &p.ID)
	}
	type plain productRef
	return json.Unmarshal(b, (*plain)(p))
}

type checkoutItem struct {
	Product  productRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// Amounts are major currency units.
type checkoutReq struct {
	User            string          `json:"user"`
	CartItems       []checkoutItem  `json:"cartItems"`
	ShippingAddress *orders.Address `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	OrderNotes      string          `json:"orderNotes"`
	Currency        string          `json:"currency"`
	CustomerEmail   string          `json:"customerEmail"`
}

type checkoutResp struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"orderId"`
	Message         string `json:"message"`
	ClientSecret    string `json:"clientSecret,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	Idempotent      bool   `json:"idempotent,omitempty"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/api/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var body checkoutReq
	if !decode(w, r, &body) {
		return
	}
	req := toRequest(body)
	if hdr := userID(r); hdr != "" {
		if req.UserID != "" && req.UserID != hdr {
			writeMessage(w, http.StatusForbidden, "user does not match the authenticated caller")
			return
		}
		req.UserID = hdr
	}

	ctx, span := tracer.Start(r.Context(), "POST /api/checkout")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.Idem != nil && req.UserID != "" {
		prev, claimed, err := h.Idem.Claim(ctx, req.UserID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeMessage(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			// Redis is only a shortcut; carry on without it.
			h.Log.Warn("idempotency claim failed", "err", err)
			key = ""
		case !claimed:
			writeJSON(w, http.StatusOK, checkoutResp{Success: true, OrderID: prev, Message: "Order already placed", Idempotent: true})
			return
		}
	} else {
		key = ""
	}

	res, err := h.Engine.CreateOrder(ctx, req)
	if err != nil {
		if key != "" {
			_ = h.Idem.Abandon(context.WithoutCancel(ctx), req.UserID, key)
		}
		writeError(w, h.Log, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(ctx, req.UserID, key, res.Order.ID); err != nil {
			h.Log.Warn("idempotency complete failed", "order_id", res.Order.ID, "err", err)
		}
	}
	if h.Carts != nil {
		_ = h.Carts.Clear(ctx, req.UserID)
	}

	out := checkoutResp{Success: true, OrderID: res.Order.ID, Message: "Order placed successfully"}
	if res.PaymentIntentID != "" {
		out.Message = "Order created, awaiting payment confirmation"
		out.ClientSecret = res.ClientSecret
		out.PaymentIntentID = res.PaymentIntentID
	}
	writeJSON(w, http.StatusCreated, out)
}

func toRequest(b checkoutReq) checkout.Request {
	items := make([]orders.LineItem, 0, len(b.CartItems))
	for _, it := range b.CartItems {
		items = append(items, orders.LineItem{ProductID: strings.TrimSpace(it.Product.ID), Quantity: it.Quantity})
	}
	return checkout.Request{
		UserID:          strings.TrimSpace(b.User),
		Items:           items,
		ShippingAddress: b.ShippingAddress,
		PaymentMethod:   orders.PaymentMethod(strings.ToLower(strings.TrimSpace(b.PaymentMethod))),
		SubtotalCents:   cart.ToMinor(b.Subtotal),
		ShippingCents:   cart.ToMinor(b.Shipping),
		TotalCents:      cart.ToMinor(b.TotalPrice),
		Notes:           b.OrderNotes,
		Currency:        strings.ToLower(b.Currency),
		CustomerEmail:   b.CustomerEmail,
	}
}
