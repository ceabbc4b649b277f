package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

type OrdersHandler struct {
	Orders   orders.Store
	Index    orders.Index
	Statuses *redisx.StatusCache // optional
	Log      *slog.Logger
}

type orderView struct {
	ID                 string            `json:"orderId"`
	User               string            `json:"user"`
	Items              []orders.LineItem `json:"items"`
	ShippingAddress    *orders.Address   `json:"shippingAddress,omitempty"`
	PaymentMethod      string            `json:"paymentMethod"`
	PaymentStatus      string            `json:"paymentStatus"`
	Status             string            `json:"status"`
	Subtotal           decimal.Decimal   `json:"subtotal"`
	Shipping           decimal.Decimal   `json:"shipping"`
	TotalPrice         decimal.Decimal   `json:"totalPrice"`
	Currency           string            `json:"currency,omitempty"`
	ExternalPaymentRef string            `json:"externalPaymentRef,omitempty"`
	ReceiptURL         string            `json:"receiptUrl,omitempty"`
	Notes              string            `json:"orderNotes,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func toView(o orders.Order) orderView {
	return orderView{
		ID:                 o.ID,
		User:               o.UserID,
		Items:              o.LineItems,
		ShippingAddress:    o.ShippingAddress,
		PaymentMethod:      string(o.PaymentMethod),
		PaymentStatus:      string(o.PaymentStatus),
		Status:             string(o.Status),
		Subtotal:           cart.ToMajor(o.SubtotalCents),
		Shipping:           cart.ToMajor(o.ShippingCents),
		TotalPrice:         cart.ToMajor(o.TotalCents),
		Currency:           o.Currency,
		ExternalPaymentRef: o.ExternalPaymentRef,
		ReceiptURL:         o.ReceiptURL,
		Notes:              o.Notes,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/api/orders", h.listOrders)
	r.Get("/api/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeMessage(w, http.StatusUnauthorized, "missing user")
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := orders.ListForUser(ctx, h.Index, h.Orders, uid, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, toView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Statuses != nil {
		if b, ok := h.Statuses.Get(ctx, orderID); ok {
			var cached orderView
			if json.Unmarshal(b, &cached) == nil && (uid == "" || cached.User == uid) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(b)
				return
			}
		}
	}

	// 2) store
	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if uid != "" && o.UserID != uid {
		writeError(w, h.Log, orders.ErrNotFound)
		return
	}
	b, err := json.Marshal(toView(o))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if h.Statuses != nil {
		if err := h.Statuses.Set(ctx, orderID, b); err != nil && !errors.Is(err, context.Canceled) {
			h.Log.Debug("status cache set failed", "order_id", orderID, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
