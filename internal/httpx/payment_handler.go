package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

type PaymentHandler struct {
	Engine   *checkout.Engine
	Gateway  payment.Gateway
	Dedup    *redisx.Dedup       // optional
	Statuses *redisx.StatusCache // optional
	Log      *slog.Logger
}

type intentReq struct {
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	OrderID       string            `json:"orderId"`
	CustomerEmail string            `json:"customerEmail"`
	CustomerName  string            `json:"customerName"`
	Metadata      map[string]string `json:"metadata"`
}

type intentResp struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

func (h *PaymentHandler) Register(r chi.Router) {
	r.Post("/api/payment/intent", h.createIntent)
	r.Post("/api/payment/webhook", h.webhook)
}

func (h *PaymentHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req intentReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	md, err := payment.ParseMetadata(req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error(), Field: "metadata"})
		return
	}
	if id := strings.TrimSpace(req.OrderID); id != "" {
		md.OrderID = id
	}
	md.UserID = userID(r)
	md.SubtotalCents = 0
	if md.Extra == nil {
		md.Extra = map[string]string{}
	}
	if req.CustomerEmail != "" {
		md.Extra["customerEmail"] = req.CustomerEmail
	}
	if req.CustomerName != "" {
		md.Extra["customerName"] = req.CustomerName
	}

	in, effects, err := h.Engine.CreateIntent(ctx, cart.ToMinor(req.Amount), strings.ToLower(req.Currency), md)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	for _, e := range effects {
		if e.Err != nil {
			h.Log.Warn("intent side effect failed", "intent_id", in.ID, "step", e.Name, "err", e.Err)
		}
	}
	writeJSON(w, http.StatusOK, intentResp{
		ClientSecret:    in.ClientSecret,
		PaymentIntentID: in.ID,
		Amount:          cart.ToMajor(in.AmountMinor),
		Currency:        in.Currency,
	})
}

// webhook answers 200 for every verified event, including ones whose order update failed.
// The sweeper reconciles anything left behind.
func (h *PaymentHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}
	evt, err := h.Gateway.VerifyAndParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var sigErr *payment.SignatureError
		if errors.As(err, &sigErr) {
			h.Log.Warn("webhook signature rejected", "err", err)
			writeMessage(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.Log.Warn("webhook payload rejected", "err", err)
		writeMessage(w, http.StatusBadRequest, "malformed event")
		return
	}
	log := h.Log.With("event_id", evt.ID, "type", evt.Type)

	ctx, span := tracer.Start(r.Context(), "POST /api/payment/webhook",
		trace.WithAttributes(attribute.String("payment.event_id", evt.ID)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if h.Dedup != nil {
		seen, err := h.Dedup.Seen(ctx, evt.ID)
		if err != nil {
			log.Warn("dedup check failed", "err", err)
		} else if seen {
			log.Debug("duplicate webhook delivery")
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
	}

	res, err := h.Engine.Finalize(ctx, evt)
	if err != nil {
		log.Error("finalize payment event failed", "err", err)
		if h.Dedup != nil {
			_ = h.Dedup.Forget(context.WithoutCancel(ctx), evt.ID)
		}
	} else {
		log.Info("payment event processed", "outcome", res.Outcome, "order_id", res.Order.ID)
	}
	if h.Statuses != nil && res.Order.ID != "" {
		_ = h.Statuses.Invalidate(ctx, res.Order.ID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
