package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

const maxBody = 1 << 20

type errorResp struct {
	Success   bool       `json:"success"`
	Error     string     `json:"error"`
	Field     string     `json:"field,omitempty"`
	Shortages []shortage `json:"shortages,omitempty"`
}

type shortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResp{Error: msg})
}

// writeError maps domain errors to a status code. Anything unrecognized is logged and
// reported as a generic 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		verr *checkout.ValidationError
		serr *checkout.StockError
		perr *checkout.PaymentGatewayError
		qerr *cart.InvalidQuantityError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &serr):
		out := errorResp{Error: "insufficient stock: " + serr.Error()}
		for _, s := range serr.Shortages {
			out.Shortages = append(out.Shortages, shortage{ProductID: s.ProductID, Requested: s.Requested, Available: s.Available})
		}
		writeJSON(w, http.StatusBadRequest, out)
	case errors.As(err, &qerr), errors.Is(err, cart.ErrUnknownProduct):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "order not found")
	case postgres.IsPermissionDenied(err):
		log.Warn("store rejected request", "err", err)
		writeMessage(w, http.StatusForbidden, "permission denied")
	case errors.As(err, &perr) && perr.ClientFault:
		writeMessage(w, http.StatusBadRequest, "payment was rejected by the processor")
	case errors.As(err, &perr):
		log.Error("payment gateway error", "err", err)
		writeMessage(w, http.StatusInternalServerError, "payment processor unavailable")
	default:
		log.Error("request failed", "err", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// userID is the authenticated user as forwarded by the auth proxy.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}
