package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
)

type CartHandler struct {
	Service *cart.Service
	Log     *slog.Logger
}

type cartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cartItemView struct {
	ProductID       string          `json:"productId"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
	DiscountApplied bool            `json:"discountApplied"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
}

type cartView struct {
	User     string          `json:"user"`
	Items    []cartItemView  `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/", h.add)
		r.Put("/", h.replace)
		r.Delete("/", h.clear)
		r.Delete("/{productID}", h.remove)
	})
}

// withUser rejects requests that carry no authenticated user.
func (h *CartHandler) withUser(w http.ResponseWriter, r *http.Request) (string, context.Context, context.CancelFunc, bool) {
	uid := userID(r)
	if uid == "" {
		writeMessage(w, http.StatusUnauthorized, "missing user")
		return "", nil, nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	return uid, ctx, cancel, true
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	uid, ctx, cancel, ok := h.withUser(w, r)
	if !ok {
		return
	}
	defer cancel()
	c, err := h.Service.Get(ctx, uid)
	h.reply(w, c, err)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	uid, ctx, cancel, ok := h.withUser(w, r)
	if !ok {
		return
	}
	defer cancel()
	var line cartLine
	if !decode(w, r, &line) {
		return
	}
	if line.Quantity == 0 {
		line.Quantity = 1
	}
	c, err := h.Service.Add(ctx, uid, cart.Line{ProductID: line.ProductID, Quantity: line.Quantity})
	h.reply(w, c, err)
}

func (h *CartHandler) replace(w http.ResponseWriter, r *http.Request) {
	uid, ctx, cancel, ok := h.withUser(w, r)
	if !ok {
		return
	}
	defer cancel()
	var body struct {
		Items []cartLine `json:"items"`
	}
	if !decode(w, r, &body) {
		return
	}
	lines := make([]cart.Line, 0, len(body.Items))
	for _, l := range body.Items {
		lines = append(lines, cart.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	c, err := h.Service.Replace(ctx, uid, lines)
	h.reply(w, c, err)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	uid, ctx, cancel, ok := h.withUser(w, r)
	if !ok {
		return
	}
	defer cancel()
	c, err := h.Service.Remove(ctx, uid, chi.URLParam(r, "productID"))
	h.reply(w, c, err)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	uid, ctx, cancel, ok := h.withUser(w, r)
	if !ok {
		return
	}
	defer cancel()
	if err := h.Service.Clear(ctx, uid); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.reply(w, cart.Cart{UserID: uid}, nil)
}

func (h *CartHandler) reply(w http.ResponseWriter, c cart.Cart, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	v := cartView{User: c.UserID, Items: make([]cartItemView, 0, len(c.Items)), Subtotal: cart.ToMajor(c.SubtotalCents)}
	for _, it := range c.Items {
		v.Items = append(v.Items, cartItemView{
			ProductID:       it.ProductID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			Price:           cart.ToMajor(it.UnitPriceCents),
			DiscountedPrice: cart.ToMajor(it.PriceCents),
			DiscountApplied: it.DiscountApplied,
			LineTotal:       cart.ToMajor(it.LineTotalCents),
		})
	}
	writeJSON(w, http.StatusOK, v)
}
