package checkout

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Request is a checkout submission. Amounts are minor currency units.
type Request struct {
	UserID          string
	Items           []orders.LineItem
	ShippingAddress *orders.Address
	PaymentMethod   orders.PaymentMethod
	SubtotalCents   int64
	ShippingCents   int64
	TotalCents      int64
	Notes           string
	Currency        string
	CustomerEmail   string
}

// validate checks the request in field order and returns the first failure.
func validate(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "user", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "cartItems", Reason: "cart is empty"}
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].product", i), Reason: "is required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].quantity", i), Reason: "must be greater than zero"}
		}
	}
	if !req.PaymentMethod.Valid() {
		return &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unsupported method %q", req.PaymentMethod)}
	}
	if req.ShippingAddress == nil && req.PaymentMethod.RequiresConfirmation() {
		return &ValidationError{Field: "shippingAddress", Reason: fmt.Sprintf("is required for %s payments", req.PaymentMethod)}
	}
	if a := req.ShippingAddress; a != nil {
		for _, f := range []struct{ name, value string }{
			{"street", a.Street},
			{"city", a.City},
			{"state", a.State},
			{"zipCode", a.ZipCode},
			{"country", a.Country},
		} {
			if strings.TrimSpace(f.value) == "" {
				return &ValidationError{Field: "shippingAddress." + f.name, Reason: "is required"}
			}
		}
	}
	if req.SubtotalCents < 0 {
		return &ValidationError{Field: "subtotal", Reason: "must not be negative"}
	}
	if req.ShippingCents < 0 {
		return &ValidationError{Field: "shipping", Reason: "must not be negative"}
	}
	if req.TotalCents != req.SubtotalCents+req.ShippingCents {
		return &ValidationError{Field: "totalPrice", Reason: "must equal subtotal plus shipping"}
	}
	if req.PaymentMethod.RequiresConfirmation() && req.TotalCents <= 0 {
		return &ValidationError{Field: "totalPrice", Reason: "must be positive for card payments"}
	}
	return nil
}

// mergeItems folds repeated products into one line, keeping first-seen order.
func mergeItems(items []orders.LineItem) []orders.LineItem {
	pos := make(map[string]int, len(items))
	out := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		if i, ok := pos[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
