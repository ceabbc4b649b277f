package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	MetaOrderID  = "orderId"
	MetaUserID   = "userId"
	MetaItems    = "cartItems"
	MetaSubtotal = "subtotal"
	MetaShipping = "shipping"

	maxMetadataValue = 500
)

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Metadata is what the service attaches to an intent so a confirmation can be traced back
// to an order, or an order rebuilt when none was recorded.
type Metadata struct {
	OrderID       string
	UserID        string
	Items         []Item
	SubtotalCents int64
	ShippingCents int64
	// Extra carries caller supplied keys that are passed through untouched. Keys the service
	// owns are never taken from Extra.
	Extra map[string]string
}

func reserved(k string) bool {
	switch k {
	case MetaOrderID, MetaUserID, MetaItems, MetaSubtotal, MetaShipping:
		return true
	}
	return false
}

func (m Metadata) Encode() map[string]string {
	out := make(map[string]string, len(m.Extra)+5)
	for k, v := range m.Extra {
		if !reserved(k) {
			out[k] = v
		}
	}
	if m.OrderID != "" {
		out[MetaOrderID] = m.OrderID
	}
	if m.UserID != "" {
		out[MetaUserID] = m.UserID
	}
	if len(m.Items) > 0 {
		// Processor metadata values are capped; an oversized cart is simply not recoverable
		// from the intent.
		if b, _ := json.Marshal(m.Items); len(b) <= maxMetadataValue {
			out[MetaItems] = string(b)
		}
	}
	if m.SubtotalCents > 0 {
		out[MetaSubtotal] = strconv.FormatInt(m.SubtotalCents, 10)
	}
	if m.ShippingCents > 0 {
		out[MetaShipping] = strconv.FormatInt(m.ShippingCents, 10)
	}
	return out
}

// ParseMetadata reads the service's keys out of raw processor metadata. Fields that fail to
// parse are left empty and reported together in the error; the rest is still returned.
func ParseMetadata(raw map[string]string) (Metadata, error) {
	md := Metadata{Extra: map[string]string{}}
	var errs []error
	for k, v := range raw {
		switch k {
		case MetaOrderID:
			md.OrderID = v
		case MetaUserID:
			md.UserID = v
		case MetaItems:
			items, err := parseItems(v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			md.Items = items
		case MetaSubtotal:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid amount %q", k, v))
				continue
			}
			md.SubtotalCents = n
		case MetaShipping:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid amount %q", k, v))
				continue
			}
			md.ShippingCents = n
		default:
			md.Extra[k] = v
		}
	}
	return md, errors.Join(errs...)
}

func parseItems(v string) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		return nil, fmt.Errorf("%s: %w", MetaItems, err)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%s: invalid item %+v", MetaItems, it)
		}
	}
	return items, nil
}
