// Package inventory tracks per-product availability and the stock holds placed by orders.
//
// A hold is created by Reserve, which decrements availability in the same step. The hold
// then either becomes COMMITTED (the sale is final) or RELEASED (stock returned). Both
// transitions only apply to RESERVED holds, so repeating them never double-counts.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type HoldStatus string

const (
	HoldReserved  HoldStatus = "RESERVED"
	HoldCommitted HoldStatus = "COMMITTED"
	HoldReleased  HoldStatus = "RELEASED"
)

type Hold struct {
	OrderID   string
	ProductID string
	Qty       int
	Status    HoldStatus
	ExpiresAt time.Time // zero: no expiry
}

var (
	ErrUnknownProduct = errors.New("unknown product")
	ErrInvalidQty     = errors.New("quantity must be positive")
)

// InsufficientStockError is an expected outcome of Reserve, not a failure of the ledger.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

type Ledger interface {
	// Reserve decrements availability by qty only if at least qty is available, and records
	// a RESERVED hold for (orderID, productID). Reserving the same pair twice is a no-op.
	Reserve(ctx context.Context, orderID, productID string, qty int, expiresAt time.Time) error
	// Release returns every RESERVED hold of the order to stock and reports how many units
	// were credited back.
	Release(ctx context.Context, orderID string) (int, error)
	// Commit finalizes every RESERVED hold of the order.
	Commit(ctx context.Context, orderID string) error
	Available(ctx context.Context, productID string) (int, error)
	Holds(ctx context.Context, orderID string) ([]Hold, error)
	// Expired lists orders that still have RESERVED holds whose expiry is at or before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
}
