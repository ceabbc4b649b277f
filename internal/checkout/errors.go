package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

// ValidationError names the first input field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// StockError is returned when at least one line item could not be reserved. No order exists
// and every hold taken in the attempt has been released.
type StockError struct {
	Shortages []inventory.InsufficientStockError
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for i := range e.Shortages {
		parts = append(parts, e.Shortages[i].Error())
	}
	return strings.Join(parts, "; ")
}

// PersistenceError wraps a backing store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PaymentGatewayError wraps a failed processor call. ClientFault marks requests the
// processor rejected as invalid.
type PaymentGatewayError struct {
	Op          string
	ClientFault bool
	Err         error
}

func (e *PaymentGatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}
func (e *PaymentGatewayError) Unwrap() error { return e.Err }

// SynthesizedOrderError means a confirmed payment had no order and its metadata was not
// enough to rebuild one.
type SynthesizedOrderError struct {
	IntentID string
	Reason   string
	Err      error
}

func (e *SynthesizedOrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesize order for intent %s: %s: %v", e.IntentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesize order for intent %s: %s", e.IntentID, e.Reason)
}

func (e *SynthesizedOrderError) Unwrap() error { return e.Err }

var (
	errReceiptPending = errors.New("receipt not available yet")
	errOwnerMismatch  = errors.New("order belongs to another user")
)
