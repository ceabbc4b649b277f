// Package payment adapts the external payment processor. Everything the processor sends is
// verified and parsed into the types here before the rest of the service sees it.
package payment

import (
	"context"
	"errors"
	"fmt"
)

type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentCanceled              IntentStatus = "canceled"
)

// InFlight reports whether the processor may still move the intent to succeeded on its own.
func (s IntentStatus) InFlight() bool {
	return s == IntentProcessing || s == IntentRequiresCapture
}

type Intent struct {
	ID             string
	ClientSecret   string
	AmountMinor    int64
	Currency       string
	Status         IntentStatus
	Metadata       Metadata
	FailureMessage string
}

type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "payment_failed"
	EventCanceled  EventKind = "canceled"
	EventUnknown   EventKind = "unknown"
)

// Event is a verified processor notification. Intent is populated for every kind except
// EventUnknown.
type Event struct {
	ID     string
	Type   string
	Kind   EventKind
	Intent Intent
	// MetadataErr is set when the intent carried metadata that could not be parsed. The event
	// is still delivered; only order synthesis depends on it.
	MetadataErr error
}

type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, md Metadata) (Intent, error)
	VerifyAndParseWebhook(payload []byte, signature string) (Event, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
	CancelIntent(ctx context.Context, id string) (Intent, error)
	// FindIntentByOrder returns the most recent intent whose metadata names orderID, or
	// ErrIntentNotFound.
	FindIntentByOrder(ctx context.Context, orderID string) (Intent, error)
	// ReceiptURL returns the receipt of the intent's latest charge, or "" if there is none yet.
	ReceiptURL(ctx context.Context, intentID string) (string, error)
}

var (
	ErrInvalidAmount  = errors.New("amount must be a positive number of minor units")
	ErrMalformedEvent = errors.New("malformed webhook event")
	ErrIntentNotFound = errors.New("payment intent not found")
)

type SignatureError struct{ Err error }

func (e *SignatureError) Error() string { return fmt.Sprintf("webhook signature: %v", e.Err) }
func (e *SignatureError) Unwrap() error { return e.Err }

// APIError is a failed processor call. ClientFault is true when the request itself was
// rejected (bad amount, currency, card) rather than the processor or network failing.
type APIError struct {
	Op          string
	ClientFault bool
	Err         error
}

func (e *APIError) Error() string { return fmt.Sprintf("payment %s: %v", e.Op, e.Err) }
func (e *APIError) Unwrap() error { return e.Err }
