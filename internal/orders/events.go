package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderCanceled      = "OrderCanceled"
	EventFollowupRequested  = "FollowupRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	PaymentMethod string     `json:"payment_method"`
	Items         []LineItem `json:"items"`
	TotalCents    int64      `json:"total_cents"`
}

type OrderPaidPayload struct {
	OrderID     string `json:"order_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int64  `json:"amount_cents"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

type OrderPaymentFailedPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason,omitempty"`
}

type OrderCanceledPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Reason     string `json:"reason"` // processor_canceled | hold_expired
}

type FollowupKind string

const (
	FollowupIndexAppend   FollowupKind = "index_append"
	FollowupReleaseHolds  FollowupKind = "release_holds"
	FollowupCommitHolds   FollowupKind = "commit_holds"
	FollowupAttachReceipt FollowupKind = "attach_receipt"
	FollowupAttachIntent  FollowupKind = "attach_intent"
	FollowupCancelIntent  FollowupKind = "cancel_intent"
)

// FollowupTask is a best-effort step that failed inline and is retried by the worker.
type FollowupTask struct {
	Kind     FollowupKind `json:"kind"`
	OrderID  string       `json:"order_id"`
	UserID   string       `json:"user_id,omitempty"`
	IntentID string       `json:"intent_id,omitempty"`
	Attempt  int          `json:"attempt"`
}
