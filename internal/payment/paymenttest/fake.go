// Package paymenttest provides an in-memory payment.Gateway and helpers for signing webhook
// payloads the way the processor does.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ariefcatur/go-storefront-orders/internal/payment"
)

const WebhookSecret = "whsec_test_secret"

// Gateway records created intents and lets tests script their status.
type Gateway struct {
	mu      sync.Mutex
	seq     int
	order   []string
	intents map[string]payment.Intent
	receipt map[string]string

	// CreateErr, RetrieveErr, CancelErr and ReceiptErr are returned by the matching call when set.
	CreateErr   error
	RetrieveErr error
	CancelErr   error
	ReceiptErr  error
}

var _ payment.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{intents: map[string]payment.Intent{}, receipt: map[string]string{}}
}

func (g *Gateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, md payment.Metadata) (payment.Intent, error) {
	if amountMinor <= 0 {
		return payment.Intent{}, payment.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return payment.Intent{}, g.CreateErr
	}
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	in := payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		AmountMinor:  amountMinor,
		Currency:     currency,
		Status:       payment.IntentRequiresPaymentMethod,
		Metadata:     md,
	}
	g.intents[id] = in
	g.order = append(g.order, id)
	return in, nil
}

func (g *Gateway) VerifyAndParseWebhook(payload []byte, signature string) (payment.Event, error) {
	return payment.ParseStripeWebhook(payload, signature, WebhookSecret)
}

func (g *Gateway) RetrieveIntent(ctx context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RetrieveErr != nil {
		return payment.Intent{}, g.RetrieveErr
	}
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, &payment.APIError{Op: "retrieve intent", ClientFault: true, Err: fmt.Errorf("no such intent %s", id)}
	}
	return in, nil
}

func (g *Gateway) CancelIntent(ctx context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return payment.Intent{}, g.CancelErr
	}
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, &payment.APIError{Op: "cancel intent", ClientFault: true, Err: fmt.Errorf("no such intent %s", id)}
	}
	if in.Status == payment.IntentSucceeded {
		return payment.Intent{}, &payment.APIError{Op: "cancel intent", ClientFault: true, Err: fmt.Errorf("intent %s already succeeded", id)}
	}
	in.Status = payment.IntentCanceled
	g.intents[id] = in
	return in, nil
}

func (g *Gateway) FindIntentByOrder(ctx context.Context, orderID string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RetrieveErr != nil {
		return payment.Intent{}, g.RetrieveErr
	}
	for i := len(g.order) - 1; i >= 0; i-- {
		if in := g.intents[g.order[i]]; in.Metadata.OrderID == orderID {
			return in, nil
		}
	}
	return payment.Intent{}, payment.ErrIntentNotFound
}

func (g *Gateway) ReceiptURL(ctx context.Context, intentID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReceiptErr != nil {
		return "", g.ReceiptErr
	}
	return g.receipt[intentID], nil
}

// SetStatus moves a created intent to status, as the processor would after the customer acts.
func (g *Gateway) SetStatus(id string, status payment.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.Status = status
	g.intents[id] = in
}

// Put registers an intent the service never created, e.g. one started by another client.
func (g *Gateway) Put(in payment.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.intents[in.ID]; !ok {
		g.order = append(g.order, in.ID)
	}
	g.intents[in.ID] = in
}

func (g *Gateway) SetReceipt(intentID, url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipt[intentID] = url
}

func (g *Gateway) Intent(id string) (payment.Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	return in, ok
}

func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

// Event builds the verified event a webhook for in would produce.
func Event(eventID, eventType string, in payment.Intent) payment.Event {
	kind := payment.EventUnknown
	switch eventType {
	case "payment_intent.succeeded":
		kind = payment.EventSucceeded
	case "payment_intent.payment_failed":
		kind = payment.EventFailed
	case "payment_intent.canceled":
		kind = payment.EventCanceled
	}
	return payment.Event{ID: eventID, Type: eventType, Kind: kind, Intent: in}
}

// SignedWebhook renders a Stripe event for in and signs it with WebhookSecret. It returns
// the body and the Stripe-Signature header value.
func SignedWebhook(t testing.TB, eventID, eventType string, in payment.Intent) ([]byte, string) {
	t.Helper()
	obj := map[string]any{
		"id":       in.ID,
		"object":   "payment_intent",
		"amount":   in.AmountMinor,
		"currency": in.Currency,
		"status":   string(in.Status),
		"metadata": in.Metadata.Encode(),
	}
	if in.FailureMessage != "" {
		obj["last_payment_error"] = map[string]any{"message": in.FailureMessage, "type": "card_error"}
	}
	body, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": obj},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}
