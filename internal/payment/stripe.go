package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway implements Gateway on the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

var _ Gateway = (*StripeGateway)(nil)

func NewStripeGateway(secretKey, webhookSecret string, log *slog.Logger) *StripeGateway {
	return &StripeGateway{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, md Metadata) (Intent, error) {
	if amountMinor <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range md.Encode() {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, apiError("create intent", err)
	}
	in, _ := toIntent(pi)
	return in, nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, apiError("retrieve intent", err)
	}
	in, err := toIntent(pi)
	if err != nil {
		g.log.Warn("intent metadata unreadable", "intent_id", id, "err", err)
	}
	return in, nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return Intent{}, apiError("cancel intent", err)
	}
	in, _ := toIntent(pi)
	return in, nil
}

// FindIntentByOrder uses the search API, which indexes new intents with a delay of up to a
// minute.
func (g *StripeGateway) FindIntentByOrder(ctx context.Context, orderID string) (Intent, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetaOrderID, strings.ReplaceAll(orderID, "'", ""))
	params.Limit = stripe.Int64(10)
	params.Single = true

	var latest *stripe.PaymentIntent
	it := g.api.PaymentIntents.Search(params)
	for it.Next() {
		pi := it.PaymentIntent()
		if latest == nil || pi.Created > latest.Created {
			latest = pi
		}
	}
	if err := it.Err(); err != nil {
		return Intent{}, apiError("search intents", err)
	}
	if latest == nil {
		return Intent{}, ErrIntentNotFound
	}
	in, err := toIntent(latest)
	if err != nil {
		g.log.Warn("intent metadata unreadable", "intent_id", latest.ID, "err", err)
	}
	return in, nil
}

func (g *StripeGateway) ReceiptURL(ctx context.Context, intentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return "", apiError("receipt url", err)
	}
	if pi.LatestCharge == nil {
		return "", nil
	}
	return pi.LatestCharge.ReceiptURL, nil
}

func (g *StripeGateway) VerifyAndParseWebhook(payload []byte, signature string) (Event, error) {
	return ParseStripeWebhook(payload, signature, g.webhookSecret)
}

// ParseStripeWebhook verifies a Stripe-Signature header against secret and decodes the
// payload into an Event.
func ParseStripeWebhook(payload []byte, signature, secret string) (Event, error) {
	if secret == "" {
		return Event{}, &SignatureError{Err: errors.New("webhook secret not configured")}
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureFailure(err) {
			return Event{}, &SignatureError{Err: err}
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type), Kind: kindOf(string(evt.Type))}
	if out.Kind == EventUnknown {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: %s without data", ErrMalformedEvent, evt.Type)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if pi.ID == "" {
		return Event{}, fmt.Errorf("%w: payment intent without id", ErrMalformedEvent)
	}
	out.Intent, out.MetadataErr = toIntent(&pi)
	return out, nil
}

func kindOf(eventType string) EventKind {
	switch eventType {
	case "payment_intent.succeeded":
		return EventSucceeded
	case "payment_intent.payment_failed":
		return EventFailed
	case "payment_intent.canceled":
		return EventCanceled
	}
	return EventUnknown
}

func isSignatureFailure(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// toIntent converts even when metadata is unreadable; the error reports the metadata problem.
func toIntent(pi *stripe.PaymentIntent) (Intent, error) {
	md, err := ParseMetadata(pi.Metadata)
	in := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       IntentStatus(pi.Status),
		Metadata:     md,
	}
	if pi.LastPaymentError != nil {
		in.FailureMessage = pi.LastPaymentError.Msg
	}
	return in, err
}

func apiError(op string, err error) error {
	var se *stripe.Error
	clientFault := errors.As(err, &se) &&
		(se.Type == stripe.ErrorTypeInvalidRequest || se.Type == stripe.ErrorTypeCard)
	return &APIError{Op: op, ClientFault: clientFault, Err: err}
}
