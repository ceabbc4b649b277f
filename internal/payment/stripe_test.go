package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/payment/paymenttest"
)

func intent() payment.Intent {
	return payment.Intent{
		ID:          "pi_123",
		AmountMinor: 2500,
		Currency:    "usd",
		Status:      payment.IntentSucceeded,
		Metadata: payment.Metadata{
			OrderID:       "8a5c3a2e-4bde-4a53-9a0e-3b1d3c1f2f10",
			UserID:        "u1",
			Items:         []payment.Item{{ProductID: "p1", Quantity: 2}},
			SubtotalCents: 2000,
			ShippingCents: 500,
		},
	}
}

func TestParseStripeWebhookSucceeded(t *testing.T) {
	body, sig := paymenttest.SignedWebhook(t, "evt_1", "payment_intent.succeeded", intent())

	evt, err := payment.ParseStripeWebhook(body, sig, paymenttest.WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, payment.EventSucceeded, evt.Kind)
	assert.Equal(t, "pi_123", evt.Intent.ID)
	assert.Equal(t, int64(2500), evt.Intent.AmountMinor)
	assert.Equal(t, payment.IntentSucceeded, evt.Intent.Status)
	assert.NoError(t, evt.MetadataErr)
	assert.Equal(t, intent().Metadata.OrderID, evt.Intent.Metadata.OrderID)
	assert.Equal(t, []payment.Item{{ProductID: "p1", Quantity: 2}}, evt.Intent.Metadata.Items)
	assert.Equal(t, int64(500), evt.Intent.Metadata.ShippingCents)
}

func TestParseStripeWebhookFailedCarriesReason(t *testing.T) {
	in := intent()
	in.Status = payment.IntentRequiresPaymentMethod
	in.FailureMessage = "Your card was declined."
	body, sig := paymenttest.SignedWebhook(t, "evt_2", "payment_intent.payment_failed", in)

	evt, err := payment.ParseStripeWebhook(body, sig, paymenttest.WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, payment.EventFailed, evt.Kind)
	assert.Equal(t, "Your card was declined.", evt.Intent.FailureMessage)
}

func TestParseStripeWebhookRejectsBadSignature(t *testing.T) {
	body, sig := paymenttest.SignedWebhook(t, "evt_1", "payment_intent.succeeded", intent())

	_, err := payment.ParseStripeWebhook(body, sig, "whsec_other")
	var sigErr *payment.SignatureError
	require.ErrorAs(t, err, &sigErr)

	_, err = payment.ParseStripeWebhook(body, "", paymenttest.WebhookSecret)
	require.ErrorAs(t, err, &sigErr)

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = ' '
	_, err = payment.ParseStripeWebhook(tampered, sig, paymenttest.WebhookSecret)
	require.ErrorAs(t, err, &sigErr)
}

func TestParseStripeWebhookUnknownTypeIsAcknowledged(t *testing.T) {
	body, sig := paymenttest.SignedWebhook(t, "evt_3", "charge.refund.updated", intent())

	evt, err := payment.ParseStripeWebhook(body, sig, paymenttest.WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, payment.EventUnknown, evt.Kind)
	assert.Empty(t, evt.Intent.ID)
}

func TestParseStripeWebhookBadMetadataStillParses(t *testing.T) {
	in := intent()
	in.Metadata.Items = nil
	in.Metadata.Extra = map[string]string{payment.MetaItems: "not-json"}
	body, sig := paymenttest.SignedWebhook(t, "evt_4", "payment_intent.succeeded", in)

	evt, err := payment.ParseStripeWebhook(body, sig, paymenttest.WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, payment.EventSucceeded, evt.Kind)
	assert.Error(t, evt.MetadataErr)
	assert.Nil(t, evt.Intent.Metadata.Items)
	assert.Equal(t, "u1", evt.Intent.Metadata.UserID)
}

func TestCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	g := payment.NewStripeGateway("sk_test_unused", paymenttest.WebhookSecret, logging.Discard())

	_, err := g.CreateIntent(context.Background(), 0, "usd", payment.Metadata{})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
	_, err = g.CreateIntent(context.Background(), -100, "usd", payment.Metadata{})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
}

func TestParseStripeWebhookWithoutSecret(t *testing.T) {
	body, sig := paymenttest.SignedWebhook(t, "evt_1", "payment_intent.succeeded", intent())
	_, err := payment.ParseStripeWebhook(body, sig, "")
	var sigErr *payment.SignatureError
	assert.ErrorAs(t, err, &sigErr)
}
