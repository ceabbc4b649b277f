package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataEncodeParse(t *testing.T) {
	md := Metadata{
		OrderID:       "o1",
		UserID:        "u1",
		Items:         []Item{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		SubtotalCents: 3000,
		ShippingCents: 499,
		Extra:         map[string]string{"customerEmail": "a@example.com"},
	}
	raw := md.Encode()
	assert.Equal(t, `[{"productId":"p1","quantity":2},{"productId":"p2","quantity":1}]`, raw[MetaItems])

	got, err := ParseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, md, got)
}

func TestParseMetadataReportsBadFieldsAndKeepsTheRest(t *testing.T) {
	got, err := ParseMetadata(map[string]string{
		MetaUserID:   "u1",
		MetaItems:    `[{"productId":"p1","quantity":0}]`,
		MetaSubtotal: "12.50",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), MetaItems)
	assert.Contains(t, err.Error(), MetaSubtotal)
	assert.Equal(t, "u1", got.UserID)
	assert.Nil(t, got.Items)
	assert.Zero(t, got.SubtotalCents)
}

func TestEncodeIgnoresReservedKeysInExtra(t *testing.T) {
	raw := Metadata{
		UserID: "u1",
		Extra: map[string]string{
			MetaItems:       `[{"productId":"p1","quantity":50}]`,
			MetaOrderID:     "forged",
			MetaSubtotal:    "1",
			"customerEmail": "a@example.com",
		},
	}.Encode()

	assert.Equal(t, "u1", raw[MetaUserID])
	assert.Equal(t, "a@example.com", raw["customerEmail"])
	for _, k := range []string{MetaItems, MetaOrderID, MetaSubtotal} {
		_, ok := raw[k]
		assert.False(t, ok, k)
	}
}

func TestEncodeDropsOversizedCart(t *testing.T) {
	items := make([]Item, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, Item{ProductID: strings.Repeat("x", 20), Quantity: 1})
	}
	raw := Metadata{UserID: "u1", Items: items}.Encode()
	_, ok := raw[MetaItems]
	assert.False(t, ok)
	assert.Equal(t, "u1", raw[MetaUserID])
}

func TestIntentStatusInFlight(t *testing.T) {
	assert.True(t, IntentProcessing.InFlight())
	assert.True(t, IntentRequiresCapture.InFlight())
	assert.False(t, IntentRequiresPaymentMethod.InFlight())
	assert.False(t, IntentSucceeded.InFlight())
}
