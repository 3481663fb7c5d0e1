package providers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"ring0.store/fulfillment/models"
)

func stripeEvent(t *testing.T, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test123",
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-03-31.basil",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func TestStripeVerify(t *testing.T) {
	s := NewStripe("whsec_test")
	payload := stripeEvent(t, "checkout.session.completed", map[string]interface{}{"id": "cs_1"})

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	assert.True(t, s.Verify(payload, signed.Header))

	assert.False(t, s.Verify(payload, ""), "missing header")
	assert.False(t, s.Verify(append(payload, ' '), signed.Header), "tampered body")

	wrongSecret := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	assert.False(t, s.Verify(payload, wrongSecret.Header))

	stale := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now().Add(-time.Hour),
	})
	assert.False(t, s.Verify(payload, stale.Header), "outside tolerance")
}

func TestStripeNormalize(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		expect normalizeCase
	}{
		{
			name: "checkout completed and paid",
			body: stripeEvent(t, "checkout.session.completed", map[string]interface{}{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"amount_total":   2999,
				"currency":       "usd",
				"payment_status": "paid",
				"customer_email": "fallback@example.com",
				"customer_details": map[string]interface{}{
					"email": "Buyer@Example.com",
				},
			}),
			expect: normalizeCase{kind: models.EventSucceeded, correlation: "cs_test_1", amount: minor(2999), currency: "USD", email: "buyer@example.com"},
		},
		{
			name: "checkout completed but unpaid",
			body: stripeEvent(t, "checkout.session.completed", map[string]interface{}{
				"id":             "cs_test_2",
				"payment_status": "unpaid",
			}),
			expect: normalizeCase{kind: models.EventIgnored},
		},
		{
			name: "async payment succeeded",
			body: stripeEvent(t, "checkout.session.async_payment_succeeded", map[string]interface{}{
				"id":             "cs_test_3",
				"amount_total":   1000,
				"currency":       "eur",
				"customer_email": "async@example.com",
			}),
			expect: normalizeCase{kind: models.EventSucceeded, correlation: "cs_test_3", amount: minor(1000), currency: "EUR", email: "async@example.com"},
		},
		{
			name: "session expired",
			body: stripeEvent(t, "checkout.session.expired", map[string]interface{}{
				"id":       "cs_test_4",
				"currency": "usd",
			}),
			expect: normalizeCase{kind: models.EventFailed, correlation: "cs_test_4", currency: "USD"},
		},
		{
			name: "payment intent failed has no correlation",
			body: stripeEvent(t, "payment_intent.payment_failed", map[string]interface{}{
				"id":            "pi_1",
				"amount":        2999,
				"currency":      "usd",
				"receipt_email": "pi@example.com",
			}),
			expect: normalizeCase{kind: models.EventFailed, amount: minor(2999), currency: "USD", email: "pi@example.com"},
		},
		{
			name: "full refund",
			body: stripeEvent(t, "charge.refunded", map[string]interface{}{
				"id":              "ch_1",
				"amount":          2999,
				"amount_refunded": 2999,
				"refunded":        true,
				"currency":        "usd",
				"billing_details": map[string]interface{}{"email": "refund@example.com"},
			}),
			expect: normalizeCase{kind: models.EventRefunded, amount: minor(2999), currency: "USD", email: "refund@example.com"},
		},
		{
			name: "partial refund",
			body: stripeEvent(t, "charge.refunded", map[string]interface{}{
				"id":              "ch_2",
				"amount":          2999,
				"amount_refunded": 1000,
				"refunded":        false,
				"currency":        "usd",
			}),
			expect: normalizeCase{kind: models.EventIgnored},
		},
		{
			name:   "unrelated event",
			body:   stripeEvent(t, "customer.created", map[string]interface{}{"id": "cus_1"}),
			expect: normalizeCase{kind: models.EventIgnored},
		},
	}

	s := NewStripe("whsec_test")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := s.Normalize(tt.body)
			require.NoError(t, err)
			assert.Equal(t, "evt_test123", ev.ProviderEventID)
			assert.Equal(t, tt.expect.kind, ev.Kind)
			if tt.expect.kind == models.EventIgnored {
				return
			}
			assert.Equal(t, tt.expect.correlation, ev.CorrelationKey)
			assert.Equal(t, tt.expect.amount, ev.AmountMinorUnits)
			assert.Equal(t, tt.expect.currency, ev.Currency)
			assert.Equal(t, tt.expect.email, ev.CustomerEmail)
		})
	}
}
