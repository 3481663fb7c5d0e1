package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ring0.store/fulfillment/internal/testutil"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

func TestMatcher_Match(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	byID := testutil.CreateOrder(t, store, testutil.PendingOrder("STRIPE-M1", models.MethodStripe, "cs_m1", "m@example.com", 2999))
	eur := testutil.PendingOrder("MM-M2", models.MethodMoneyMotion, "", "m@example.com", 2999)
	eur.Currency = "EUR"
	testutil.CreateOrder(t, store, eur)
	done := testutil.PendingOrder("MM-M3", models.MethodMoneyMotion, "", "done@example.com", 500)
	done.Status = models.OrderCompleted
	done.CreatedAt = testutil.BaseTime.Add(time.Hour)
	testutil.CreateOrder(t, store, done)
	crypto := testutil.CreateOrder(t, store, testutil.PendingOrder("CRYPTO-M4", models.MethodCryptoManual, "", "c@example.com", 5000))

	tests := []struct {
		name          string
		ev            models.PaymentEvent
		wantOrder     string
		byCorrelation bool
		wantSettled   bool
		wantUnmatched bool
	}{
		{
			name:          "correlation id",
			ev:            models.PaymentEvent{Provider: models.MethodStripe, Kind: models.EventSucceeded, CorrelationKey: "cs_m1"},
			wantOrder:     byID.ID,
			byCorrelation: true,
		},
		{
			name:          "correlation id with different amount still matches",
			ev:            models.PaymentEvent{Provider: models.MethodStripe, Kind: models.EventSucceeded, CorrelationKey: "cs_m1", AmountMinorUnits: testutil.Ptr(int64(1))},
			wantOrder:     byID.ID,
			byCorrelation: true,
		},
		{
			name:          "correlation id of another provider",
			ev:            models.PaymentEvent{Provider: models.MethodKomerza, Kind: models.EventSucceeded, CorrelationKey: "cs_m1", CustomerEmail: "m@example.com"},
			wantUnmatched: true,
		},
		{
			name:      "email fallback ignores case",
			ev:        models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventSucceeded, CustomerEmail: "M@Example.com", AmountMinorUnits: testutil.Ptr(int64(2999)), Currency: "eur"},
			wantOrder: eur.ID,
		},
		{
			name:          "currency mismatch",
			ev:            models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventSucceeded, CustomerEmail: "m@example.com", AmountMinorUnits: testutil.Ptr(int64(2999)), Currency: "USD"},
			wantUnmatched: true,
		},
		{
			name:      "refund falls back to completed orders",
			ev:        models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventRefunded, CustomerEmail: "done@example.com"},
			wantOrder: done.ID,
		},
		{
			name:          "manual confirmation by order number",
			ev:            models.PaymentEvent{Provider: models.MethodCryptoManual, Kind: models.EventSucceeded, OrderNumber: "CRYPTO-M4", CorrelationKey: "0xabc"},
			wantOrder:     crypto.ID,
			byCorrelation: true,
		},
		{
			name:          "order number of another payment method",
			ev:            models.PaymentEvent{Provider: models.MethodCryptoManual, Kind: models.EventSucceeded, OrderNumber: "STRIPE-M1"},
			wantUnmatched: true,
		},
		{
			name:        "success on an already completed order is settled",
			ev:          models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventSucceeded, CustomerEmail: "done@example.com"},
			wantOrder:   done.ID,
			wantSettled: true,
		},
		{
			name:          "settled match still needs the amount",
			ev:            models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventSucceeded, CustomerEmail: "done@example.com", AmountMinorUnits: testutil.Ptr(int64(501))},
			wantUnmatched: true,
		},
		{
			name:          "failed with no pending or failed order",
			ev:            models.PaymentEvent{Provider: models.MethodMoneyMotion, Kind: models.EventFailed, CustomerEmail: "done@example.com"},
			wantUnmatched: true,
		},
	}

	m := NewMatcher(store)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(ctx, tt.ev)
			if tt.wantUnmatched {
				assert.True(t, IsUnmatched(err), "expected unmatched, got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrder, got.Order.ID)
			assert.Equal(t, tt.byCorrelation, got.ByCorrelation)
			assert.Equal(t, tt.wantSettled, got.Settled)
			assert.False(t, got.Ambiguous)
		})
	}
}
