package models

import (
	"testing"
	"time"
)

func TestPaymentMethod_CorrelationColumn(t *testing.T) {
	tests := []struct {
		method   PaymentMethod
		expected string
	}{
		{MethodStripe, "stripe_session_id"},
		{MethodStorrik, "transaction_id"},
		{MethodKomerza, "komerza_order_id"},
		{MethodMoneyMotion, "moneymotion_session_id"},
		{MethodCryptoManual, "crypto_tx_hash"},
		{PaymentMethod("paypal"), ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if got := tt.method.CorrelationColumn(); got != tt.expected {
				t.Errorf("Expected column '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestParsePaymentMethod(t *testing.T) {
	if m, ok := ParsePaymentMethod("moneymotion"); !ok || m != MethodMoneyMotion {
		t.Errorf("Expected moneymotion, got %q (ok=%v)", m, ok)
	}
	if _, ok := ParsePaymentMethod("MoneyMotion"); ok {
		t.Error("Expected method names to be case sensitive")
	}
}

func TestOrder_SetCorrelationID(t *testing.T) {
	order := &Order{PaymentMethod: MethodStorrik}

	if order.CorrelationID() != "" {
		t.Fatalf("Expected empty correlation id, got '%s'", order.CorrelationID())
	}

	order.SetCorrelationID("txn_1")
	if order.TransactionID == nil || *order.TransactionID != "txn_1" {
		t.Fatalf("Expected transaction_id txn_1, got %v", order.TransactionID)
	}
	if order.StripeSessionID != nil {
		t.Error("Expected stripe_session_id to stay empty")
	}

	order.SetCorrelationID("txn_2")
	if got := order.CorrelationID(); got != "txn_1" {
		t.Errorf("Expected existing correlation id to be kept, got '%s'", got)
	}
}

func TestOrder_Clone(t *testing.T) {
	key := "KEY-1"
	order := &Order{ID: "o1", PaymentMethod: MethodStripe, LicenseKey: &key}
	clone := order.Clone()

	*clone.LicenseKey = "KEY-2"
	if *order.LicenseKey != "KEY-1" {
		t.Errorf("Expected clone to be independent, original now '%s'", *order.LicenseKey)
	}
}

func TestLicense_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		expected  bool
	}{
		{"lifetime", nil, false},
		{"expired", &past, true},
		{"active", &future, false},
		{"expires now", &now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := License{ExpiresAt: tt.expiresAt}
			if got := l.Expired(now); got != tt.expected {
				t.Errorf("Expected expired=%v, got %v", tt.expected, got)
			}
		})
	}
}
