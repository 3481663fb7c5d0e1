package models

import "time"

type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventRefunded  EventKind = "refunded"
	// EventIgnored marks a provider event type that needs no action.
	EventIgnored EventKind = "ignored"
)

// PaymentEvent is the provider-independent shape of an inbound webhook.
// It is never persisted as its own row.
type PaymentEvent struct {
	Provider         PaymentMethod
	Kind             EventKind
	ProviderEventID  string
	RawType          string
	CorrelationKey   string
	AmountMinorUnits *int64
	Currency         string
	CustomerEmail    string
	// OrderNumber is set by manual confirmations, which name the order
	// directly instead of carrying a provider id stored at checkout.
	OrderNumber string
}

// ReconciliationEvent is an inbound event that needs a human to look at it,
// either because no order matched or because several did.
type ReconciliationEvent struct {
	ID               string        `json:"id"`
	Provider         PaymentMethod `json:"provider"`
	ProviderEventID  string        `json:"provider_event_id,omitempty"`
	EventType        string        `json:"event_type"`
	Kind             EventKind     `json:"kind"`
	CorrelationKey   string        `json:"correlation_key,omitempty"`
	CustomerEmail    string        `json:"customer_email,omitempty"`
	AmountMinorUnits *int64        `json:"amount_minor_units,omitempty"`
	Currency         string        `json:"currency,omitempty"`
	Reason           string        `json:"reason"`
	OrderID          *string       `json:"order_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

const (
	ReasonUnmatched = "unmatched"
	ReasonAmbiguous = "ambiguous"
)

// NotificationLog records the outcome of one side-channel delivery attempt.
type NotificationLog struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// Operational notification event names.
const (
	NotifyOrderCompleted = "order.completed"
	NotifyPaymentFailed  = "payment.failed"
	NotifyOrderRefunded  = "order.refunded"
	NotifyStockExhausted = "stock.exhausted"
	NotifyOrderUnmatched = "order.unmatched"
)

// PurchaseReceipt is everything the purchase confirmation email needs.
type PurchaseReceipt struct {
	CustomerEmail string
	OrderNumber   string
	ProductName   string
	Duration      string
	LicenseKey    string
	ExpiresAt     *time.Time
	TotalPaid     string
}
