package providers

import (
	"encoding/json"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/money"
	"ring0.store/fulfillment/models"
)

var storrikKinds = map[string]models.EventKind{
	"transaction.succeeded":    models.EventSucceeded,
	"transaction.completed":    models.EventSucceeded,
	"payment_intent.succeeded": models.EventSucceeded,
	"transaction.failed":       models.EventFailed,
	"payment_intent.failed":    models.EventFailed,
	"refund.created":           models.EventRefunded,
	"refunded.created":         models.EventRefunded,
	"transaction.refunded":     models.EventRefunded,
}

type storrikEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		storrikTransaction
		Transaction   *storrikTransaction `json:"transaction"`
		PaymentIntent *storrikTransaction `json:"payment_intent"`
	} `json:"data"`
}

// storrikTransaction amounts are in major units.
type storrikTransaction struct {
	ID            string   `json:"id"`
	TransactionID string   `json:"transaction_id"`
	Amount        *float64 `json:"amount"`
	Currency      string   `json:"currency"`
	CustomerEmail string   `json:"customer_email"`
	Customer      *struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type Storrik struct {
	verifier hmacVerifier
}

func NewStorrik(secret string) *Storrik {
	return &Storrik{verifier: hexSHA256(secret)}
}

func (s *Storrik) Method() models.PaymentMethod { return models.MethodStorrik }

func (s *Storrik) SignatureHeader() string { return "storrik-signature" }

func (s *Storrik) Verify(body []byte, signature string) bool {
	return s.verifier.verify(body, signature)
}

func (s *Storrik) Normalize(body []byte) (*models.PaymentEvent, error) {
	var event storrikEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fulfillment.NewParseError(err, "invalid storrik event")
	}
	if event.Type == "" {
		return nil, fulfillment.NewParseError(nil, "storrik event has no type")
	}

	ev := &models.PaymentEvent{
		Provider:        models.MethodStorrik,
		Kind:            models.EventIgnored,
		ProviderEventID: event.ID,
		RawType:         event.Type,
	}
	kind, ok := storrikKinds[event.Type]
	if !ok {
		return ev, nil
	}
	ev.Kind = kind

	// Transactions arrive either nested under data.transaction or
	// data.payment_intent, or flat in data itself.
	tx := &event.Data.storrikTransaction
	if event.Data.Transaction != nil {
		tx = event.Data.Transaction
	} else if event.Data.PaymentIntent != nil {
		tx = event.Data.PaymentIntent
	}

	ev.CorrelationKey = firstNonEmpty(tx.TransactionID, tx.ID)
	ev.Currency = money.NormalizeCode(tx.Currency)
	if tx.Amount != nil {
		minor := money.ToMinorUnits(*tx.Amount, ev.Currency)
		ev.AmountMinorUnits = &minor
	}
	email := tx.CustomerEmail
	if tx.Customer != nil {
		email = firstNonEmpty(tx.Customer.Email, email)
	}
	ev.CustomerEmail = normalizeEmail(firstNonEmpty(email, tx.Metadata["customer_email"]))
	return ev, nil
}
