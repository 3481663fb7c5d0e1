package providers

import (
	"encoding/json"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/models"
)

var moneyMotionKinds = map[string]models.EventKind{
	"checkout_session:complete": models.EventSucceeded,
	"checkout_session:expired":  models.EventFailed,
	"checkout_session:refunded": models.EventRefunded,
	"checkout_session:new":      models.EventIgnored,
	"checkout_session:disputed": models.EventIgnored,
}

type moneyMotionEvent struct {
	Event           string `json:"event"`
	CheckoutSession *struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		TotalInCents *int64 `json:"totalInCents"`
	} `json:"checkoutSession"`
	Customer *struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// MoneyMotion payloads carry no currency, so matching compares amounts only.
type MoneyMotion struct {
	verifier hmacVerifier
}

func NewMoneyMotion(secret string) *MoneyMotion {
	return &MoneyMotion{verifier: base64SHA512(secret)}
}

func (m *MoneyMotion) Method() models.PaymentMethod { return models.MethodMoneyMotion }

func (m *MoneyMotion) SignatureHeader() string { return "x-moneymotion-signature" }

func (m *MoneyMotion) Verify(body []byte, signature string) bool {
	return m.verifier.verify(body, signature)
}

func (m *MoneyMotion) Normalize(body []byte) (*models.PaymentEvent, error) {
	var event moneyMotionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fulfillment.NewParseError(err, "invalid moneymotion event")
	}
	if event.Event == "" {
		return nil, fulfillment.NewParseError(nil, "moneymotion event has no type")
	}

	ev := &models.PaymentEvent{
		Provider: models.MethodMoneyMotion,
		Kind:     models.EventIgnored,
		RawType:  event.Event,
	}
	kind, ok := moneyMotionKinds[event.Event]
	if !ok || kind == models.EventIgnored {
		return ev, nil
	}
	if event.CheckoutSession == nil {
		return nil, fulfillment.NewParseError(nil, "moneymotion %s event has no checkout session", event.Event)
	}

	ev.Kind = kind
	ev.CorrelationKey = event.CheckoutSession.ID
	ev.ProviderEventID = event.CheckoutSession.ID + ":" + event.Event
	ev.AmountMinorUnits = event.CheckoutSession.TotalInCents
	if event.Customer != nil {
		ev.CustomerEmail = normalizeEmail(event.Customer.Email)
	}
	return ev, nil
}
