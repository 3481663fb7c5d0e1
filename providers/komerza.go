package providers

import (
	"encoding/json"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/money"
	"ring0.store/fulfillment/models"
)

var komerzaKinds = map[string]models.EventKind{
	"order.completed": models.EventSucceeded,
	"order.failed":    models.EventFailed,
	"order.refunded":  models.EventRefunded,
}

type komerzaEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		Order *struct {
			ID            string   `json:"id"`
			Status        string   `json:"status"`
			Total         *float64 `json:"total"`
			Currency      string   `json:"currency"`
			CustomerEmail string   `json:"customer_email"`
		} `json:"order"`
	} `json:"data"`
}

type Komerza struct {
	verifier hmacVerifier
}

func NewKomerza(secret string) *Komerza {
	return &Komerza{verifier: hexSHA256(secret)}
}

func (k *Komerza) Method() models.PaymentMethod { return models.MethodKomerza }

func (k *Komerza) SignatureHeader() string { return "x-komerza-signature" }

func (k *Komerza) Verify(body []byte, signature string) bool {
	return k.verifier.verify(body, signature)
}

func (k *Komerza) Normalize(body []byte) (*models.PaymentEvent, error) {
	var event komerzaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fulfillment.NewParseError(err, "invalid komerza event")
	}
	if event.Event == "" {
		return nil, fulfillment.NewParseError(nil, "komerza event has no type")
	}

	ev := &models.PaymentEvent{
		Provider:        models.MethodKomerza,
		Kind:            models.EventIgnored,
		ProviderEventID: event.ID,
		RawType:         event.Event,
	}
	kind, ok := komerzaKinds[event.Event]
	if !ok {
		return ev, nil
	}
	order := event.Data.Order
	if order == nil {
		return nil, fulfillment.NewParseError(nil, "komerza %s event has no order", event.Event)
	}

	ev.Kind = kind
	ev.CorrelationKey = order.ID
	ev.Currency = money.NormalizeCode(order.Currency)
	if order.Total != nil {
		minor := money.ToMinorUnits(*order.Total, ev.Currency)
		ev.AmountMinorUnits = &minor
	}
	ev.CustomerEmail = normalizeEmail(order.CustomerEmail)
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = order.ID + ":" + event.Event
	}
	return ev, nil
}
