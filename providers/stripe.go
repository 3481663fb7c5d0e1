package providers

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/internal/money"
	"ring0.store/fulfillment/models"
)

type Stripe struct {
	secret string
}

func NewStripe(secret string) *Stripe {
	return &Stripe{secret: secret}
}

func (s *Stripe) Method() models.PaymentMethod { return models.MethodStripe }

func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

// Verify checks the v1 signature and the timestamp tolerance.
func (s *Stripe) Verify(body []byte, signature string) bool {
	if s.secret == "" || signature == "" {
		return false
	}
	if err := webhook.ValidatePayload(body, signature, s.secret); err != nil {
		logger.Warn("Stripe signature verification failed", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (s *Stripe) Normalize(body []byte) (*models.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fulfillment.NewParseError(err, "invalid stripe event")
	}
	if event.Data == nil {
		return nil, fulfillment.NewParseError(nil, "stripe event %s has no data", event.ID)
	}

	ev := &models.PaymentEvent{
		Provider:        models.MethodStripe,
		Kind:            models.EventIgnored,
		ProviderEventID: event.ID,
		RawType:         string(event.Type),
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fulfillment.NewParseError(err, "invalid checkout session in %s", event.ID)
		}
		ev.Kind = checkoutSessionKind(event.Type, session.PaymentStatus)
		ev.CorrelationKey = session.ID
		ev.AmountMinorUnits = amount(session.AmountTotal)
		ev.Currency = money.NormalizeCode(string(session.Currency))
		email := session.CustomerEmail
		if session.CustomerDetails != nil {
			email = firstNonEmpty(session.CustomerDetails.Email, email)
		}
		ev.CustomerEmail = normalizeEmail(email)

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fulfillment.NewParseError(err, "invalid payment intent in %s", event.ID)
		}
		ev.Kind = models.EventFailed
		ev.AmountMinorUnits = amount(intent.Amount)
		ev.Currency = money.NormalizeCode(string(intent.Currency))
		ev.CustomerEmail = normalizeEmail(intent.ReceiptEmail)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fulfillment.NewParseError(err, "invalid charge in %s", event.ID)
		}
		if !charge.Refunded || charge.AmountRefunded < charge.Amount {
			logger.Info("Ignoring partial stripe refund", map[string]interface{}{
				"event_id":        event.ID,
				"charge_id":       charge.ID,
				"amount":          charge.Amount,
				"amount_refunded": charge.AmountRefunded,
			})
			return ev, nil
		}
		ev.Kind = models.EventRefunded
		ev.AmountMinorUnits = amount(charge.Amount)
		ev.Currency = money.NormalizeCode(string(charge.Currency))
		email := charge.ReceiptEmail
		if charge.BillingDetails != nil {
			email = firstNonEmpty(charge.BillingDetails.Email, email)
		}
		ev.CustomerEmail = normalizeEmail(email)
	}

	return ev, nil
}

func checkoutSessionKind(eventType stripe.EventType, status stripe.CheckoutSessionPaymentStatus) models.EventKind {
	switch eventType {
	case "checkout.session.completed":
		if status == stripe.CheckoutSessionPaymentStatusUnpaid {
			// async payment methods report the result in a later event
			return models.EventIgnored
		}
		return models.EventSucceeded
	case "checkout.session.async_payment_succeeded":
		return models.EventSucceeded
	default:
		return models.EventFailed
	}
}

func amount(minor int64) *int64 {
	if minor <= 0 {
		return nil
	}
	return &minor
}
