package fulfillment

import (
	"context"
	"strings"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

// Match is the order an event resolved to.
type Match struct {
	Order *models.Order
	// ByCorrelation is false when the order was found through the weaker
	// email fallback.
	ByCorrelation bool
	// Ambiguous is set when more than one order fit the fallback and the
	// newest one was picked.
	Ambiguous bool
	// Settled is set when the fallback found no order the event can act on
	// but found one the event already moved. Applying it is a conflict.
	Settled    bool
	Candidates int
}

type Matcher struct {
	store storage.Storage
}

func NewMatcher(store storage.Storage) *Matcher {
	return &Matcher{store: store}
}

// Match resolves ev to exactly one order.
//
// A manual confirmation names its order directly. An event that carries a
// correlation id only ever matches the order that stored that id at
// checkout. An event without one falls back to the newest order for the
// same customer email and payment method in the status the event can act
// on. When the event carries an amount, candidates must match it exactly
// (and the currency too, when both sides have one); a mismatch is never
// relaxed. This fallback cannot tell apart two orders with the same email
// and amount, so such matches are flagged ambiguous.
//
// A redelivered fallback event finds its order already moved. It then
// matches that order as settled instead of going unmatched.
func (m *Matcher) Match(ctx context.Context, ev models.PaymentEvent) (*Match, error) {
	if ev.OrderNumber != "" {
		return m.matchOrderNumber(ctx, ev)
	}
	if ev.CorrelationKey != "" {
		order, err := m.store.FindOrderByCorrelation(ctx, ev.Provider, ev.CorrelationKey)
		if err != nil {
			return nil, NewStoreUnavailableError(err, "failed to look up order by correlation id")
		}
		if order == nil {
			return nil, NewUnmatchedError("no %s order with correlation id %s", ev.Provider, ev.CorrelationKey)
		}
		if ev.AmountMinorUnits != nil && *ev.AmountMinorUnits != order.AmountMinorUnits {
			logger.Warn("Event amount differs from order amount", map[string]interface{}{
				"order_id":     order.ID,
				"order_amount": order.AmountMinorUnits,
				"event_amount": *ev.AmountMinorUnits,
				"provider":     ev.Provider,
			})
		}
		return &Match{Order: order, ByCorrelation: true, Candidates: 1}, nil
	}

	email := strings.TrimSpace(ev.CustomerEmail)
	if email == "" {
		return nil, NewUnmatchedError("%s event has neither correlation id nor customer email", ev.Provider)
	}

	candidates, err := m.fallbackCandidates(ctx, ev, email, fallbackStatus(ev.Kind))
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return m.matchSettled(ctx, ev, email)
	case 1:
		logger.Info("Order matched by email fallback", map[string]interface{}{
			"order_id": candidates[0].ID,
			"provider": ev.Provider,
		})
		return &Match{Order: candidates[0], Candidates: 1}, nil
	default:
		logger.Warn("Ambiguous fallback match, using most recent order", map[string]interface{}{
			"order_id":   candidates[0].ID,
			"candidates": len(candidates),
			"provider":   ev.Provider,
			"event_id":   ev.ProviderEventID,
		})
		return &Match{Order: candidates[0], Ambiguous: true, Candidates: len(candidates)}, nil
	}
}

// matchSettled looks for an order the event has already moved, so that a
// redelivery is reported as a duplicate rather than a new unmatched payment.
func (m *Matcher) matchSettled(ctx context.Context, ev models.PaymentEvent, email string) (*Match, error) {
	t, ok := transitions[ev.Kind]
	if !ok {
		return nil, NewUnmatchedError("%s event kind %q does not change orders", ev.Provider, ev.Kind)
	}
	settled, err := m.fallbackCandidates(ctx, ev, email, t.to)
	if err != nil {
		return nil, err
	}
	if len(settled) == 0 {
		return nil, NewUnmatchedError("no %s order in status %s for %s matching the event amount",
			ev.Provider, t.from, email)
	}
	logger.Info("Fallback event matches an order it already moved", map[string]interface{}{
		"order_id": settled[0].ID,
		"status":   settled[0].Status,
		"provider": ev.Provider,
		"event_id": ev.ProviderEventID,
	})
	return &Match{Order: settled[0], Settled: true, Candidates: len(settled)}, nil
}

// fallbackCandidates returns the orders for email in status whose amount
// fits ev, newest first.
func (m *Matcher) fallbackCandidates(ctx context.Context, ev models.PaymentEvent, email string, status models.OrderStatus) ([]*models.Order, error) {
	orders, err := m.store.FindOrdersByEmail(ctx, email, ev.Provider, status)
	if err != nil {
		return nil, NewStoreUnavailableError(err, "failed to look up orders by email")
	}

	candidates := orders[:0]
	for _, o := range orders {
		if amountMatches(ev, o) {
			candidates = append(candidates, o)
		}
	}
	return candidates, nil
}

func (m *Matcher) matchOrderNumber(ctx context.Context, ev models.PaymentEvent) (*Match, error) {
	order, err := m.store.FindOrderByNumber(ctx, ev.OrderNumber)
	if err != nil {
		return nil, NewStoreUnavailableError(err, "failed to look up order by number")
	}
	if order == nil || order.PaymentMethod != ev.Provider {
		return nil, NewUnmatchedError("no %s order numbered %s", ev.Provider, ev.OrderNumber)
	}
	if existing := order.CorrelationID(); existing != "" && ev.CorrelationKey != "" && existing != ev.CorrelationKey {
		logger.Warn("Order already carries a different correlation id", map[string]interface{}{
			"order_id": order.ID,
			"existing": existing,
			"event":    ev.CorrelationKey,
		})
	}
	return &Match{Order: order, ByCorrelation: true, Candidates: 1}, nil
}

// fallbackStatus is the order status an event of kind can act on.
func fallbackStatus(kind models.EventKind) models.OrderStatus {
	if kind == models.EventRefunded {
		return models.OrderCompleted
	}
	return models.OrderPending
}

func amountMatches(ev models.PaymentEvent, o *models.Order) bool {
	if ev.AmountMinorUnits == nil {
		return true
	}
	if *ev.AmountMinorUnits != o.AmountMinorUnits {
		return false
	}
	return ev.Currency == "" || o.Currency == "" || strings.EqualFold(ev.Currency, o.Currency)
}
