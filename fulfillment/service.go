package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
)

type Result struct {
	Outcome   Outcome
	Order     *models.Order
	License   *models.License
	Ambiguous bool
}

// Service turns normalized payment events into order transitions.
type Service struct {
	store      storage.Storage
	matcher    *Matcher
	machine    *StateMachine
	dispatcher *Dispatcher
}

func NewService(store storage.Storage, allocator *Allocator, dispatcher *Dispatcher) *Service {
	if dispatcher == nil {
		dispatcher = NewDispatcher(nil, nil, nil, DispatcherConfig{})
	}
	return &Service{
		store:      store,
		matcher:    NewMatcher(store),
		machine:    NewStateMachine(store, allocator),
		dispatcher: dispatcher,
	}
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Process matches ev to an order and applies it. The only error it returns
// is a store failure, which the caller must surface so the provider retries;
// every other outcome is reported in the Result.
func (s *Service) Process(ctx context.Context, ev models.PaymentEvent) (*Result, error) {
	fields := map[string]interface{}{
		"provider":   ev.Provider,
		"event_id":   ev.ProviderEventID,
		"event_type": ev.RawType,
		"kind":       ev.Kind,
	}

	if ev.Kind == models.EventIgnored {
		logger.Info("Ignoring provider event", fields)
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	match, err := s.matcher.Match(ctx, ev)
	if IsUnmatched(err) {
		fields["reason"] = err.Error()
		logger.Warn("No order matches payment event, recorded for reconciliation", fields)
		s.recordReconciliation(ctx, ev, models.ReasonUnmatched, nil)
		s.dispatcher.Unmatched(ev, models.ReasonUnmatched)
		return &Result{Outcome: OutcomeUnmatched}, nil
	}
	if err != nil {
		return nil, err
	}
	if match.Ambiguous {
		orderID := match.Order.ID
		s.recordReconciliation(ctx, ev, models.ReasonAmbiguous, &orderID)
	}

	applied, err := s.machine.Apply(ctx, match.Order, ev)
	if IsConflict(err) {
		return &Result{Outcome: OutcomeDuplicate, Order: match.Order, Ambiguous: match.Ambiguous}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &Result{Order: applied.Order, Ambiguous: match.Ambiguous}
	switch ev.Kind {
	case models.EventSucceeded:
		result.Outcome = OutcomeCompleted
		result.License = applied.Allocation.License
		if applied.Allocation.Exhausted != nil {
			s.dispatcher.StockExhausted(applied.Order)
		}
		s.dispatcher.Completed(applied.Order, applied.Allocation.License)
	case models.EventFailed:
		result.Outcome = OutcomeFailed
		s.dispatcher.Failed(applied.Order)
	case models.EventRefunded:
		result.Outcome = OutcomeRefunded
		s.dispatcher.Refunded(applied.Order, applied.RevokedLicenses)
	}
	return result, nil
}

// recordReconciliation persists ev for manual follow-up. A failure here is
// logged only: the event itself has already been logged in full.
func (s *Service) recordReconciliation(ctx context.Context, ev models.PaymentEvent, reason string, orderID *string) {
	rec := &models.ReconciliationEvent{
		ID:               uuid.Must(uuid.NewRandom()).String(),
		Provider:         ev.Provider,
		ProviderEventID:  ev.ProviderEventID,
		EventType:        ev.RawType,
		Kind:             ev.Kind,
		CorrelationKey:   ev.CorrelationKey,
		CustomerEmail:    ev.CustomerEmail,
		AmountMinorUnits: ev.AmountMinorUnits,
		Currency:         ev.Currency,
		Reason:           reason,
		OrderID:          orderID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.SaveReconciliationEvent(ctx, rec); err != nil {
		logger.Error("Failed to record reconciliation event", map[string]interface{}{
			"provider": ev.Provider,
			"event_id": ev.ProviderEventID,
			"reason":   reason,
			"error":    err.Error(),
		})
	}
}
