package fulfillment

import (
	"context"
	"errors"
	"time"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

// transitions lists the only legal moves, keyed by the event that causes them.
var transitions = map[models.EventKind]struct{ from, to models.OrderStatus }{
	models.EventSucceeded: {models.OrderPending, models.OrderCompleted},
	models.EventFailed:    {models.OrderPending, models.OrderFailed},
	models.EventRefunded:  {models.OrderCompleted, models.OrderRefunded},
}

// Applied is the committed result of one transition.
type Applied struct {
	Order           *models.Order
	Allocation      *Allocation
	RevokedLicenses int64
}

// StateMachine is the only writer of Order.Status. Every transition is a
// conditional update on the current status, so of two concurrent deliveries
// of the same event exactly one wins and the other sees a conflict.
type StateMachine struct {
	store     storage.Storage
	allocator *Allocator
	now       func() time.Time
}

func NewStateMachine(store storage.Storage, allocator *Allocator) *StateMachine {
	return &StateMachine{
		store:     store,
		allocator: allocator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply moves order according to ev. A move that is not legal from the
// order's current status returns a conflict error and changes nothing.
func (sm *StateMachine) Apply(ctx context.Context, order *models.Order, ev models.PaymentEvent) (*Applied, error) {
	t, ok := transitions[ev.Kind]
	if !ok {
		return nil, NewConflictError(order.ID, "event kind %q does not change orders", ev.Kind)
	}
	if order.Status != t.from {
		return nil, sm.conflict(order, ev, order.Status, t.from)
	}

	now := sm.now()
	applied := &Applied{}

	err := sm.store.WithTx(ctx, func(tx storage.Tx) error {
		changed, err := tx.TransitionOrder(ctx, storage.Transition{
			OrderID:       order.ID,
			From:          t.from,
			To:            t.to,
			Method:        order.PaymentMethod,
			CorrelationID: ev.CorrelationKey,
			At:            now,
		})
		if errors.Is(err, storage.ErrDuplicateCorrelation) {
			return NewConflictError(order.ID, "correlation id %s belongs to another order", ev.CorrelationKey)
		}
		if err != nil {
			return NewStoreUnavailableError(err, "failed to transition order")
		}
		if !changed {
			current, err := tx.GetOrder(ctx, order.ID)
			if err != nil {
				return NewStoreUnavailableError(err, "failed to reload order")
			}
			status := models.OrderStatus("missing")
			if current != nil {
				status = current.Status
			}
			return sm.conflict(order, ev, status, t.from)
		}

		switch t.to {
		case models.OrderCompleted:
			alloc, err := sm.allocator.Allocate(ctx, tx, order, now)
			if err != nil {
				return err
			}
			if err := tx.SetOrderLicenseKey(ctx, order.ID, alloc.License.Key); err != nil {
				return NewStoreUnavailableError(err, "failed to store license key on order")
			}
			applied.Allocation = alloc
		case models.OrderRefunded:
			n, err := tx.RevokeOrderLicenses(ctx, order.ID)
			if err != nil {
				return NewStoreUnavailableError(err, "failed to revoke licenses")
			}
			applied.RevokedLicenses = n
		}

		updated, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return NewStoreUnavailableError(err, "failed to reload order")
		}
		applied.Order = updated
		return nil
	})
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, NewStoreUnavailableError(err, "transaction failed")
	}

	logger.Info("Order transitioned", map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"from":         t.from,
		"to":           t.to,
		"provider":     ev.Provider,
	})
	return applied, nil
}

func (sm *StateMachine) conflict(order *models.Order, ev models.PaymentEvent, current, want models.OrderStatus) *Error {
	fields := map[string]interface{}{
		"order_id":       order.ID,
		"current_status": current,
		"event_kind":     ev.Kind,
		"provider":       ev.Provider,
	}
	if ev.Kind == models.EventFailed && current == models.OrderCompleted {
		logger.Warn("Ignoring failure event for completed order", fields)
	} else {
		logger.Info("Duplicate or out-of-order event ignored", fields)
	}
	return NewConflictError(order.ID, "order is %s, event needs %s", current, want)
}
