// Package notify delivers operational events to chat and event streams.
package notify

import (
	"context"
	"errors"
	"fmt"

	"ring0.store/fulfillment/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]string) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event string, payload map[string]string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Combine returns nil when no notifier is configured, the notifier itself
// when there is one, and a Multi otherwise.
func Combine(notifiers ...Notifier) Notifier {
	var live Multi
	for _, n := range notifiers {
		if n != nil {
			live = append(live, n)
		}
	}
	switch len(live) {
	case 0:
		logger.Info("No operational notifiers configured")
		return nil
	case 1:
		return live[0]
	default:
		return live
	}
}
