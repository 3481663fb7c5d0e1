package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/internal/money"
	"ring0.store/fulfillment/models"
)

type Mailer interface {
	SendPurchaseEmail(ctx context.Context, receipt models.PurchaseReceipt) error
}

// Notifier delivers an operational event with a flat key/value payload.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]string) error
}

type NotificationLogger interface {
	SaveNotificationLog(ctx context.Context, entry *models.NotificationLog) error
}

type DispatcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher runs side effects after a transition has committed. Each
// channel runs in its own goroutine with its own deadline, and failures only
// ever reach the log.
type Dispatcher struct {
	mailer   Mailer
	notifier Notifier
	logs     NotificationLogger
	cfg      DispatcherConfig
	wg       sync.WaitGroup
}

// NewDispatcher accepts nil for any channel that is not configured.
func NewDispatcher(mailer Mailer, notifier Notifier, logs NotificationLogger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Dispatcher{mailer: mailer, notifier: notifier, logs: logs, cfg: cfg}
}

// Completed sends the purchase email and the order.completed notification.
func (d *Dispatcher) Completed(order *models.Order, license *models.License) {
	receipt := models.PurchaseReceipt{
		CustomerEmail: order.CustomerEmail,
		OrderNumber:   order.OrderNumber,
		ProductName:   order.ProductName,
		Duration:      order.Duration,
		LicenseKey:    license.Key,
		ExpiresAt:     license.ExpiresAt,
		TotalPaid:     money.Format(order.AmountMinorUnits, order.Currency),
	}
	if d.mailer != nil {
		d.goWithTimeout(func(ctx context.Context) { d.sendPurchaseEmail(ctx, order.ID, receipt) })
	}

	payload := orderPayload(order)
	payload["license_source"] = "stock"
	if license.Fallback {
		payload["license_source"] = "fallback"
	}
	if license.ExpiresAt != nil {
		payload["expires_at"] = license.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		payload["expires_at"] = "never"
	}
	d.Notify(models.NotifyOrderCompleted, payload)
}

func (d *Dispatcher) Failed(order *models.Order) {
	d.Notify(models.NotifyPaymentFailed, orderPayload(order))
}

func (d *Dispatcher) Refunded(order *models.Order, revoked int64) {
	payload := orderPayload(order)
	payload["revoked_licenses"] = fmt.Sprint(revoked)
	d.Notify(models.NotifyOrderRefunded, payload)
}

func (d *Dispatcher) StockExhausted(order *models.Order) {
	sentry.CaptureMessage(fmt.Sprintf("license stock exhausted for product %s (order %s)", order.ProductID, order.OrderNumber))

	payload := map[string]string{
		"order_number": order.OrderNumber,
		"product_id":   order.ProductID,
		"product_name": order.ProductName,
	}
	if order.VariantID != nil {
		payload["variant_id"] = *order.VariantID
	}
	d.Notify(models.NotifyStockExhausted, payload)
}

func (d *Dispatcher) Unmatched(ev models.PaymentEvent, reason string) {
	payload := map[string]string{
		"provider":        string(ev.Provider),
		"event_type":      ev.RawType,
		"event_id":        ev.ProviderEventID,
		"correlation_key": ev.CorrelationKey,
		"customer_email":  ev.CustomerEmail,
		"reason":          reason,
	}
	if ev.AmountMinorUnits != nil {
		payload["amount"] = money.Format(*ev.AmountMinorUnits, ev.Currency)
	}
	d.Notify(models.NotifyOrderUnmatched, payload)
}

// Notify sends one operational event in the background.
func (d *Dispatcher) Notify(event string, payload map[string]string) {
	if d.notifier == nil {
		return
	}
	d.goWithTimeout(func(ctx context.Context) {
		if err := d.notifier.Notify(ctx, event, payload); err != nil {
			logger.Error("Failed to send operational notification", map[string]interface{}{
				"event": event,
				"error": err.Error(),
			})
			return
		}
		logger.Debug("Operational notification sent", map[string]interface{}{"event": event})
	})
}

// Wait blocks until every in-flight side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) goWithTimeout(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Side effect panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (d *Dispatcher) sendPurchaseEmail(ctx context.Context, orderID string, receipt models.PurchaseReceipt) {
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.mailer.SendPurchaseEmail(ctx, receipt)
		d.recordAttempt(orderID, receipt.CustomerEmail, attempt, err)
		if err == nil {
			logger.Info("Purchase email sent", map[string]interface{}{
				"order_number": receipt.OrderNumber,
				"attempt":      attempt,
			})
			return
		}

		logger.Warn("Purchase email attempt failed", map[string]interface{}{
			"order_number": receipt.OrderNumber,
			"attempt":      attempt,
			"error":        err.Error(),
		})
		if attempt == d.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			logger.Error("Gave up on purchase email", map[string]interface{}{
				"order_number": receipt.OrderNumber,
				"error":        ctx.Err().Error(),
			})
			return
		case <-time.After(d.cfg.Backoff * time.Duration(1<<(attempt-1))):
		}
	}
	logger.Error("Failed to send purchase email after retries", map[string]interface{}{
		"order_number": receipt.OrderNumber,
		"attempts":     d.cfg.MaxAttempts,
	})
}

func (d *Dispatcher) recordAttempt(orderID, recipient string, attempt int, sendErr error) {
	if d.logs == nil {
		return
	}
	entry := &models.NotificationLog{
		ID:        uuid.Must(uuid.NewRandom()).String(),
		OrderID:   orderID,
		Channel:   "email",
		Recipient: recipient,
		Status:    "sent",
		Attempt:   attempt,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.logs.SaveNotificationLog(ctx, entry); err != nil {
		logger.Warn("Failed to record notification attempt", map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func orderPayload(order *models.Order) map[string]string {
	return map[string]string{
		"order_number":   order.OrderNumber,
		"customer_email": order.CustomerEmail,
		"product_name":   order.ProductName,
		"duration":       order.Duration,
		"payment_method": string(order.PaymentMethod),
		"total":          money.Format(order.AmountMinorUnits, order.Currency),
		"status":         string(order.Status),
	}
}
