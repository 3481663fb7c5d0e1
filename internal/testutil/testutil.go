package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

// BaseTime is a fixed creation time; fixtures add offsets to order rows.
var BaseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewSQLiteStorage creates a migrated SQLite store in a temporary directory.
func NewSQLiteStorage(t testing.TB) *storage.SQLStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewSQLiteStorage(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to create sqlite storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// PendingOrder builds a pending order. An empty correlationID leaves the
// provider column unset.
func PendingOrder(number string, method models.PaymentMethod, correlationID, email string, amount int64) *models.Order {
	o := &models.Order{
		ID:               uuid.Must(uuid.NewRandom()).String(),
		OrderNumber:      number,
		CustomerEmail:    email,
		ProductID:        "prod_spoofer",
		ProductName:      "HWID Spoofer",
		Duration:         "30 Days",
		AmountMinorUnits: amount,
		Currency:         "USD",
		Status:           models.OrderPending,
		PaymentMethod:    method,
		CreatedAt:        BaseTime,
		UpdatedAt:        BaseTime,
	}
	o.SetCorrelationID(correlationID)
	return o
}

// CreateOrder stores order and fails the test on error.
func CreateOrder(t testing.TB, store storage.Storage, order *models.Order) *models.Order {
	t.Helper()
	if err := store.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("Failed to create order %s: %v", order.OrderNumber, err)
	}
	return order
}

// StockLicense builds an unassigned license. Nil productID means general stock.
func StockLicense(key string, productID, variantID *string, createdAt time.Time) *models.License {
	return &models.License{
		ID:        uuid.Must(uuid.NewRandom()).String(),
		Key:       key,
		ProductID: productID,
		VariantID: variantID,
		Status:    models.LicenseActive,
		CreatedAt: createdAt,
	}
}

// AddStock stores license as stock and fails the test on error.
func AddStock(t testing.TB, store storage.Storage, license *models.License) {
	t.Helper()
	added, err := store.AddStock(context.Background(), license)
	if err != nil || !added {
		t.Fatalf("Failed to add stock %s: added=%v err=%v", license.Key, added, err)
	}
}

func Ptr[T any](v T) *T {
	return &v
}

// HexHMACSHA256 signs body the way storrik and komerza do.
func HexHMACSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Base64HMACSHA512 signs body the way moneymotion does.
func Base64HMACSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RecordingMailer captures purchase receipts. FailTimes makes the first
// n sends fail.
type RecordingMailer struct {
	mu        sync.Mutex
	FailTimes int
	Calls     int
	Receipts  []models.PurchaseReceipt
}

func (m *RecordingMailer) SendPurchaseEmail(ctx context.Context, receipt models.PurchaseReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Calls <= m.FailTimes {
		return errSendFailed
	}
	m.Receipts = append(m.Receipts, receipt)
	return nil
}

func (m *RecordingMailer) Sent() []models.PurchaseReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PurchaseReceipt(nil), m.Receipts...)
}

type Notification struct {
	Event   string
	Payload map[string]string
}

// RecordingNotifier captures operational notifications. Fail makes every
// call return an error after recording it.
type RecordingNotifier struct {
	mu     sync.Mutex
	Fail   bool
	events []Notification
}

func (n *RecordingNotifier) Notify(ctx context.Context, event string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Notification{Event: event, Payload: payload})
	if n.Fail {
		return errSendFailed
	}
	return nil
}

func (n *RecordingNotifier) Events() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.events...)
}

// EventNames lists the recorded event names in arrival order.
func (n *RecordingNotifier) EventNames() []string {
	var names []string
	for _, e := range n.Events() {
		names = append(names, e.Event)
	}
	return names
}

type sendError string

func (e sendError) Error() string { return string(e) }

const errSendFailed = sendError("delivery failed")
