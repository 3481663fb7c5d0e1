package storage

import (
	"context"
	"errors"
	"time"

	"ring0.store/fulfillment/models"
)

var (
	ErrDuplicateKey         = errors.New("license key already exists")
	ErrDuplicateCorrelation = errors.New("correlation id already belongs to another order")
	ErrDuplicateOrderNumber = errors.New("order number already exists")
)

// Storage is the persistent store shared by every webhook request. Lookups
// return nil, nil when nothing matches.
type Storage interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindOrderByCorrelation(ctx context.Context, method models.PaymentMethod, correlationID string) (*models.Order, error)
	// FindOrdersByEmail returns orders for email and method in the given
	// status, newest first.
	FindOrdersByEmail(ctx context.Context, email string, method models.PaymentMethod, status models.OrderStatus) ([]*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error

	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicensesByOrder(ctx context.Context, orderID string) ([]*models.License, error)
	// AddStock inserts an unassigned license. It returns false when the key
	// is already known.
	AddStock(ctx context.Context, license *models.License) (bool, error)
	CountStock(ctx context.Context, scope StockScope) (int, error)

	SaveReconciliationEvent(ctx context.Context, event *models.ReconciliationEvent) error
	ListReconciliationEvents(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error)
	SaveNotificationLog(ctx context.Context, entry *models.NotificationLog) error

	// WithTx runs fn in a single transaction. Nothing fn writes is visible
	// to other callers unless fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the set of writes that must commit together with an order status change.
type Tx interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// TransitionOrder moves the order from t.From to t.To only if it is
	// still in t.From. It reports whether the row changed.
	TransitionOrder(ctx context.Context, t Transition) (bool, error)
	SetOrderLicenseKey(ctx context.Context, orderID, key string) error
	// ClaimLicense assigns the oldest unassigned license in scope. It
	// returns nil, nil when the scope has no stock left.
	ClaimLicense(ctx context.Context, scope StockScope, a Assignment) (*models.License, error)
	CreateLicense(ctx context.Context, license *models.License) error
	RevokeOrderLicenses(ctx context.Context, orderID string) (int64, error)
}

type Transition struct {
	OrderID       string
	From          models.OrderStatus
	To            models.OrderStatus
	Method        models.PaymentMethod
	CorrelationID string
	At            time.Time
}

// StockScope selects one granularity of unassigned stock. A nil ProductID
// means general stock that fits any product.
type StockScope struct {
	ProductID *string
	VariantID *string
}

func VariantStock(productID, variantID string) StockScope {
	return StockScope{ProductID: &productID, VariantID: &variantID}
}

func ProductStock(productID string) StockScope {
	return StockScope{ProductID: &productID}
}

func GeneralStock() StockScope {
	return StockScope{}
}

func (s StockScope) String() string {
	switch {
	case s.ProductID == nil:
		return "general"
	case s.VariantID == nil:
		return "product"
	default:
		return "variant"
	}
}

func (s StockScope) matches(l *models.License) bool {
	return equalPtr(l.ProductID, s.ProductID) && equalPtr(l.VariantID, s.VariantID)
}

// Assignment describes who a claimed license now belongs to.
type Assignment struct {
	OrderID       string
	CustomerEmail string
	ProductID     string
	VariantID     *string
	ExpiresAt     *time.Time
	At            time.Time
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
