package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ring0.store/fulfillment/models"
)

// MemoryStorage keeps everything in process. A single mutex serialises
// transactions, which gives the same check-and-set guarantees as the SQL
// store's conditional updates.
type MemoryStorage struct {
	mu             sync.RWMutex
	orders         map[string]*models.Order
	licenses       map[string]*models.License
	reconciliation []*models.ReconciliationEvent
	notifications  []*models.NotificationLog
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		orders:   make(map[string]*models.Order),
		licenses: make(map[string]*models.License),
	}
}

func (m *MemoryStorage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return getOrder(m.orders, id), nil
}

func (m *MemoryStorage) FindOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindOrderByCorrelation(ctx context.Context, method models.PaymentMethod, correlationID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o := findByCorrelation(m.orders, method, correlationID); o != nil {
		return o.Clone(), nil
	}
	return nil, nil
}

func (m *MemoryStorage) FindOrdersByEmail(ctx context.Context, email string, method models.PaymentMethod, status models.OrderStatus) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []*models.Order
	for _, o := range m.orders {
		if strings.EqualFold(o.CustomerEmail, email) && o.PaymentMethod == method && o.Status == status {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *MemoryStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber {
			return ErrDuplicateOrderNumber
		}
	}
	if id := order.CorrelationID(); id != "" && findByCorrelation(m.orders, order.PaymentMethod, id) != nil {
		return ErrDuplicateCorrelation
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.licenses {
		if l.Key == key {
			return l.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLicensesByOrder(ctx context.Context, orderID string) ([]*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var licenses []*models.License
	for _, l := range m.licenses {
		if l.OrderID != nil && *l.OrderID == orderID {
			licenses = append(licenses, l.Clone())
		}
	}
	return licenses, nil
}

func (m *MemoryStorage) AddStock(ctx context.Context, license *models.License) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := insertLicense(m.licenses, license); err != nil {
		if err == ErrDuplicateKey {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MemoryStorage) CountStock(ctx context.Context, scope StockScope) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(stockIn(m.licenses, scope)), nil
}

func (m *MemoryStorage) SaveReconciliationEvent(ctx context.Context, event *models.ReconciliationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *event
	m.reconciliation = append(m.reconciliation, &e)
	return nil
}

func (m *MemoryStorage) ListReconciliationEvents(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*models.ReconciliationEvent
	for i := len(m.reconciliation) - 1; i >= 0; i-- {
		if limit > 0 && len(events) == limit {
			break
		}
		e := *m.reconciliation[i]
		events = append(events, &e)
	}
	return events, nil
}

func (m *MemoryStorage) SaveNotificationLog(ctx context.Context, entry *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	m.notifications = append(m.notifications, &e)
	return nil
}

// NotificationLogs returns every recorded delivery attempt, oldest first.
func (m *MemoryStorage) NotificationLogs() []models.NotificationLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := make([]models.NotificationLog, 0, len(m.notifications))
	for _, n := range m.notifications {
		logs = append(logs, *n)
	}
	return logs
}

func (m *MemoryStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		orders:   make(map[string]*models.Order, len(m.orders)),
		licenses: make(map[string]*models.License, len(m.licenses)),
	}
	for id, o := range m.orders {
		tx.orders[id] = o.Clone()
	}
	for id, l := range m.licenses {
		tx.licenses[id] = l.Clone()
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.orders = tx.orders
	m.licenses = tx.licenses
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// memoryTx works on private copies that WithTx swaps in on success.
type memoryTx struct {
	orders   map[string]*models.Order
	licenses map[string]*models.License
}

func (t *memoryTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(t.orders, id), nil
}

func (t *memoryTx) TransitionOrder(ctx context.Context, tr Transition) (bool, error) {
	o, ok := t.orders[tr.OrderID]
	if !ok || o.Status != tr.From {
		return false, nil
	}
	if tr.CorrelationID != "" && o.CorrelationID() == "" {
		if other := findByCorrelation(t.orders, tr.Method, tr.CorrelationID); other != nil && other.ID != o.ID {
			return false, ErrDuplicateCorrelation
		}
		o.SetCorrelationID(tr.CorrelationID)
	}
	o.Status = tr.To
	o.UpdatedAt = tr.At
	return true, nil
}

func (t *memoryTx) SetOrderLicenseKey(ctx context.Context, orderID, key string) error {
	o, ok := t.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.LicenseKey = &key
	return nil
}

func (t *memoryTx) ClaimLicense(ctx context.Context, scope StockScope, a Assignment) (*models.License, error) {
	stock := stockIn(t.licenses, scope)
	if len(stock) == 0 {
		return nil, nil
	}
	if orderHasLicense(t.licenses, a.OrderID) {
		return nil, fmt.Errorf("order %s already has a license", a.OrderID)
	}
	l := stock[0]
	assign(l, a)
	return l.Clone(), nil
}

func (t *memoryTx) CreateLicense(ctx context.Context, license *models.License) error {
	if license.OrderID != nil && orderHasLicense(t.licenses, *license.OrderID) {
		return fmt.Errorf("order %s already has a license", *license.OrderID)
	}
	return insertLicense(t.licenses, license)
}

func (t *memoryTx) RevokeOrderLicenses(ctx context.Context, orderID string) (int64, error) {
	var n int64
	for _, l := range t.licenses {
		if l.OrderID != nil && *l.OrderID == orderID && l.Status != models.LicenseRevoked {
			l.Status = models.LicenseRevoked
			n++
		}
	}
	return n, nil
}

func getOrder(orders map[string]*models.Order, id string) *models.Order {
	o, ok := orders[id]
	if !ok {
		return nil
	}
	return o.Clone()
}

func findByCorrelation(orders map[string]*models.Order, method models.PaymentMethod, id string) *models.Order {
	if id == "" {
		return nil
	}
	for _, o := range orders {
		if o.PaymentMethod == method && o.CorrelationID() == id {
			return o
		}
	}
	return nil
}

func orderHasLicense(licenses map[string]*models.License, orderID string) bool {
	for _, l := range licenses {
		if l.OrderID != nil && *l.OrderID == orderID {
			return true
		}
	}
	return false
}

func insertLicense(licenses map[string]*models.License, license *models.License) error {
	for _, l := range licenses {
		if l.Key == license.Key {
			return ErrDuplicateKey
		}
	}
	licenses[license.ID] = license.Clone()
	return nil
}

// stockIn returns claimable licenses in scope, oldest first.
func stockIn(licenses map[string]*models.License, scope StockScope) []*models.License {
	var stock []*models.License
	for _, l := range licenses {
		if l.InStock() && l.Status == models.LicenseActive && scope.matches(l) {
			stock = append(stock, l)
		}
	}
	sort.Slice(stock, func(i, j int) bool {
		if stock[i].CreatedAt.Equal(stock[j].CreatedAt) {
			return stock[i].ID < stock[j].ID
		}
		return stock[i].CreatedAt.Before(stock[j].CreatedAt)
	})
	return stock
}

func assign(l *models.License, a Assignment) {
	orderID, email, at := a.OrderID, a.CustomerEmail, a.At
	l.OrderID = &orderID
	l.CustomerEmail = &email
	l.Status = models.LicenseActive
	l.AssignedAt = &at
	l.ExpiresAt = a.ExpiresAt
	if l.ProductID == nil {
		productID := a.ProductID
		l.ProductID = &productID
	}
}
