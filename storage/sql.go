package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// claimAttempts bounds retries when a concurrent claim wins the row we picked.
const claimAttempts = 5

// SQLStorage implements Storage on SQLite or Postgres. Every status change
// and stock claim is a conditional UPDATE whose affected row count decides
// the winner.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to databaseURL. It does not run migrations.
func Open(ctx context.Context, databaseURL string) (*SQLStorage, error) {
	dialect, dsn, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// one writer at a time; transactions queue on the pool
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLStorage{db: db, dialect: dialect}, nil
}

// NewSQLiteStorage opens (and migrates) a SQLite database file at path.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLStorage, error) {
	databaseURL := "sqlite3://" + path
	if err := Migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return Open(ctx, databaseURL)
}

func parseDatabaseURL(databaseURL string) (Dialect, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return 0, "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite3":
		path := strings.TrimPrefix(databaseURL, "sqlite3://")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			return 0, "", errors.New("sqlite3 DATABASE_URL needs a file path")
		}
		return SQLite, "file:" + path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate", nil
	case "postgres", "postgresql":
		return Postgres, databaseURL, nil
	default:
		return 0, "", fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

func driverName(d Dialect) string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

const orderColumns = `id, order_number, customer_email, product_id, product_name, variant_id, duration,
	amount_minor_units, currency, status, payment_method, stripe_session_id, transaction_id,
	komerza_order_id, moneymotion_session_id, crypto_tx_hash, license_key, coupon_code, created_at, updated_at`

const licenseColumns = `id, license_key, product_id, variant_id, order_id, customer_email, status, fallback,
	expires_at, assigned_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                              models.Order
		status, method                 string
		variantID, stripeSession, txID sql.NullString
		komerzaID, mmSession, cryptoTx sql.NullString
		licenseKey, couponCode         sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerEmail, &o.ProductID, &o.ProductName, &variantID, &o.Duration,
		&o.AmountMinorUnits, &o.Currency, &status, &method, &stripeSession, &txID,
		&komerzaID, &mmSession, &cryptoTx, &licenseKey, &couponCode, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.PaymentMethod = models.PaymentMethod(method)
	o.VariantID = nullString(variantID)
	o.StripeSessionID = nullString(stripeSession)
	o.TransactionID = nullString(txID)
	o.KomerzaOrderID = nullString(komerzaID)
	o.MoneyMotionSessionID = nullString(mmSession)
	o.CryptoTxHash = nullString(cryptoTx)
	o.LicenseKey = nullString(licenseKey)
	o.CouponCode = nullString(couponCode)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func scanLicense(row rowScanner) (*models.License, error) {
	var (
		l                                    models.License
		status                               string
		productID, variantID, orderID, email sql.NullString
		expiresAt, assignedAt                sql.NullTime
	)
	err := row.Scan(&l.ID, &l.Key, &productID, &variantID, &orderID, &email, &status, &l.Fallback,
		&expiresAt, &assignedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = models.LicenseStatus(status)
	l.ProductID = nullString(productID)
	l.VariantID = nullString(variantID)
	l.OrderID = nullString(orderID)
	l.CustomerEmail = nullString(email)
	l.ExpiresAt = nullTime(expiresAt)
	l.AssignedAt = nullTime(assignedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func queryOrder(ctx context.Context, q queryer, d Dialect, where string, args ...any) (*models.Order, error) {
	row := q.QueryRowContext(ctx, rebind(d, `SELECT `+orderColumns+` FROM orders WHERE `+where), args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func queryLicense(ctx context.Context, q queryer, d Dialect, where string, args ...any) (*models.License, error) {
	row := q.QueryRowContext(ctx, rebind(d, `SELECT `+licenseColumns+` FROM licenses WHERE `+where), args...)
	l, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLStorage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return queryOrder(ctx, s.db, s.dialect, `id = ?`, id)
}

func (s *SQLStorage) FindOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return queryOrder(ctx, s.db, s.dialect, `order_number = ?`, orderNumber)
}

func (s *SQLStorage) FindOrderByCorrelation(ctx context.Context, method models.PaymentMethod, correlationID string) (*models.Order, error) {
	column := method.CorrelationColumn()
	if column == "" || correlationID == "" {
		return nil, nil
	}
	return queryOrder(ctx, s.db, s.dialect, column+` = ? AND payment_method = ?`, correlationID, string(method))
}

func (s *SQLStorage) FindOrdersByEmail(ctx context.Context, email string, method models.PaymentMethod, status models.OrderStatus) ([]*models.Order, error) {
	query := rebind(s.dialect, `SELECT `+orderColumns+` FROM orders
		WHERE LOWER(customer_email) = LOWER(?) AND payment_method = ? AND status = ?
		ORDER BY created_at DESC, id DESC`)

	rows, err := s.db.QueryContext(ctx, query, email, string(method), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Failed to close rows", map[string]interface{}{"error": err.Error()})
		}
	}()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func (s *SQLStorage) CreateOrder(ctx context.Context, o *models.Order) error {
	query := rebind(s.dialect, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.OrderNumber, o.CustomerEmail, o.ProductID, o.ProductName, o.VariantID, o.Duration,
		o.AmountMinorUnits, o.Currency, string(o.Status), string(o.PaymentMethod), o.StripeSessionID, o.TransactionID,
		o.KomerzaOrderID, o.MoneyMotionSessionID, o.CryptoTxHash, o.LicenseKey, o.CouponCode,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		if existing, _ := s.FindOrderByNumber(ctx, o.OrderNumber); existing != nil {
			return ErrDuplicateOrderNumber
		}
		return ErrDuplicateCorrelation
	}
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *SQLStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	return queryLicense(ctx, s.db, s.dialect, `license_key = ?`, key)
}

func (s *SQLStorage) FindLicensesByOrder(ctx context.Context, orderID string) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx,
		rebind(s.dialect, `SELECT `+licenseColumns+` FROM licenses WHERE order_id = ? ORDER BY created_at`), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (s *SQLStorage) AddStock(ctx context.Context, l *models.License) (bool, error) {
	err := insertLicenseRow(ctx, s.db, s.dialect, l)
	if errors.Is(err, ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStorage) CountStock(ctx context.Context, scope StockScope) (int, error) {
	where, args := scopeClause(scope)
	var n int
	err := s.db.QueryRowContext(ctx,
		rebind(s.dialect, `SELECT COUNT(*) FROM licenses WHERE order_id IS NULL AND status = 'active' AND `+where),
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stock: %w", err)
	}
	return n, nil
}

func (s *SQLStorage) SaveReconciliationEvent(ctx context.Context, e *models.ReconciliationEvent) error {
	query := rebind(s.dialect, `INSERT INTO reconciliation_events
		(id, provider, provider_event_id, event_type, kind, correlation_key, customer_email,
		 amount_minor_units, currency, reason, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		e.ID, string(e.Provider), e.ProviderEventID, e.EventType, string(e.Kind), e.CorrelationKey, e.CustomerEmail,
		e.AmountMinorUnits, e.Currency, e.Reason, e.OrderID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation event: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListReconciliationEvents(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := rebind(s.dialect, `SELECT id, provider, provider_event_id, event_type, kind, correlation_key,
		customer_email, amount_minor_units, currency, reason, order_id, created_at
		FROM reconciliation_events ORDER BY created_at DESC, id DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation events: %w", err)
	}
	defer rows.Close()

	var events []*models.ReconciliationEvent
	for rows.Next() {
		var (
			e              models.ReconciliationEvent
			provider, kind string
			amount         sql.NullInt64
			orderID        sql.NullString
		)
		if err := rows.Scan(&e.ID, &provider, &e.ProviderEventID, &e.EventType, &kind, &e.CorrelationKey,
			&e.CustomerEmail, &amount, &e.Currency, &e.Reason, &orderID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation event: %w", err)
		}
		e.Provider = models.PaymentMethod(provider)
		e.Kind = models.EventKind(kind)
		if amount.Valid {
			v := amount.Int64
			e.AmountMinorUnits = &v
		}
		e.OrderID = nullString(orderID)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLStorage) SaveNotificationLog(ctx context.Context, n *models.NotificationLog) error {
	query := rebind(s.dialect, `INSERT INTO notification_log
		(id, order_id, channel, recipient, status, error, attempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.OrderID, n.Channel, n.Recipient, n.Status, n.Error, n.Attempt, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save notification log: %w", err)
	}
	return nil
}

func (s *SQLStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return queryOrder(ctx, t.tx, t.dialect, `id = ?`, id)
}

func (t *sqlTx) TransitionOrder(ctx context.Context, tr Transition) (bool, error) {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{string(tr.To), tr.At.UTC(), tr.OrderID, string(tr.From)}

	if column := tr.Method.CorrelationColumn(); column != "" && tr.CorrelationID != "" {
		query = `UPDATE orders SET status = ?, updated_at = ?, ` + column + ` = COALESCE(` + column + `, ?)
			WHERE id = ? AND status = ?`
		args = []any{string(tr.To), tr.At.UTC(), tr.CorrelationID, tr.OrderID, string(tr.From)}
	}

	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, query), args...)
	if isUniqueViolation(err) {
		return false, ErrDuplicateCorrelation
	}
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (t *sqlTx) SetOrderLicenseKey(ctx context.Context, orderID, key string) error {
	_, err := t.tx.ExecContext(ctx, rebind(t.dialect, `UPDATE orders SET license_key = ? WHERE id = ?`), key, orderID)
	if err != nil {
		return fmt.Errorf("failed to set order license key: %w", err)
	}
	return nil
}

func (t *sqlTx) ClaimLicense(ctx context.Context, scope StockScope, a Assignment) (*models.License, error) {
	where, scopeArgs := scopeClause(scope)
	pick := `SELECT id FROM licenses WHERE order_id IS NULL AND status = 'active' AND ` + where + `
		ORDER BY created_at, id LIMIT 1`
	if t.dialect == Postgres {
		pick += ` FOR UPDATE SKIP LOCKED`
	}
	query := rebind(t.dialect, `UPDATE licenses
		SET order_id = ?, customer_email = ?, product_id = COALESCE(product_id, ?),
		    status = 'active', expires_at = ?, assigned_at = ?
		WHERE id = (`+pick+`) AND order_id IS NULL
		RETURNING id`)

	args := append([]any{a.OrderID, a.CustomerEmail, a.ProductID, utcPtr(a.ExpiresAt), a.At.UTC()}, scopeArgs...)

	for attempt := 1; attempt <= claimAttempts; attempt++ {
		var id string
		err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id)
		if err == nil {
			return queryLicense(ctx, t.tx, t.dialect, `id = ?`, id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to claim license: %w", err)
		}
		if !claimRetries(t.dialect) {
			return nil, nil
		}

		var remaining int
		err = t.tx.QueryRowContext(ctx,
			rebind(t.dialect, `SELECT COUNT(*) FROM licenses WHERE order_id IS NULL AND status = 'active' AND `+where),
			scopeArgs...).Scan(&remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to count stock: %w", err)
		}
		if remaining == 0 {
			return nil, nil
		}
		logger.Debug("License claim lost a race, retrying", map[string]interface{}{
			"scope":   scope.String(),
			"attempt": attempt,
		})
	}
	return nil, fmt.Errorf("failed to claim %s stock after %d attempts", scope, claimAttempts)
}

// claimRetries reports whether an empty pick is worth retrying. Postgres
// picks with SKIP LOCKED, so an empty pick there means every row left in
// scope is held by another claim.
func claimRetries(d Dialect) bool {
	return d != Postgres
}

func (t *sqlTx) CreateLicense(ctx context.Context, l *models.License) error {
	return insertLicenseRow(ctx, t.tx, t.dialect, l)
}

func (t *sqlTx) RevokeOrderLicenses(ctx context.Context, orderID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		rebind(t.dialect, `UPDATE licenses SET status = 'revoked' WHERE order_id = ? AND status <> 'revoked'`), orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke licenses: %w", err)
	}
	return res.RowsAffected()
}

func insertLicenseRow(ctx context.Context, q queryer, d Dialect, l *models.License) error {
	query := rebind(d, `INSERT INTO licenses (`+licenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := q.ExecContext(ctx, query,
		l.ID, l.Key, l.ProductID, l.VariantID, l.OrderID, l.CustomerEmail, string(l.Status), l.Fallback,
		utcPtr(l.ExpiresAt), utcPtr(l.AssignedAt), l.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

func scopeClause(scope StockScope) (string, []any) {
	switch {
	case scope.ProductID == nil:
		return `product_id IS NULL AND variant_id IS NULL`, nil
	case scope.VariantID == nil:
		return `product_id = ? AND variant_id IS NULL`, []any{*scope.ProductID}
	default:
		return `product_id = ? AND variant_id = ?`, []any{*scope.ProductID, *scope.VariantID}
	}
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
