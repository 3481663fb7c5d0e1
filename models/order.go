package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderRefunded  OrderStatus = "refunded"
)

type PaymentMethod string

const (
	MethodStripe       PaymentMethod = "stripe"
	MethodStorrik      PaymentMethod = "storrik"
	MethodKomerza      PaymentMethod = "komerza"
	MethodMoneyMotion  PaymentMethod = "moneymotion"
	MethodCryptoManual PaymentMethod = "crypto-manual"
)

// PaymentMethods lists every method an order can be placed with.
var PaymentMethods = []PaymentMethod{
	MethodStripe,
	MethodStorrik,
	MethodKomerza,
	MethodMoneyMotion,
	MethodCryptoManual,
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	for _, m := range PaymentMethods {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// CorrelationColumn is the orders column that holds the provider id for m.
func (m PaymentMethod) CorrelationColumn() string {
	switch m {
	case MethodStripe:
		return "stripe_session_id"
	case MethodStorrik:
		return "transaction_id"
	case MethodKomerza:
		return "komerza_order_id"
	case MethodMoneyMotion:
		return "moneymotion_session_id"
	case MethodCryptoManual:
		return "crypto_tx_hash"
	default:
		return ""
	}
}

type Order struct {
	ID                   string        `json:"id"`
	OrderNumber          string        `json:"order_number"`
	CustomerEmail        string        `json:"customer_email"`
	ProductID            string        `json:"product_id"`
	ProductName          string        `json:"product_name"`
	VariantID            *string       `json:"variant_id,omitempty"`
	Duration             string        `json:"duration"`
	AmountMinorUnits     int64         `json:"amount_minor_units"`
	Currency             string        `json:"currency"`
	Status               OrderStatus   `json:"status"`
	PaymentMethod        PaymentMethod `json:"payment_method"`
	StripeSessionID      *string       `json:"stripe_session_id,omitempty"`
	TransactionID        *string       `json:"transaction_id,omitempty"`
	KomerzaOrderID       *string       `json:"komerza_order_id,omitempty"`
	MoneyMotionSessionID *string       `json:"moneymotion_session_id,omitempty"`
	CryptoTxHash         *string       `json:"crypto_tx_hash,omitempty"`
	LicenseKey           *string       `json:"license_key,omitempty"`
	CouponCode           *string       `json:"coupon_code,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (o *Order) correlationField() **string {
	switch o.PaymentMethod {
	case MethodStripe:
		return &o.StripeSessionID
	case MethodStorrik:
		return &o.TransactionID
	case MethodKomerza:
		return &o.KomerzaOrderID
	case MethodMoneyMotion:
		return &o.MoneyMotionSessionID
	case MethodCryptoManual:
		return &o.CryptoTxHash
	default:
		return nil
	}
}

// CorrelationID returns the provider id stored for the order's payment method.
func (o *Order) CorrelationID() string {
	f := o.correlationField()
	if f == nil || *f == nil {
		return ""
	}
	return **f
}

// SetCorrelationID stores id in the column that belongs to the order's
// payment method. An id that is already set is never replaced.
func (o *Order) SetCorrelationID(id string) {
	f := o.correlationField()
	if f == nil || id == "" || *f != nil {
		return
	}
	*f = &id
}

func (o *Order) Clone() *Order {
	c := *o
	c.VariantID = cloneString(o.VariantID)
	c.StripeSessionID = cloneString(o.StripeSessionID)
	c.TransactionID = cloneString(o.TransactionID)
	c.KomerzaOrderID = cloneString(o.KomerzaOrderID)
	c.MoneyMotionSessionID = cloneString(o.MoneyMotionSessionID)
	c.CryptoTxHash = cloneString(o.CryptoTxHash)
	c.LicenseKey = cloneString(o.LicenseKey)
	c.CouponCode = cloneString(o.CouponCode)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
