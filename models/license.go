package models

import "time"

type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "active"
	LicenseRevoked LicenseStatus = "revoked"
)

// License is either an unassigned stock key (OrderID nil) or a key handed
// out to exactly one order.
type License struct {
	ID            string        `json:"id"`
	Key           string        `json:"license_key"`
	ProductID     *string       `json:"product_id,omitempty"`
	VariantID     *string       `json:"variant_id,omitempty"`
	OrderID       *string       `json:"order_id,omitempty"`
	CustomerEmail *string       `json:"customer_email,omitempty"`
	Status        LicenseStatus `json:"status"`
	Fallback      bool          `json:"fallback"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	AssignedAt    *time.Time    `json:"assigned_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (l *License) InStock() bool {
	return l.OrderID == nil
}

// Expired reports whether the license has a fixed expiry that lies before now.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

func (l *License) Clone() *License {
	c := *l
	c.ProductID = cloneString(l.ProductID)
	c.VariantID = cloneString(l.VariantID)
	c.OrderID = cloneString(l.OrderID)
	c.CustomerEmail = cloneString(l.CustomerEmail)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.AssignedAt != nil {
		t := *l.AssignedAt
		c.AssignedAt = &t
	}
	return &c
}
