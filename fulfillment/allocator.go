package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

// Allocation is the license handed to an order.
type Allocation struct {
	License *models.License
	// Scope is the stock granularity the key came from, or "fallback".
	Scope string
	// Exhausted is set when every stock scope was empty and a key was minted.
	Exhausted *Error
	// DurationRecognized is false when the order's duration fell back to the default expiry.
	DurationRecognized bool
}

type Allocator struct {
	fallbackPrefix string
}

func NewAllocator(fallbackPrefix string) *Allocator {
	return &Allocator{fallbackPrefix: fallbackPrefix}
}

// Allocate claims one license for order inside tx. Stock is tried from the
// most specific scope to the least: variant, product, general. When all are
// empty a fallback key is minted and stored against the order.
func (a *Allocator) Allocate(ctx context.Context, tx storage.Tx, order *models.Order, now time.Time) (*Allocation, error) {
	expiresAt, recognized := Expiry(order.Duration, now)
	if !recognized {
		logger.Warn("Unrecognized product duration, using default expiry", map[string]interface{}{
			"order_id":     order.ID,
			"duration":     order.Duration,
			"default_days": int(DefaultExpiry.Hours() / 24),
		})
	}

	assignment := storage.Assignment{
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		ProductID:     order.ProductID,
		VariantID:     order.VariantID,
		ExpiresAt:     expiresAt,
		At:            now,
	}

	for _, scope := range stockScopes(order) {
		license, err := tx.ClaimLicense(ctx, scope, assignment)
		if err != nil {
			return nil, NewStoreUnavailableError(err, "failed to claim %s stock", scope)
		}
		if license != nil {
			logger.Info("License claimed from stock", map[string]interface{}{
				"order_id":   order.ID,
				"license_id": license.ID,
				"scope":      scope.String(),
			})
			return &Allocation{License: license, Scope: scope.String(), DurationRecognized: recognized}, nil
		}
	}

	exhausted := NewAllocationExhaustedError(order.ID, order.ProductID)
	logger.Warn("License stock exhausted, minting fallback key", map[string]interface{}{
		"order_id":   order.ID,
		"product_id": order.ProductID,
		"variant_id": deref(order.VariantID),
	})

	key, err := MintFallbackKey(a.fallbackPrefix)
	if err != nil {
		return nil, err
	}

	productID := order.ProductID
	orderID := order.ID
	email := order.CustomerEmail
	assignedAt := now
	license := &models.License{
		ID:            uuid.Must(uuid.NewRandom()).String(),
		Key:           key,
		ProductID:     &productID,
		VariantID:     order.VariantID,
		OrderID:       &orderID,
		CustomerEmail: &email,
		Status:        models.LicenseActive,
		Fallback:      true,
		ExpiresAt:     expiresAt,
		AssignedAt:    &assignedAt,
		CreatedAt:     now,
	}
	if err := tx.CreateLicense(ctx, license); err != nil {
		return nil, NewStoreUnavailableError(err, "failed to store fallback license")
	}

	return &Allocation{License: license, Scope: "fallback", Exhausted: exhausted, DurationRecognized: recognized}, nil
}

func stockScopes(order *models.Order) []storage.StockScope {
	scopes := make([]storage.StockScope, 0, 3)
	if order.VariantID != nil && *order.VariantID != "" {
		scopes = append(scopes, storage.VariantStock(order.ProductID, *order.VariantID))
	}
	return append(scopes, storage.ProductStock(order.ProductID), storage.GeneralStock())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
