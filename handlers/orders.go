package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

type OrderStatusResponse struct {
	OrderNumber string     `json:"order_number"`
	Status      string     `json:"status"`
	ProductName string     `json:"product_name"`
	Duration    string     `json:"duration"`
	LicenseKey  string     `json:"license_key,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// OrderStatus lets the storefront's success page poll an order. The key is
// only revealed to a caller that knows the order's email.
func (s *Server) OrderStatus(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	email := strings.TrimSpace(r.URL.Query().Get("email"))

	order, err := s.Storage.FindOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		logger.Error("Failed to look up order", map[string]interface{}{
			"order_number": orderNumber,
			"error":        err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to look up order")
		return
	}
	if order == nil {
		writeErrorResponse(w, http.StatusNotFound, "Order not found")
		return
	}

	resp := OrderStatusResponse{
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		ProductName: order.ProductName,
		Duration:    order.Duration,
	}

	owner := email != "" && strings.EqualFold(email, order.CustomerEmail)
	if owner && order.Status == models.OrderCompleted && order.LicenseKey != nil {
		resp.LicenseKey = *order.LicenseKey

		license, err := s.Storage.FindLicenseByKey(r.Context(), *order.LicenseKey)
		if err != nil {
			logger.Warn("Failed to load license for order", map[string]interface{}{
				"order_number": orderNumber,
				"error":        err.Error(),
			})
		} else if license != nil {
			resp.ExpiresAt = license.ExpiresAt
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
