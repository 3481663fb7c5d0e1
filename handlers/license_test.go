package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ring0.store/fulfillment/internal/testutil"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

func validateRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	raw, ok := body.(string)
	if !ok {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		raw = string(data)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", bytes.NewBufferString(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidateLicense(t *testing.T) {
	store := storage.NewMemoryStorage()
	env := newTestEnv(t, store)
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	env.server.now = func() time.Time { return now }

	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Second)
	assignedLicense(t, store, "VALID-KEY", "order-1", models.LicenseActive, &future)
	assignedLicense(t, store, "LIFETIME-KEY", "order-2", models.LicenseActive, nil)
	assignedLicense(t, store, "EXPIRED-KEY", "order-3", models.LicenseActive, &past)
	assignedLicense(t, store, "REVOKED-KEY", "order-4", models.LicenseRevoked, &future)
	testutil.AddStock(t, store, testutil.StockLicense("STOCK-KEY", testutil.Ptr("prod_spoofer"), nil, testutil.BaseTime))

	tests := []struct {
		name          string
		key           string
		expectedValid bool
		expectedMsg   string
		hasExpiry     bool
	}{
		{"valid timed license", "VALID-KEY", true, "License valid", true},
		{"valid lifetime license", "LIFETIME-KEY", true, "License valid", false},
		{"surrounding whitespace", "  VALID-KEY ", true, "License valid", true},
		{"expired license", "EXPIRED-KEY", false, "License expired", true},
		{"revoked license", "REVOKED-KEY", false, "License not active", true},
		{"stock key never handed out", "STOCK-KEY", false, "License not assigned", false},
		{"unknown key", "NOPE", false, "License not found", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(validateRequest(t, LicenseRequest{LicenseKey: tt.key}))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
			}
			var response ValidateResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Valid != tt.expectedValid {
				t.Errorf("Expected valid=%v, got %v", tt.expectedValid, response.Valid)
			}
			if response.Message != tt.expectedMsg {
				t.Errorf("Expected message '%s', got '%s'", tt.expectedMsg, response.Message)
			}
			if (response.ExpiresAt != nil) != tt.hasExpiry {
				t.Errorf("Expected expiry present=%v, got %v", tt.hasExpiry, response.ExpiresAt)
			}
		})
	}
}

func TestValidateLicense_BadRequests(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStorage())

	tests := []struct {
		name         string
		body         interface{}
		expectedCode int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"invalid json", "{invalid json}", http.StatusBadRequest},
		{"missing key", map[string]string{}, http.StatusBadRequest},
		{"blank key", LicenseRequest{LicenseKey: "   "}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(validateRequest(t, tt.body))
			if w.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
			}
		})
	}
}
