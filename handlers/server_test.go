package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ring0.store/fulfillment/internal/version"
	"ring0.store/fulfillment/storage"
)

func TestNewHttpServer(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStorage())

	if env.server.Router == nil {
		t.Fatal("Expected router to be initialized")
	}
	if env.server.Service == nil {
		t.Error("Expected service to be set")
	}
	if len(env.server.Providers) != 4 {
		t.Errorf("Expected 4 providers, got %d", len(env.server.Providers))
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStorage())

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}
	if resp.Version != version.Version {
		t.Errorf("Expected version %q, got %q", version.Version, resp.Version)
	}
	if resp.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
}

func TestServer_RoutingConfiguration(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStorage())

	tests := []struct {
		name         string
		method       string
		path         string
		expectedCode int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"health wrong method", http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{"webhook without signature", http.MethodPost, "/api/v1/webhooks/storrik", http.StatusUnauthorized},
		{"legacy webhook path", http.MethodPost, "/api/komerza/webhook", http.StatusUnauthorized},
		{"unknown provider", http.MethodPost, "/api/v1/webhooks/paypal", http.StatusNotFound},
		{"crypto has no webhook", http.MethodPost, "/api/v1/webhooks/crypto-manual", http.StatusNotFound},
		{"webhook wrong method", http.MethodGet, "/api/v1/webhooks/stripe", http.StatusMethodNotAllowed},
		{"validate wrong method", http.MethodGet, "/api/v1/licenses/validate", http.StatusMethodNotAllowed},
		{"order not found", http.MethodGet, "/api/v1/orders/NOPE", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, w.Code)
			}
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStorage())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/licenses/validate", nil)
	req.Header.Set("Origin", "https://ring0.store")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := env.do(req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin '*', got %q", got)
	}
}

func TestServer_RateLimitOnLookups(t *testing.T) {
	store := storage.NewMemoryStorage()
	server := NewHttpServer(store, newTestEnv(t, store).server.Service, nil, Options{RateLimitRequests: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/NOPE", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("Request %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}
}
