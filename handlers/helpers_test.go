package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/testutil"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/providers"
	"ring0.store/fulfillment/storage"
)

var testSecrets = map[models.PaymentMethod]string{
	models.MethodStripe:      "whsec_test",
	models.MethodStorrik:     "storrik_secret",
	models.MethodKomerza:     "komerza_secret",
	models.MethodMoneyMotion: "moneymotion_secret",
}

type testEnv struct {
	server   *Server
	store    storage.Storage
	mailer   *testutil.RecordingMailer
	notifier *testutil.RecordingNotifier
}

func newTestEnv(t *testing.T, store storage.Storage) *testEnv {
	t.Helper()
	registry, err := providers.Registry(
		[]models.PaymentMethod{models.MethodStripe, models.MethodStorrik, models.MethodKomerza, models.MethodMoneyMotion},
		func(m models.PaymentMethod) string { return testSecrets[m] },
	)
	if err != nil {
		t.Fatalf("Failed to build providers: %v", err)
	}

	env := &testEnv{
		store:    store,
		mailer:   &testutil.RecordingMailer{},
		notifier: &testutil.RecordingNotifier{},
	}
	dispatcher := fulfillment.NewDispatcher(env.mailer, env.notifier, store, fulfillment.DispatcherConfig{
		Timeout: time.Second,
		Backoff: time.Millisecond,
	})
	service := fulfillment.NewService(store, fulfillment.NewAllocator("RING0"), dispatcher)
	env.server = NewHttpServer(store, service, registry, Options{RateLimitRequests: 100, RateLimitWindow: time.Minute})
	t.Cleanup(dispatcher.Wait)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func signedRequest(path, header, signature string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, signature)
	}
	return req
}

// assignedLicense stores a license already handed to orderID.
func assignedLicense(t *testing.T, store storage.Storage, key, orderID string, status models.LicenseStatus, expiresAt *time.Time) {
	t.Helper()
	assigned := testutil.BaseTime
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.CreateLicense(context.Background(), &models.License{
			ID:            key + "-id",
			Key:           key,
			ProductID:     testutil.Ptr("prod_spoofer"),
			OrderID:       &orderID,
			CustomerEmail: testutil.Ptr("buyer@example.com"),
			Status:        status,
			ExpiresAt:     expiresAt,
			AssignedAt:    &assigned,
			CreatedAt:     assigned,
		})
	})
	if err != nil {
		t.Fatalf("Failed to create license %s: %v", key, err)
	}
}
