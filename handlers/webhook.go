package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

const MaxBodyBytes = int64(65536)

type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Webhook verifies, normalizes and processes one provider notification.
//
// A store failure answers 500 so the provider redelivers. Every other
// outcome, including duplicates and events no order matches, answers 200.
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	method, ok := models.ParsePaymentMethod(name)
	provider := s.Providers[method]
	if !ok || provider == nil {
		logger.Warn("Webhook for unknown or disabled provider", map[string]interface{}{
			"provider":    name,
			"remote_addr": r.RemoteAddr,
		})
		writeErrorResponse(w, http.StatusNotFound, "Unknown payment provider")
		return
	}

	fields := map[string]interface{}{
		"provider":    method,
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.Header.Get("User-Agent"),
	}
	logger.Info("Webhook received", fields)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("Failed to read webhook payload", fields)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	signature := r.Header.Get(provider.SignatureHeader())
	if signature == "" {
		logger.Warn("Webhook signature header missing", fields)
		writeErrorResponse(w, http.StatusUnauthorized, "Missing signature")
		return
	}
	if !provider.Verify(payload, signature) {
		fields["signature"] = signature
		logger.Warn("Webhook signature verification failed", fields)
		writeErrorResponse(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	ev, err := provider.Normalize(payload)
	if err != nil {
		fields["error"] = err.Error()
		fields["payload_size"] = len(payload)
		logger.Error("Failed to parse webhook payload", fields)
		writeJSON(w, http.StatusBadRequest, WebhookResponse{Received: true, Error: "Invalid payload"})
		return
	}

	fields["event_id"] = ev.ProviderEventID
	fields["event_type"] = ev.RawType

	// the payment already happened, so a client disconnect must not abort processing
	ctx := context.WithoutCancel(r.Context())
	result, err := s.Service.Process(ctx, *ev)
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("Failed to process webhook", fields)
		captureException(r, err)
		writeJSON(w, http.StatusInternalServerError, WebhookResponse{Received: false, Error: "Processing failed, please retry"})
		return
	}

	fields["outcome"] = result.Outcome
	if result.Order != nil {
		fields["order_number"] = result.Order.OrderNumber
	}
	logger.Info("Webhook processed successfully", fields)

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Outcome: string(result.Outcome)})
}

func captureException(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
