package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

type LicenseRequest struct {
	LicenseKey string `json:"license_key"`
}

type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	if err := decoder.Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Empty body")
		return
	}

	if err := req.validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid license")
		return
	}

	license, err := s.Storage.FindLicenseByKey(r.Context(), strings.TrimSpace(req.LicenseKey))
	if err != nil {
		logger.Error("Failed to look up license", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to validate license")
		return
	}

	switch {
	case license == nil:
		respondWithValidation(w, false, "License not found", nil)
	case license.InStock():
		respondWithValidation(w, false, "License not assigned", nil)
	case license.Status != models.LicenseActive:
		respondWithValidation(w, false, "License not active", license.ExpiresAt)
	case license.Expired(s.now()):
		respondWithValidation(w, false, "License expired", license.ExpiresAt)
	default:
		respondWithValidation(w, true, "License valid", license.ExpiresAt)
	}
}

func respondWithValidation(w http.ResponseWriter, valid bool, message string, expiresAt *time.Time) {
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:     valid,
		Message:   message,
		ExpiresAt: expiresAt,
	})
}

func (lr LicenseRequest) validate() error {
	if strings.TrimSpace(lr.LicenseKey) == "" {
		return fmt.Errorf("license_key required")
	}
	return nil
}
