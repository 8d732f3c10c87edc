package handlers

import (
	"errors"
	"io"
	"net/http"

	"prepaid/internal/reconcile"
	"prepaid/internal/services"

	"go.uber.org/zap"
)

const signatureHeader = "X-Signature"

// ProviderWebhook hands the raw body to the processor; the signature is
// computed over the exact bytes received.
func (h *Handler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.webhooks.Process(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, result)
	case errors.Is(err, reconcile.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "invalid_signature")
	case errors.Is(err, reconcile.ErrMalformedPayload):
		respondError(w, http.StatusBadRequest, "invalid payload")
	case errors.Is(err, reconcile.ErrMissingReference):
		respondError(w, http.StatusBadRequest, "missing_reference")
	case errors.Is(err, services.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "not_found")
	default:
		h.logger.Error("webhook processing failed", zap.String("reference", result.Reference), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "webhook_failed")
	}
}
