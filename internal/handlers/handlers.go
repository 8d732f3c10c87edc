package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"prepaid/internal/ledger"
	"prepaid/internal/money"
	"prepaid/internal/policy"
	"prepaid/internal/services"
	"prepaid/internal/store"
	"prepaid/internal/validator"
)

const maxRequestBytes = 64 << 10

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidation(w http.ResponseWriter, fields []validator.FieldError) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation_failed",
		"fields": fields,
	})
}

// decodeBody reads a JSON body and runs struct validation. It writes the
// error response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if fields := validator.Struct(dest); len(fields) > 0 {
		respondValidation(w, fields)
		return false
	}
	return true
}

// respondServiceError maps domain errors onto the API's error codes.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var violation *policy.Violation
	switch {
	case errors.As(err, &violation):
		respondJSON(w, http.StatusForbidden, map[string]string{
			"error":   "policy_violation",
			"kind":    string(violation.Kind),
			"message": violation.Message,
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		respondError(w, http.StatusBadRequest, "insufficient_funds")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrTooManyDecimals):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, ledger.ErrBalanceCapExceeded):
		respondError(w, http.StatusBadRequest, "balance_cap_exceeded")
	case errors.Is(err, services.ErrInvalidTarget), errors.Is(err, services.ErrInvalidProduct):
		respondError(w, http.StatusBadRequest, "invalid_target")
	case errors.Is(err, services.ErrTargetVerificationFailed):
		respondError(w, http.StatusUnprocessableEntity, "verification_failed")
	case errors.Is(err, store.ErrDuplicateReference), store.IsUniqueViolation(err):
		respondError(w, http.StatusConflict, "duplicate_reference")
	case errors.Is(err, services.ErrWalletNotFound):
		respondError(w, http.StatusNotFound, "wallet_not_found")
	case errors.Is(err, services.ErrRecordNotFound), errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user_not_found")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// pagination reads limit/page query params the same way on every list.
func pagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}
