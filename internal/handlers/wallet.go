package handlers

import (
	"net/http"
	"time"

	"prepaid/internal/auth"
	"prepaid/internal/middleware"
	"prepaid/internal/money"
	"prepaid/internal/websocket"
)

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.wallets.Balance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"wallet_id":  wallet.ID,
		"balance":    money.Format(wallet.Balance),
		"currency":   wallet.Currency,
		"updated_at": wallet.UpdatedAt,
	})
}

func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	info, err := h.limits.Limits(r.Context(), userID, time.Now())
	if err != nil {
		respondServiceError(w, err, "unable to load limits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"is_verified":        info.IsVerified,
		"single_limit":       money.Format(info.SingleLimit),
		"daily_limit":        money.Format(info.DailyLimit),
		"daily_used":         money.Format(info.DailyUsed),
		"daily_remaining":    money.Format(info.DailyRemaining),
		"hourly_count_limit": info.HourlyCountLimit,
	})
}

// WSBalances authenticates from the query string because browsers cannot set
// headers on a websocket handshake.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = middleware.BearerToken(r); err != nil {
			respondError(w, http.StatusUnauthorized, "missing token")
			return
		}
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
