package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"prepaid/internal/middleware"
	"prepaid/internal/money"
	"prepaid/internal/services"
	"prepaid/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type requeryRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes" validate:"min=0"`
}

func (h *Handler) TriggerRequery(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req requeryRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	maxAge := h.cfg.Sweep.MaxAge
	if req.MaxAgeMinutes > 0 {
		maxAge = time.Duration(req.MaxAgeMinutes) * time.Minute
	}
	// a dropped connection must not abort finalizes mid-batch
	stats, err := h.sweeper.Run(context.WithoutCancel(r.Context()), maxAge)
	if err != nil {
		h.logger.Error("manual requery failed", zap.String("actor_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "requery_failed")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    userID,
			Action:     store.AuditRequeryTriggered,
			EntityType: "sweep",
			EntityID:   "manual",
			Data: map[string]any{
				"max_age_minutes": int(maxAge.Minutes()),
				"checked":         stats.Checked,
				"completed":       stats.Completed,
				"failed":          stats.Failed,
				"still_pending":   stats.StillPending,
				"errors":          stats.Errors,
			},
		})
	})
	if err != nil {
		h.logger.Warn("unable to audit manual requery", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load settings")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type settingsRequest struct {
	FraudChecksEnabled *bool `json:"fraud_checks_enabled"`
	MaintenanceMode    *bool `json:"maintenance_mode"`
}

// UpdateSettings applies a partial update; omitted fields keep their value.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FraudChecksEnabled == nil && req.MaintenanceMode == nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	current, err := h.settings.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load settings")
		return
	}
	fraud, maintenance := current.FraudChecksEnabled, current.MaintenanceMode
	if req.FraudChecksEnabled != nil {
		fraud = *req.FraudChecksEnabled
	}
	if req.MaintenanceMode != nil {
		maintenance = *req.MaintenanceMode
	}
	updated, err := h.settings.Update(r.Context(), userID, fraud, maintenance)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update settings")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type provisionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *Handler) ProvisionWallet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req provisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, created, err := h.wallets.Provision(r.Context(), actorID, strings.TrimSpace(req.UserID))
	if err != nil {
		respondServiceError(w, err, "unable to provision wallet")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]any{
		"wallet_id": wallet.ID,
		"user_id":   wallet.UserID,
		"balance":   money.Format(wallet.Balance),
		"currency":  wallet.Currency,
		"created":   created,
	})
}

type fundRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" validate:"max=64"`
	Description string          `json:"description" validate:"max=255"`
}

func (h *Handler) FundWallet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, record, err := h.wallets.Fund(r.Context(), services.FundRequest{
		ActorID:     actorID,
		UserID:      chi.URLParam(r, "user_id"),
		Amount:      req.Amount,
		Reference:   strings.TrimSpace(req.Reference),
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, err, "unable to fund wallet")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"wallet_id": wallet.ID,
		"balance":   money.Format(wallet.Balance),
		"currency":  wallet.Currency,
		"reference": record.Reference,
		"amount":    money.Format(record.Amount),
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	onlyMismatched := r.URL.Query().Get("mismatched") == "true"
	rows, err := h.wallets.Reconcile(r.Context(), onlyMismatched)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to reconcile balances")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"wallet_id":      row.WalletID,
			"user_id":        row.UserID,
			"journal_sum":    money.Format(row.JournalSum),
			"stored_balance": money.Format(row.StoredBalance),
			"difference":     money.Format(row.Difference),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

// PurchaseLedger lists the journal rows written under one reference: the
// debit and, for a refunded purchase, its matching credit.
func (h *Handler) PurchaseLedger(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	rows, err := h.journal.ListByReference(r.Context(), reference)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load ledger entries")
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "not_found")
		return
	}
	entries := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, map[string]any{
			"id":            row.ID,
			"wallet_id":     row.WalletID,
			"amount":        money.Format(row.Amount),
			"balance_after": money.Format(row.BalanceAfter),
			"description":   row.Description,
			"created_at":    row.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"reference": reference, "entries": entries})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 200)
	rows, err := h.audit.List(r.Context(), r.URL.Query().Get("action"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	if rows == nil {
		rows = []store.AuditLog{}
	}
	respondJSON(w, http.StatusOK, rows)
}

type promoteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !requireSuper(w, r) {
		return
	}
	var req promoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	exists, err := h.users.Exists(r.Context(), req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to resolve user")
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, req.UserID, false, &userID); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    userID,
			Action:     store.AuditAdminPromoted,
			EntityType: "admin",
			EntityID:   req.UserID,
			Data:       map[string]any{"target_user_id": req.UserID},
		})
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to promote admin")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=CanOperatePurchases CanFundWallets CanViewAudit"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !requireSuper(w, r) {
		return
	}
	var req grantRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to verify target admin")
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target is not an admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    userID,
			Action:     store.AuditRoleGranted,
			EntityType: "admin_role",
			EntityID:   req.AdminUserID,
			Data:       map[string]any{"admin_user_id": req.AdminUserID, "role": req.Role},
		})
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to grant role")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

func requireSuper(w http.ResponseWriter, r *http.Request) bool {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok || !admin.IsSuper {
		respondError(w, http.StatusForbidden, "super_admin_required")
		return false
	}
	return true
}
