package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"prepaid/internal/catalog"
	"prepaid/internal/middleware"
	"prepaid/internal/models"
	"prepaid/internal/money"
	"prepaid/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type airtimeRequest struct {
	Network string          `json:"network" validate:"required"`
	Phone   string          `json:"phone" validate:"required,phone"`
	Amount  decimal.Decimal `json:"amount"`
}

type dataRequest struct {
	Network  string `json:"network" validate:"required"`
	Phone    string `json:"phone" validate:"required,phone"`
	PlanCode string `json:"plan_code" validate:"required"`
}

type electricityRequest struct {
	Disco       string          `json:"disco" validate:"required"`
	MeterNumber string          `json:"meter_number" validate:"required,meter"`
	MeterType   string          `json:"meter_type" validate:"required"`
	Phone       string          `json:"phone" validate:"required,phone"`
	Amount      decimal.Decimal `json:"amount"`
}

type purchaseResponse struct {
	Reference    string          `json:"reference"`
	Service      string          `json:"service"`
	Amount       string          `json:"amount"`
	Status       string          `json:"status"`
	Token        string          `json:"token,omitempty"`
	Balance      string          `json:"balance"`
	Message      string          `json:"message,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	Provider     json.RawMessage `json:"provider_response,omitempty"`
}

func (h *Handler) BuyAirtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req airtimeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.purchases.Airtime(r.Context(), services.AirtimeRequest{
		UserID:  userID,
		Network: req.Network,
		Phone:   req.Phone,
		Amount:  req.Amount,
	})
	h.respondPurchase(w, result, err)
}

func (h *Handler) BuyData(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req dataRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.purchases.Data(r.Context(), services.DataRequest{
		UserID:   userID,
		Network:  req.Network,
		Phone:    req.Phone,
		PlanCode: req.PlanCode,
	})
	h.respondPurchase(w, result, err)
}

func (h *Handler) BuyElectricity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req electricityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.purchases.Electricity(r.Context(), services.ElectricityRequest{
		UserID:      userID,
		Disco:       req.Disco,
		MeterNumber: req.MeterNumber,
		MeterType:   req.MeterType,
		Phone:       req.Phone,
		Amount:      req.Amount,
	})
	h.respondPurchase(w, result, err)
}

// respondPurchase answers 201 for a completed purchase, 202 while the
// provider has not settled it and 200 once it failed and was refunded.
func (h *Handler) respondPurchase(w http.ResponseWriter, result services.PurchaseResult, err error) {
	if err != nil {
		respondServiceError(w, err, "purchase_failed")
		return
	}
	status := http.StatusOK
	switch result.Record.Status {
	case models.StatusCompleted:
		status = http.StatusCreated
	case models.StatusPending:
		status = http.StatusAccepted
	}
	respondJSON(w, status, purchaseResponse{
		Reference:    result.Record.Reference,
		Service:      result.Record.Service,
		Amount:       money.Format(result.Record.Amount),
		Status:       result.Record.Status,
		Token:        valueOrEmpty(result.Record.Token),
		Balance:      money.Format(result.Balance),
		Message:      result.Message,
		CustomerName: result.CustomerName,
		Provider:     result.Provider,
	})
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := pagination(r, 20, 100)
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	records, err := h.purchases.History(r.Context(), userID, service, limit, offset)
	if err != nil {
		respondServiceError(w, err, "unable to load purchases")
		return
	}
	normalized := make([]map[string]any, 0, len(records))
	for _, record := range records {
		normalized = append(normalized, recordView(record))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	record, err := h.purchases.Get(r.Context(), userID, chi.URLParam(r, "reference"))
	if err != nil {
		respondServiceError(w, err, "unable to load purchase")
		return
	}
	respondJSON(w, http.StatusOK, recordView(record))
}

func (h *Handler) DataPlans(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")
	if network == "" {
		respondJSON(w, http.StatusOK, catalog.AllDataPlans())
		return
	}
	plans := catalog.DataPlans(network)
	if len(plans) == 0 {
		respondError(w, http.StatusNotFound, "unknown network")
		return
	}
	respondJSON(w, http.StatusOK, plans)
}

func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{
		"networks":     catalog.Networks(),
		"distributors": catalog.Distributors(),
	})
}

func recordView(record models.PurchaseRecord) map[string]any {
	return map[string]any{
		"reference":              record.Reference,
		"kind":                   record.Kind,
		"service":                record.Service,
		"amount":                 money.Format(record.Amount),
		"description":            record.Description,
		"status":                 record.Status,
		"provider_status":        valueOrEmpty(record.ProviderStatus),
		"token":                  valueOrEmpty(record.Token),
		"requires_manual_review": record.RequiresManualReview,
		"created_at":             record.CreatedAt,
		"updated_at":             record.UpdatedAt,
	}
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
