package handlers

import (
	"net/http"
	"strings"

	"prepaid/internal/config"
	"prepaid/internal/db"
	"prepaid/internal/middleware"
	"prepaid/internal/store"
	"prepaid/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handler struct {
	txRunner  db.TxRunner
	cfg       config.Config
	purchases PurchaseService
	wallets   WalletService
	limits    LimitsReporter
	settings  SettingsService
	webhooks  WebhookProcessor
	sweeper   Sweeper
	admin     AdminStore
	audit     AuditStore
	journal   JournalReader
	users     UserDirectory
	hub       *websocket.Hub
	logger    *zap.Logger
}

func New(txRunner db.TxRunner, cfg config.Config, purchases PurchaseService, wallets WalletService, limits LimitsReporter, settings SettingsService, webhooks WebhookProcessor, sweeper Sweeper, admin AdminStore, audit AuditStore, journal JournalReader, users UserDirectory, hub *websocket.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		txRunner:  txRunner,
		cfg:       cfg,
		purchases: purchases,
		wallets:   wallets,
		limits:    limits,
		settings:  settings,
		webhooks:  webhooks,
		sweeper:   sweeper,
		admin:     admin,
		audit:     audit,
		journal:   journal,
		users:     users,
		hub:       hub,
		logger:    logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Metrics)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authed := middleware.Auth(h.cfg.JWTSecret)
	router.Route("/purchases", func(r chi.Router) {
		r.Use(authed)
		r.Post("/airtime", h.BuyAirtime)
		r.Post("/data", h.BuyData)
		r.Post("/electricity", h.BuyElectricity)
		r.Get("/", h.ListPurchases)
		r.Get("/{reference}", h.GetPurchase)
	})
	router.With(authed).Get("/catalog/data-plans", h.DataPlans)
	router.With(authed).Get("/catalog/providers", h.Providers)
	router.With(authed).Get("/wallet", h.GetWallet)
	router.With(authed).Get("/limits", h.GetLimits)
	router.Get("/ws/balances", h.WSBalances)

	router.Post("/webhooks/provider", h.ProviderWebhook)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authed)
		r.With(middleware.RequireAdmin(h.admin, store.RoleOperator)).Post("/requery", h.TriggerRequery)
		r.With(middleware.RequireAdmin(h.admin, store.RoleOperator)).Get("/settings", h.GetSettings)
		r.With(middleware.RequireAdmin(h.admin, store.RoleOperator)).Put("/settings", h.UpdateSettings)
		r.With(middleware.RequireAdmin(h.admin, store.RoleFunding)).Post("/wallets", h.ProvisionWallet)
		r.With(middleware.RequireAdmin(h.admin, store.RoleFunding)).Post("/wallets/{user_id}/fund", h.FundWallet)
		r.With(middleware.RequireAdmin(h.admin, store.RoleAuditor)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.admin, store.RoleAuditor)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, store.RoleAuditor)).Get("/purchases/{reference}/ledger", h.PurchaseLedger)
		r.With(middleware.RequireAdmin(h.admin)).Post("/roles/grant", h.GrantRole)
		r.With(middleware.RequireAdmin(h.admin)).Post("/promote", h.PromoteAdmin)
	})

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
