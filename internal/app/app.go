// Package app assembles the stores, provider client and services shared by
// the server and the requery command.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"prepaid/internal/config"
	"prepaid/internal/db"
	"prepaid/internal/events"
	"prepaid/internal/policy"
	"prepaid/internal/provider"
	"prepaid/internal/reconcile"
	"prepaid/internal/services"
	"prepaid/internal/settings"
	"prepaid/internal/store"
	"prepaid/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	DB        *sqlx.DB
	TxRunner  db.TxRunner
	Wallets   *store.WalletStore
	Purchases *store.PurchaseStore
	Admins    *store.AdminStore
	Audit     *store.AuditStore
	Journal   *store.LedgerStore
	Users     *store.UserStore

	Gateway   *provider.Gateway
	Policy    *policy.Evaluator
	Settings  *settings.Service
	Finalizer *services.Finalizer
	Purchase  *services.PurchaseService
	Wallet    *services.WalletService
	Webhooks  *reconcile.WebhookProcessor
	Sweeper   *reconcile.Sweeper
	Hub       *websocket.Hub
	Publisher events.Publisher

	redis *redis.Client
}

func New(cfg config.Config, database *sqlx.DB, logger *zap.Logger) (*App, error) {
	limits, err := policy.ConfigFromLimits(cfg.Limits)
	if err != nil {
		return nil, err
	}

	a := &App{
		DB:        database,
		TxRunner:  db.NewTxRunner(database),
		Wallets:   store.NewWalletStore(database),
		Purchases: store.NewPurchaseStore(database),
		Admins:    store.NewAdminStore(database),
		Audit:     store.NewAuditStore(database),
		Journal:   store.NewLedgerStore(database),
		Users:     store.NewUserStore(database),
		Hub:       websocket.NewHub(splitOrigins(cfg.AllowedOrigins), logger.Named("ws")),
		Publisher: events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("events")),
	}
	stores := services.Stores{
		Wallets:   a.Wallets,
		Purchases: a.Purchases,
		Journal:   a.Journal,
		Audit:     a.Audit,
	}

	var invalidator settings.Invalidator
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		invalidator = settings.NewRedisInvalidator(a.redis, cfg.Redis.Channel, instanceName(), logger.Named("settings"))
	}

	a.Gateway = provider.NewGateway(cfg.Provider, logger.Named("provider"))
	a.Settings = settings.NewService(a.TxRunner, store.NewSettingsStore(database), a.Audit, invalidator, cfg.Settings.CacheTTL, logger.Named("settings"))
	a.Policy = policy.NewEvaluator(a.Purchases, a.Users, limits)
	a.Finalizer = services.NewFinalizer(a.TxRunner, stores, a.Hub, a.Publisher, logger.Named("finalize"))
	a.Purchase = services.NewPurchaseService(a.TxRunner, stores, a.Gateway, a.Policy, a.Settings, a.Finalizer, a.Hub, logger.Named("purchase"))
	a.Wallet = services.NewWalletService(a.TxRunner, stores, a.Users, a.Wallets, a.Hub, logger.Named("wallet"))
	a.Webhooks = reconcile.NewWebhookProcessor(cfg.Webhook.Secret, a.Finalizer, logger.Named("webhook"))
	a.Sweeper = reconcile.NewSweeper(a.Purchases, a.Gateway, a.Finalizer, cfg.Sweep, logger.Named("sweep"))
	return a, nil
}

// Ping checks the optional redis connection so a bad address fails at boot.
func (a *App) Ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var firstErr error
	if err := a.Publisher.Close(); err != nil {
		firstErr = err
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil {
		return "prepaid"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
