package handlers

import (
	"context"
	"time"

	"prepaid/internal/models"
	"prepaid/internal/policy"
	"prepaid/internal/reconcile"
	"prepaid/internal/services"
	"prepaid/internal/settings"
	"prepaid/internal/store"
)

type PurchaseService interface {
	Airtime(ctx context.Context, req services.AirtimeRequest) (services.PurchaseResult, error)
	Data(ctx context.Context, req services.DataRequest) (services.PurchaseResult, error)
	Electricity(ctx context.Context, req services.ElectricityRequest) (services.PurchaseResult, error)
	Get(ctx context.Context, userID, reference string) (models.PurchaseRecord, error)
	History(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error)
}

type WalletService interface {
	Provision(ctx context.Context, actorID, userID string) (models.Wallet, bool, error)
	Fund(ctx context.Context, req services.FundRequest) (models.Wallet, models.PurchaseRecord, error)
	Balance(ctx context.Context, userID string) (models.Wallet, error)
	Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletReconciliation, error)
}

type LimitsReporter interface {
	Limits(ctx context.Context, userID string, now time.Time) (policy.LimitsInfo, error)
}

type SettingsService interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
	Update(ctx context.Context, actorID string, fraudChecksEnabled, maintenanceMode bool) (settings.Snapshot, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, body []byte, signature string) (reconcile.WebhookResult, error)
}

type Sweeper interface {
	Run(ctx context.Context, maxAge time.Duration) (reconcile.Stats, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
	List(ctx context.Context, action string, limit, offset int) ([]store.AuditLog, error)
}

type JournalReader interface {
	ListByReference(ctx context.Context, reference string) ([]models.LedgerEntry, error)
}

type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}
