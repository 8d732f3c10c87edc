package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"prepaid/internal/events"
	"prepaid/internal/models"
	"prepaid/internal/provider"
	"prepaid/internal/settings"
	"prepaid/internal/store"
	"prepaid/internal/websocket"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTarget            = errors.New("invalid target")
	ErrInvalidProduct           = errors.New("unknown network, plan or distributor")
	ErrTargetVerificationFailed = errors.New("target verification failed")
	ErrWalletNotFound           = errors.New("wallet not found")
	ErrRecordNotFound           = errors.New("purchase record not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrRefundFailed             = errors.New("refund failed")
)

const (
	SourcePurchase = "purchase"
	SourceWebhook  = "webhook"
	SourceRequery  = "requery"
)

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, id, userID, currency string) (bool, error)
	GetByUser(ctx context.Context, userID string) (models.Wallet, error)
	GetByUserForUpdate(ctx context.Context, tx store.Getter, userID string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (models.Wallet, error)
	UpdateBalance(ctx context.Context, tx store.Execer, walletID string, balance decimal.Decimal) error
}

type PurchaseStore interface {
	Create(ctx context.Context, tx store.Execer, input store.PurchaseInput) error
	GetByReference(ctx context.Context, reference string) (models.PurchaseRecord, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.PurchaseRecord, error)
	WalletIDByReference(ctx context.Context, reference string) (string, error)
	UpdateOutcome(ctx context.Context, tx store.Execer, id string, update store.OutcomeUpdate) (bool, error)
	RecordRequery(ctx context.Context, tx store.Getter, id, providerStatus string, raw json.RawMessage, at time.Time) (int, error)
	FlagForReview(ctx context.Context, tx store.Execer, id string) error
	ListByUser(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error)
}

type LedgerStore interface {
	Append(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
}

// Stores groups the persistence dependencies shared by the services.
type Stores struct {
	Wallets   WalletStore
	Purchases PurchaseStore
	Journal   LedgerStore
	Audit     AuditStore
}

type Gateway interface {
	Purchase(ctx context.Context, req provider.PurchaseRequest) (provider.Result, error)
	VerifyTarget(ctx context.Context, serviceID, target, subtype string) (provider.Result, error)
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, userID string, amount decimal.Decimal, now time.Time, snap settings.Snapshot) error
}

type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

type Notifier interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
	BroadcastPurchase(userID string, update websocket.PurchaseUpdate)
}

type EventPublisher interface {
	PurchaseFinalized(ctx context.Context, event events.PurchaseFinalized) error
}

type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastBalance(string, websocket.BalanceUpdate)   {}
func (nopNotifier) BroadcastPurchase(string, websocket.PurchaseUpdate) {}

func balanceUpdate(wallet models.Wallet, balance decimal.Decimal) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		WalletID: wallet.ID,
		Balance:  balance.StringFixed(2),
		Currency: wallet.Currency,
	}
}

func purchaseUpdate(record models.PurchaseRecord) websocket.PurchaseUpdate {
	return websocket.PurchaseUpdate{
		Reference: record.Reference,
		Service:   record.Service,
		Amount:    record.Amount.StringFixed(2),
		Status:    record.Status,
		Token:     derefString(record.Token),
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
