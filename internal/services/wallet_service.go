package services

import (
	"context"
	"errors"
	"strings"

	"prepaid/internal/db"
	"prepaid/internal/ledger"
	"prepaid/internal/models"
	"prepaid/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultCurrency = "NGN"

type WalletReporter interface {
	Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletReconciliation, error)
}

type WalletService struct {
	txRunner db.TxRunner
	stores   Stores
	users    UserDirectory
	reports  WalletReporter
	notifier Notifier
	logger   *zap.Logger
}

func NewWalletService(txRunner db.TxRunner, stores Stores, users UserDirectory, reports WalletReporter, notifier Notifier, logger *zap.Logger) *WalletService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletService{
		txRunner: txRunner,
		stores:   stores,
		users:    users,
		reports:  reports,
		notifier: notifier,
		logger:   logger,
	}
}

// Provision creates the user's wallet. It is called once by the
// registration workflow and is safe to repeat.
func (s *WalletService) Provision(ctx context.Context, actorID, userID string) (models.Wallet, bool, error) {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return models.Wallet{}, false, err
	}
	if !exists {
		return models.Wallet{}, false, ErrUserNotFound
	}
	var created bool
	walletID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = s.stores.Wallets.Create(ctx, tx, walletID, userID, DefaultCurrency)
		if err != nil || !created {
			return err
		}
		return s.stores.Audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    actorID,
			Action:     store.AuditWalletProvisioned,
			EntityType: "wallet",
			EntityID:   walletID,
			Data:       map[string]any{"user_id": userID},
		})
	})
	if err != nil {
		return models.Wallet{}, false, err
	}
	wallet, err := s.stores.Wallets.GetByUser(ctx, userID)
	if err != nil {
		return models.Wallet{}, false, err
	}
	if created {
		s.logger.Info("wallet provisioned", zap.String("user_id", userID), zap.String("wallet_id", wallet.ID))
	}
	return wallet, created, nil
}

type FundRequest struct {
	ActorID     string
	UserID      string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// Fund credits a wallet and writes a completed funding record with the
// given reference. A reused reference fails with store.ErrDuplicateReference
// and nothing is credited.
func (s *WalletService) Fund(ctx context.Context, req FundRequest) (models.Wallet, models.PurchaseRecord, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = newReference(prefixFunding, req.UserID)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Wallet funding"
	}

	var wallet models.Wallet
	var record models.PurchaseRecord
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.stores.Wallets.GetByUserForUpdate(ctx, tx, req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		balance, err := ledger.Credit(locked.Balance, req.Amount)
		if err != nil {
			return err
		}
		record = models.PurchaseRecord{
			ID:          uuid.NewString(),
			WalletID:    locked.ID,
			UserID:      req.UserID,
			Kind:        models.KindFunding,
			Service:     models.ServiceFunding,
			Amount:      req.Amount,
			Description: description,
			Reference:   reference,
			Status:      models.StatusCompleted,
		}
		if err := s.stores.Purchases.Create(ctx, tx, store.PurchaseInput{
			ID:          record.ID,
			WalletID:    record.WalletID,
			Kind:        record.Kind,
			Service:     record.Service,
			Amount:      record.Amount,
			Description: record.Description,
			Reference:   record.Reference,
			Status:      record.Status,
		}); err != nil {
			return err
		}
		if err := s.stores.Wallets.UpdateBalance(ctx, tx, locked.ID, balance); err != nil {
			return err
		}
		if err := s.stores.Journal.Append(ctx, tx, store.LedgerEntryInput{
			ID:           uuid.NewString(),
			WalletID:     locked.ID,
			Reference:    reference,
			Amount:       req.Amount,
			BalanceAfter: balance,
			Description:  description,
		}); err != nil {
			return err
		}
		locked.Balance = balance
		wallet = locked
		return s.stores.Audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    req.ActorID,
			Action:     store.AuditWalletFunded,
			EntityType: "wallet",
			EntityID:   locked.ID,
			Data: map[string]any{
				"reference":     reference,
				"amount":        req.Amount.StringFixed(2),
				"balance_after": balance.StringFixed(2),
			},
		})
	})
	if err != nil {
		return models.Wallet{}, models.PurchaseRecord{}, err
	}
	s.notifier.BroadcastBalance(req.UserID, balanceUpdate(wallet, wallet.Balance))
	return wallet, record, nil
}

func (s *WalletService) Balance(ctx context.Context, userID string) (models.Wallet, error) {
	wallet, err := s.stores.Wallets.GetByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Wallet{}, ErrWalletNotFound
	}
	return wallet, err
}

// Reconcile compares each stored balance with the sum of its journal.
func (s *WalletService) Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletReconciliation, error) {
	return s.reports.Reconcile(ctx, onlyMismatched)
}
