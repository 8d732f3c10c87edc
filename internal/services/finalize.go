package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prepaid/internal/db"
	"prepaid/internal/events"
	"prepaid/internal/ledger"
	"prepaid/internal/metrics"
	"prepaid/internal/models"
	"prepaid/internal/provider"
	"prepaid/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Decision is a provider signal about one purchase, from whichever path saw
// it: the synchronous call, a webhook, or a requery.
type Decision struct {
	Outcome        provider.Outcome
	ProviderStatus string
	Token          string
	Raw            json.RawMessage
	Source         string
	ActorID        string
	// CountAttempt bumps requery_attempts when the outcome is not terminal.
	CountAttempt bool
	// AttemptCap, when positive, bounds how many requeries an unresolved
	// record may sit through. Unknown statuses fail at the cap; known
	// pending ones go to manual review.
	AttemptCap int
}

type Settlement struct {
	Record   models.PurchaseRecord
	Balance  decimal.Decimal
	Currency string
	Changed  bool
	Refunded bool
	Flagged  bool
}

type RefundError struct {
	Reference string
	Amount    decimal.Decimal
	Err       error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund of %s for %s failed: %v", e.Amount.StringFixed(2), e.Reference, e.Err)
}

func (e *RefundError) Unwrap() error { return e.Err }

func (e *RefundError) Is(target error) bool { return target == ErrRefundFailed }

// Finalizer applies the terminal-state rule under the wallet lock. A record
// that is already completed or failed is never touched again.
type Finalizer struct {
	txRunner  db.TxRunner
	stores    Stores
	notifier  Notifier
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewFinalizer(txRunner db.TxRunner, stores Stores, notifier Notifier, publisher EventPublisher, logger *zap.Logger) *Finalizer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		txRunner:  txRunner,
		stores:    stores,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (f *Finalizer) Finalize(ctx context.Context, reference string, d Decision) (Settlement, error) {
	walletID, err := f.stores.Purchases.WalletIDByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Settlement{}, ErrRecordNotFound
		}
		return Settlement{}, err
	}
	if d.ActorID == "" {
		d.ActorID = store.ActorSystem
	}

	var out Settlement
	err = f.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = Settlement{}
		wallet, err := f.stores.Wallets.GetForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		record, err := f.stores.Purchases.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		out.Record = record
		out.Balance = wallet.Balance
		out.Currency = wallet.Currency
		if models.IsTerminal(record.Status) {
			return nil
		}
		return f.apply(ctx, tx, wallet, d, &out)
	})
	if err != nil {
		var refundErr *RefundError
		if errors.As(err, &refundErr) {
			f.flagRefundFailure(ctx, walletID, reference, d, refundErr)
		}
		if errors.Is(err, store.ErrNotFound) {
			return Settlement{}, ErrRecordNotFound
		}
		return Settlement{}, err
	}
	f.afterCommit(ctx, out, d.Source)
	return out, nil
}

func (f *Finalizer) apply(ctx context.Context, tx *sqlx.Tx, wallet models.Wallet, d Decision, out *Settlement) error {
	record := &out.Record
	outcome := d.Outcome
	terminal := outcome == provider.OutcomeCompleted || outcome == provider.OutcomeFailed

	if !terminal && d.CountAttempt {
		at := f.now().UTC()
		attempts, err := f.stores.Purchases.RecordRequery(ctx, tx, record.ID, d.ProviderStatus, d.Raw, at)
		if err != nil {
			return err
		}
		record.RequeryAttempts = attempts
		record.LastRequeryAt = &at
		if d.ProviderStatus != "" {
			record.ProviderStatus = stringPtr(d.ProviderStatus)
		}
		if d.AttemptCap > 0 && attempts >= d.AttemptCap {
			if outcome == provider.OutcomeUnknown {
				outcome = provider.OutcomeFailed
			} else {
				return f.flag(ctx, tx, record, d.ActorID, "requery attempts exhausted", out)
			}
		}
	}

	switch outcome {
	case provider.OutcomeCompleted:
		changed, err := f.stores.Purchases.UpdateOutcome(ctx, tx, record.ID, store.OutcomeUpdate{
			Status:           models.StatusCompleted,
			ProviderStatus:   d.ProviderStatus,
			ProviderResponse: d.Raw,
			Token:            d.Token,
		})
		if err != nil || !changed {
			return err
		}
		record.Status = models.StatusCompleted
		if d.Token != "" {
			record.Token = stringPtr(d.Token)
		}
	case provider.OutcomeFailed:
		changed, err := f.stores.Purchases.UpdateOutcome(ctx, tx, record.ID, store.OutcomeUpdate{
			Status:           models.StatusFailed,
			ProviderStatus:   d.ProviderStatus,
			ProviderResponse: d.Raw,
		})
		if err != nil || !changed {
			return err
		}
		record.Status = models.StatusFailed
		if record.Kind == models.KindPurchase {
			if err := f.refund(ctx, tx, wallet, record, d, out); err != nil {
				return err
			}
		}
	default:
		if d.CountAttempt {
			return nil
		}
		_, err := f.stores.Purchases.UpdateOutcome(ctx, tx, record.ID, store.OutcomeUpdate{
			Status:           models.StatusPending,
			ProviderStatus:   d.ProviderStatus,
			ProviderResponse: d.Raw,
		})
		if err == nil && d.ProviderStatus != "" {
			record.ProviderStatus = stringPtr(d.ProviderStatus)
		}
		return err
	}

	if d.ProviderStatus != "" {
		record.ProviderStatus = stringPtr(d.ProviderStatus)
	}
	if len(d.Raw) > 0 {
		record.ProviderResponse = d.Raw
	}
	out.Changed = true
	return f.stores.Audit.Log(ctx, tx, store.AuditEntry{
		ActorID:    d.ActorID,
		Action:     store.AuditPurchaseFinalized,
		EntityType: "purchase_record",
		EntityID:   record.ID,
		Data: map[string]any{
			"reference":       record.Reference,
			"status":          record.Status,
			"provider_status": d.ProviderStatus,
			"source":          d.Source,
			"refunded":        out.Refunded,
		},
	})
}

func (f *Finalizer) refund(ctx context.Context, tx *sqlx.Tx, wallet models.Wallet, record *models.PurchaseRecord, d Decision, out *Settlement) error {
	balance, err := ledger.Credit(wallet.Balance, record.Amount)
	if err != nil {
		return &RefundError{Reference: record.Reference, Amount: record.Amount, Err: err}
	}
	if err := f.stores.Wallets.UpdateBalance(ctx, tx, wallet.ID, balance); err != nil {
		return err
	}
	if err := f.stores.Journal.Append(ctx, tx, store.LedgerEntryInput{
		ID:           uuid.NewString(),
		WalletID:     wallet.ID,
		Reference:    record.Reference,
		Amount:       record.Amount,
		BalanceAfter: balance,
		Description:  "Refund: " + record.Description,
	}); err != nil {
		return err
	}
	out.Balance = balance
	out.Refunded = true
	return f.stores.Audit.Log(ctx, tx, store.AuditEntry{
		ActorID:    d.ActorID,
		Action:     store.AuditRefund,
		EntityType: "wallet",
		EntityID:   wallet.ID,
		Data: map[string]any{
			"reference":     record.Reference,
			"amount":        record.Amount.StringFixed(2),
			"balance_after": balance.StringFixed(2),
			"source":        d.Source,
		},
	})
}

func (f *Finalizer) flag(ctx context.Context, tx store.Execer, record *models.PurchaseRecord, actorID, reason string, out *Settlement) error {
	if err := f.stores.Purchases.FlagForReview(ctx, tx, record.ID); err != nil {
		return err
	}
	record.RequiresManualReview = true
	out.Flagged = true
	return f.stores.Audit.Log(ctx, tx, store.AuditEntry{
		ActorID:    actorID,
		Action:     store.AuditManualReview,
		EntityType: "purchase_record",
		EntityID:   record.ID,
		Data: map[string]any{
			"reference": record.Reference,
			"reason":    reason,
			"attempts":  record.RequeryAttempts,
		},
	})
}

// flagRefundFailure runs after the failed finalize rolled back. The record
// stays pending and is parked for an operator.
func (f *Finalizer) flagRefundFailure(ctx context.Context, walletID, reference string, d Decision, refundErr *RefundError) {
	metrics.RefundFailuresTotal.Inc()
	f.logger.Error("refund failed, purchase flagged for manual review",
		zap.String("reference", reference),
		zap.String("amount", refundErr.Amount.StringFixed(2)),
		zap.String("source", d.Source),
		zap.Error(refundErr.Err))

	err := f.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := f.stores.Wallets.GetForUpdate(ctx, tx, walletID); err != nil {
			return err
		}
		record, err := f.stores.Purchases.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		return f.flag(ctx, tx, &record, d.ActorID, "refund failed: "+refundErr.Err.Error(), &Settlement{})
	})
	if err != nil {
		f.logger.Error("could not flag purchase for manual review", zap.String("reference", reference), zap.Error(err))
	}
}

func (f *Finalizer) afterCommit(ctx context.Context, out Settlement, source string) {
	if !out.Changed {
		return
	}
	record := out.Record
	metrics.PurchasesTotal.WithLabelValues(record.Service, record.Status).Inc()
	if out.Refunded {
		metrics.RefundsTotal.WithLabelValues(source).Inc()
	}
	f.logger.Info("purchase finalized",
		zap.String("reference", record.Reference),
		zap.String("status", record.Status),
		zap.String("source", source),
		zap.Bool("refunded", out.Refunded))

	f.notifier.BroadcastPurchase(record.UserID, purchaseUpdate(record))
	if out.Refunded {
		f.notifier.BroadcastBalance(record.UserID, balanceUpdate(models.Wallet{ID: record.WalletID, Currency: out.Currency}, out.Balance))
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.publisher.PurchaseFinalized(pubCtx, events.PurchaseFinalized{
		Reference:      record.Reference,
		UserID:         record.UserID,
		Service:        record.Service,
		Amount:         record.Amount.StringFixed(2),
		Status:         record.Status,
		Token:          derefString(record.Token),
		ProviderStatus: derefString(record.ProviderStatus),
		Refunded:       out.Refunded,
		Source:         source,
		At:             f.now().UTC(),
	}); err != nil {
		f.logger.Warn("publish purchase event failed", zap.String("reference", record.Reference), zap.Error(err))
	}
}
