package store

import (
	"context"

	"prepaid/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerStore is the append-only journal of wallet mutations.
type LedgerStore struct {
	db DB
}

type LedgerEntryInput struct {
	ID           string
	WalletID     string
	Reference    string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Description  string
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, tx Execer, entry LedgerEntryInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, reference, amount, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.WalletID, entry.Reference, entry.Amount.StringFixed(2), entry.BalanceAfter.StringFixed(2), entry.Description)
	return err
}

func (s *LedgerStore) ListByReference(ctx context.Context, reference string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, reference, amount, balance_after, description, created_at
		FROM ledger_entries
		WHERE reference = $1
		ORDER BY created_at
	`, reference)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
