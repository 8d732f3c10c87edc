package store

import (
	"context"

	"prepaid/internal/models"

	"github.com/shopspring/decimal"
)

type WalletStore struct {
	db DB
}

type WalletReconciliation struct {
	WalletID      string          `db:"wallet_id" json:"wallet_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	StoredBalance decimal.Decimal `db:"stored_balance" json:"stored_balance"`
	JournalSum    decimal.Decimal `db:"journal_sum" json:"journal_sum"`
	Difference    decimal.Decimal `db:"difference" json:"difference"`
}

const walletColumns = `id, user_id, balance, currency, created_at, updated_at`

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

// Create inserts a zero-balance wallet and reports whether a row was added.
// An existing wallet for the user is left untouched.
func (s *WalletStore) Create(ctx context.Context, tx Execer, id, userID, currency string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, id, userID, currency)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (s *WalletStore) GetByUser(ctx context.Context, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		return models.Wallet{}, notFound(err)
	}
	return row, nil
}

func (s *WalletStore) GetByUserForUpdate(ctx context.Context, tx Getter, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.Wallet{}, notFound(err)
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	if err != nil {
		return models.Wallet{}, notFound(err)
	}
	return row, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, tx Execer, walletID string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance.StringFixed(2), walletID)
	return err
}

// Reconcile compares every stored balance with the sum of its journal.
func (s *WalletStore) Reconcile(ctx context.Context, onlyMismatched bool) ([]WalletReconciliation, error) {
	query := `
		SELECT w.id AS wallet_id,
		       w.user_id,
		       w.balance AS stored_balance,
		       COALESCE(SUM(l.amount), 0) AS journal_sum,
		       (w.balance - COALESCE(SUM(l.amount), 0)) AS difference
		FROM wallets w
		LEFT JOIN ledger_entries l ON l.wallet_id = w.id
		GROUP BY w.id, w.user_id, w.balance
	`
	if onlyMismatched {
		query += ` HAVING w.balance <> COALESCE(SUM(l.amount), 0)`
	}
	query += ` ORDER BY w.user_id`
	var rows []WalletReconciliation
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
