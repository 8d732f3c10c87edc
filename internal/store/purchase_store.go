package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"prepaid/internal/models"

	"github.com/shopspring/decimal"
)

type PurchaseStore struct {
	db DB
}

type PurchaseInput struct {
	ID          string
	WalletID    string
	Kind        string
	Service     string
	Amount      decimal.Decimal
	Description string
	Reference   string
	Status      string
}

type OutcomeUpdate struct {
	Status           string
	ProviderStatus   string
	ProviderResponse json.RawMessage
	Token            string
}

const purchaseColumns = `
	p.id, p.wallet_id, w.user_id, p.kind, p.service, p.amount, p.description,
	p.reference, p.status, p.provider_status, p.provider_response, p.token,
	p.requery_attempts, p.last_requery_at, p.requires_manual_review,
	p.created_at, p.updated_at`

func NewPurchaseStore(db DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func (s *PurchaseStore) Create(ctx context.Context, tx Execer, input PurchaseInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_records (id, wallet_id, kind, service, amount, description, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, input.ID, input.WalletID, input.Kind, input.Service, input.Amount.StringFixed(2), input.Description, input.Reference, input.Status)
	if IsUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (s *PurchaseStore) GetByReference(ctx context.Context, reference string) (models.PurchaseRecord, error) {
	var row models.PurchaseRecord
	err := s.db.GetContext(ctx, &row, `
		SELECT `+purchaseColumns+`
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE p.reference = $1
	`, reference)
	if err != nil {
		return models.PurchaseRecord{}, notFound(err)
	}
	return row, nil
}

// GetByReferenceForUpdate locks only the record row. The wallet row must
// already be held by the caller.
func (s *PurchaseStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.PurchaseRecord, error) {
	var row models.PurchaseRecord
	err := tx.GetContext(ctx, &row, `
		SELECT `+purchaseColumns+`
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE p.reference = $1
		FOR UPDATE OF p
	`, reference)
	if err != nil {
		return models.PurchaseRecord{}, notFound(err)
	}
	return row, nil
}

// WalletIDByReference resolves the wallet that owns a record without locking,
// so callers can take the wallet lock first.
func (s *PurchaseStore) WalletIDByReference(ctx context.Context, reference string) (string, error) {
	var walletID string
	err := s.db.GetContext(ctx, &walletID, `SELECT wallet_id FROM purchase_records WHERE reference = $1`, reference)
	if err != nil {
		return "", notFound(err)
	}
	return walletID, nil
}

// UpdateOutcome only touches pending rows and reports whether one changed.
// Empty provider fields keep whatever an earlier answer stored.
func (s *PurchaseStore) UpdateOutcome(ctx context.Context, tx Execer, id string, update OutcomeUpdate) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_records
		SET status = $1,
		    provider_status = COALESCE(NULLIF($2, ''), provider_status),
		    provider_response = COALESCE($3::jsonb, provider_response),
		    token = COALESCE(NULLIF($4, ''), token),
		    updated_at = NOW()
		WHERE id = $5 AND status = 'pending'
	`, update.Status, update.ProviderStatus, rawOrNil(update.ProviderResponse), update.Token, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// RecordRequery bumps the attempt counter and returns its new value.
func (s *PurchaseStore) RecordRequery(ctx context.Context, tx Getter, id, providerStatus string, raw json.RawMessage, at time.Time) (int, error) {
	var attempts int
	err := tx.GetContext(ctx, &attempts, `
		UPDATE purchase_records
		SET requery_attempts = requery_attempts + 1,
		    last_requery_at = $1,
		    provider_status = COALESCE(NULLIF($2, ''), provider_status),
		    provider_response = COALESCE($3::jsonb, provider_response),
		    updated_at = NOW()
		WHERE id = $4
		RETURNING requery_attempts
	`, at, providerStatus, rawOrNil(raw), id)
	return attempts, err
}

func (s *PurchaseStore) FlagForReview(ctx context.Context, tx Execer, id string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_records
		SET requires_manual_review = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// ListStalePending returns one keyset page of pending purchases created
// before cutoff that are not already waiting on an operator, starting after
// the given cursor.
func (s *PurchaseStore) ListStalePending(ctx context.Context, cutoff time.Time, after models.PageCursor, limit int) ([]models.PurchaseRecord, error) {
	var rows []models.PurchaseRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+purchaseColumns+`
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE p.kind = 'purchase'
		  AND p.status = 'pending'
		  AND p.requires_manual_review = FALSE
		  AND p.created_at < $1
		  AND (p.created_at, p.id::text) > ($2, $3)
		ORDER BY p.created_at, p.id::text
		LIMIT $4
	`, cutoff, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PurchaseStore) SumCompletedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(p.amount), 0)
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE w.user_id = $1 AND p.kind = 'purchase' AND p.status = 'completed' AND p.created_at >= $2
	`, userID, since)
	return sum, err
}

func (s *PurchaseStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE w.user_id = $1 AND p.kind = 'purchase' AND p.created_at >= $2
	`, userID, since)
	return count, err
}

func (s *PurchaseStore) CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE w.user_id = $1 AND p.kind = 'purchase' AND p.status = 'failed' AND p.created_at >= $2
	`, userID, since)
	return count, err
}

func (s *PurchaseStore) ListByUser(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchase_records p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE w.user_id = $1
	`
	args := []any{userID}
	param := 2
	if service != "" {
		query += " AND p.service = $2"
		args = append(args, service)
		param = 3
	}
	query += " ORDER BY p.created_at DESC LIMIT $" + strconv.Itoa(param) + " OFFSET $" + strconv.Itoa(param+1)
	args = append(args, limit, offset)
	var rows []models.PurchaseRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return string(raw)
}
