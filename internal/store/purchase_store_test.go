package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"prepaid/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseStoreCreate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO purchase_records").
		WithArgs("rec-1", "wallet-1", "purchase", "airtime", "200.00", "Airtime purchase", "VTU-user-1-01H", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewPurchaseStore(db).Create(context.Background(), db, PurchaseInput{
		ID:          "rec-1",
		WalletID:    "wallet-1",
		Kind:        "purchase",
		Service:     "airtime",
		Amount:      decimal.RequireFromString("200"),
		Description: "Airtime purchase",
		Reference:   "VTU-user-1-01H",
		Status:      "pending",
	})
	require.NoError(t, err)
}

func TestPurchaseStoreCreateDuplicateReference(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO purchase_records").
		WillReturnError(&pq.Error{Code: "23505"})

	err := NewPurchaseStore(db).Create(context.Background(), db, PurchaseInput{Reference: "dup", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestPurchaseStoreGetByReferenceForUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`FOR UPDATE OF p`).
		WithArgs("VTU-1").
		WillReturnRows(purchaseRow(sqlmock.NewRows(purchaseRowColumns), "VTU-1", "pending", now))

	rec, err := NewPurchaseStore(db).GetByReferenceForUpdate(context.Background(), db, "VTU-1")
	require.NoError(t, err)
	assert.Equal(t, "VTU-1", rec.Reference)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "200.00", rec.Amount.StringFixed(2))
	assert.Nil(t, rec.Token)
}

func TestPurchaseStoreGetByReferenceNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`WHERE p.reference = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(purchaseRowColumns))

	_, err := NewPurchaseStore(db).GetByReference(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurchaseStoreUpdateOutcomeOnlyPending(t *testing.T) {
	db, mock := newMockDB(t)
	raw := json.RawMessage(`{"code":"000"}`)
	mock.ExpectExec(`(?s)UPDATE purchase_records(.+)WHERE id = \$5 AND status = 'pending'`).
		WithArgs("completed", "delivered", `{"code":"000"}`, "1234-5678", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE purchase_records`).
		WithArgs("failed", "", nil, "", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPurchaseStore(db)
	changed, err := s.UpdateOutcome(context.Background(), db, "rec-1", OutcomeUpdate{
		Status: "completed", ProviderStatus: "delivered", ProviderResponse: raw, Token: "1234-5678",
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateOutcome(context.Background(), db, "rec-1", OutcomeUpdate{Status: "failed"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPurchaseStoreRecordRequery(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)requery_attempts = requery_attempts \+ 1(.+)RETURNING requery_attempts`).
		WithArgs(at, "pending", nil, "rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"requery_attempts"}).AddRow(3))

	attempts, err := NewPurchaseStore(db).RecordRequery(context.Background(), db, "rec-1", "pending", nil, at)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPurchaseStoreUpdateOutcomeKeepsEarlierProviderStatus(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`(?s)provider_status = COALESCE\(NULLIF\(\$2, ''\), provider_status\)(.+)token = COALESCE\(NULLIF\(\$4, ''\), token\)`).
		WithArgs("failed", "", nil, "", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := NewPurchaseStore(db).UpdateOutcome(context.Background(), db, "rec-1", OutcomeUpdate{Status: "failed"})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPurchaseStoreListStalePending(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().Add(-10 * time.Minute)
	created := cutoff.Add(-time.Minute)
	rows := sqlmock.NewRows(purchaseRowColumns)
	purchaseRow(rows, "VTU-1", "pending", created)
	mock.ExpectQuery(`(?s)p.status = 'pending'(.+)p.created_at < \$1(.+)\(p.created_at, p.id::text\) > \(\$2, \$3\)(.+)LIMIT \$4`).
		WithArgs(cutoff, time.Time{}, "", 50).
		WillReturnRows(rows)

	recs, err := NewPurchaseStore(db).ListStalePending(context.Background(), cutoff, models.PageCursor{}, 50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "VTU-1", recs[0].Reference)
}

func TestPurchaseStoreListStalePendingResumesAfterCursor(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().Add(-10 * time.Minute)
	after := models.PageCursor{CreatedAt: cutoff.Add(-time.Hour), ID: "rec-9"}
	mock.ExpectQuery(`(?s)p.created_at < \$1(.+)ORDER BY p.created_at, p.id::text`).
		WithArgs(cutoff, after.CreatedAt, "rec-9", 2).
		WillReturnRows(sqlmock.NewRows(purchaseRowColumns))

	recs, err := NewPurchaseStore(db).ListStalePending(context.Background(), cutoff, after, 2)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPurchaseStoreHistoryAggregates(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SUM\(p.amount\)(.+)p.status = 'completed'`).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("19500.00"))
	mock.ExpectQuery(`(?s)COUNT\(1\)(.+)p.kind = 'purchase' AND p.created_at`).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`(?s)COUNT\(1\)(.+)p.status = 'failed'`).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	s := NewPurchaseStore(db)
	sum, err := s.SumCompletedSince(context.Background(), "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, "19500.00", sum.StringFixed(2))

	count, err := s.CountSince(context.Background(), "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	failed, err := s.CountFailedSince(context.Background(), "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, 6, failed)
}

func TestPurchaseStoreListByUserWithService(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`p.service = \$2 ORDER BY p.created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("user-1", "data", 20, 40).
		WillReturnRows(sqlmock.NewRows(purchaseRowColumns))

	recs, err := NewPurchaseStore(db).ListByUser(context.Background(), "user-1", "data", 20, 40)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
