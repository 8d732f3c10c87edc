package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		_ = sqlDB.Close()
	})
	return sqlx.NewDb(sqlDB, "sqlmock"), mock
}

var purchaseRowColumns = []string{
	"id", "wallet_id", "user_id", "kind", "service", "amount", "description",
	"reference", "status", "provider_status", "provider_response", "token",
	"requery_attempts", "last_requery_at", "requires_manual_review",
	"created_at", "updated_at",
}

func purchaseRow(rows *sqlmock.Rows, reference, status string, created time.Time) *sqlmock.Rows {
	return rows.AddRow(
		"rec-1", "wallet-1", "user-1", "purchase", "airtime", "200.00", "Airtime purchase",
		reference, status, nil, []byte(`{}`), nil,
		0, nil, false,
		created, created,
	)
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
