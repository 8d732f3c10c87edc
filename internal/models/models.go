package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindFunding  = "funding"
	KindPurchase = "purchase"

	ServiceAirtime     = "airtime"
	ServiceData        = "data"
	ServiceElectricity = "electricity"
	ServiceFunding     = "funding"

	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type Wallet struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

type PurchaseRecord struct {
	ID                   string          `db:"id" json:"id"`
	WalletID             string          `db:"wallet_id" json:"wallet_id"`
	UserID               string          `db:"user_id" json:"user_id"`
	Kind                 string          `db:"kind" json:"kind"`
	Service              string          `db:"service" json:"service"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	Description          string          `db:"description" json:"description"`
	Reference            string          `db:"reference" json:"reference"`
	Status               string          `db:"status" json:"status"`
	ProviderStatus       *string         `db:"provider_status" json:"provider_status,omitempty"`
	ProviderResponse     json.RawMessage `db:"provider_response" json:"provider_response,omitempty"`
	Token                *string         `db:"token" json:"token,omitempty"`
	RequeryAttempts      int             `db:"requery_attempts" json:"requery_attempts"`
	LastRequeryAt        *time.Time      `db:"last_requery_at" json:"last_requery_at,omitempty"`
	RequiresManualReview bool            `db:"requires_manual_review" json:"requires_manual_review"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// PageCursor is the (created_at, id) of the last row of a keyset page. The
// zero value starts from the first row.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}

// Cursor returns the position just after r.
func (r PurchaseRecord) Cursor() PageCursor {
	return PageCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

type AppSettings struct {
	FraudChecksEnabled bool      `db:"fraud_checks_enabled" json:"fraud_checks_enabled"`
	MaintenanceMode    bool      `db:"maintenance_mode" json:"maintenance_mode"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	WalletID     string          `db:"wallet_id" json:"wallet_id"`
	Reference    string          `db:"reference" json:"reference"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	Description  string          `db:"description" json:"description"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
