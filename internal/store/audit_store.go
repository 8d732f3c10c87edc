package store

import (
	"context"
	"encoding/json"
	"time"
)

const (
	ActorSystem = "system"

	AuditPurchaseFinalized = "purchase_finalized"
	AuditRefund            = "refund"
	AuditManualReview      = "manual_review_flagged"
	AuditWalletFunded      = "wallet_funded"
	AuditWalletProvisioned = "wallet_provisioned"
	AuditSettingsUpdated   = "settings_updated"
	AuditRequeryTriggered  = "requery_triggered"
	AuditAdminPromoted     = "admin_promoted"
	AuditRoleGranted       = "role_granted"
)

type AuditStore struct {
	db DB
}

type AuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Data       map[string]any
}

type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	ActorID    *string         `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Data       json.RawMessage `db:"data" json:"data"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, entry AuditEntry) error {
	data := []byte("{}")
	if len(entry.Data) > 0 {
		encoded, err := json.Marshal(entry.Data)
		if err != nil {
			return err
		}
		data = encoded
	}
	actor := entry.ActorID
	if actor == "" {
		actor = ActorSystem
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
	`, actor, entry.Action, entry.EntityType, entry.EntityID, string(data))
	return err
}

func (s *AuditStore) List(ctx context.Context, action string, limit, offset int) ([]AuditLog, error) {
	var rows []AuditLog
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, action, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
