package store

import (
	"context"
	"database/sql"
	"errors"

	"prepaid/internal/models"
)

// SettingsStore reads and writes the singleton app_settings row (id = 1).
type SettingsStore struct {
	db DB
}

func NewSettingsStore(db DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context) (models.AppSettings, error) {
	var row models.AppSettings
	err := s.db.GetContext(ctx, &row, `
		SELECT fraud_checks_enabled, maintenance_mode, updated_at
		FROM app_settings
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO app_settings (id, fraud_checks_enabled, maintenance_mode)
			VALUES (1, TRUE, FALSE)
			ON CONFLICT (id) DO NOTHING
		`); err != nil {
			return models.AppSettings{}, err
		}
		return s.Get(ctx)
	}
	if err != nil {
		return models.AppSettings{}, err
	}
	return row, nil
}

func (s *SettingsStore) Update(ctx context.Context, tx Execer, fraudChecksEnabled, maintenanceMode bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO app_settings (id, fraud_checks_enabled, maintenance_mode)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET fraud_checks_enabled = EXCLUDED.fraud_checks_enabled,
		    maintenance_mode = EXCLUDED.maintenance_mode,
		    updated_at = NOW()
	`, fraudChecksEnabled, maintenanceMode)
	return err
}
