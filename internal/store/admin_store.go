package store

import (
	"context"
	"database/sql"
	"errors"
)

// Admin roles. Super admins implicitly hold all of them.
const (
	RoleOperator = "CanOperatePurchases"
	RoleFunding  = "CanFundWallets"
	RoleAuditor  = "CanViewAudit"
)

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// IsAdmin reports whether userID is registered as an admin and, if so,
// whether it is a super admin.
func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (isAdmin, isSuper bool, err error) {
	err = s.db.GetContext(ctx, &isSuper, `SELECT is_super FROM admins WHERE user_id = $1`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, false, nil
	case err != nil:
		return false, false, err
	}
	return true, isSuper, nil
}

func (s *AdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var granted bool
	err := s.db.GetContext(ctx, &granted, `
		SELECT EXISTS (
			SELECT 1 FROM admin_roles WHERE admin_user_id = $1 AND role = $2
		)
	`, userID, role)
	return granted, err
}

// HasAnyAdmin gates the one-time super admin bootstrap.
func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM admins)`)
	return exists, err
}

// CreateAdmin is idempotent: promoting an existing admin leaves its super
// flag untouched.
func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string, isSuper bool, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper, createdBy)
	return err
}

func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminUserID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (admin_user_id, role) DO NOTHING
	`, adminUserID, role)
	return err
}
