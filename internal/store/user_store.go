package store

import (
	"context"
	"time"
)

// UserStore is a read-only view over accounts owned by the registration
// system.
type UserStore struct {
	db DB
}

type UserProfile struct {
	ID         string    `db:"id"`
	IsVerified bool      `db:"is_verified"`
	CreatedAt  time.Time `db:"created_at"`
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	var row UserProfile
	err := s.db.GetContext(ctx, &row, `SELECT id, is_verified, created_at FROM users WHERE id = $1`, userID)
	if err != nil {
		return UserProfile{}, notFound(err)
	}
	return row, nil
}

func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM users WHERE id = $1`, userID)
	return count > 0, err
}
