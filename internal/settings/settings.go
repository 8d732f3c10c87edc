// Package settings serves the app-wide switches (fraud checks, maintenance
// mode) as an immutable snapshot. Purchases read one snapshot per request so
// a toggle never applies halfway through an orchestration.
package settings

import (
	"context"
	"sync"
	"time"

	"prepaid/internal/db"
	"prepaid/internal/models"
	"prepaid/internal/store"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Snapshot struct {
	FraudChecksEnabled bool      `json:"fraud_checks_enabled"`
	MaintenanceMode    bool      `json:"maintenance_mode"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context) (models.AppSettings, error)
	Update(ctx context.Context, tx store.Execer, fraudChecksEnabled, maintenanceMode bool) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
}

// Invalidator fans invalidations out to other instances.
type Invalidator interface {
	Publish(ctx context.Context) error
	Subscribe(ctx context.Context, onInvalidate func()) error
}

type Service struct {
	txRunner    db.TxRunner
	store       Store
	audit       AuditStore
	invalidator Invalidator
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	cached  *Snapshot
	expires time.Time
	// gen moves on every Invalidate; a read that straddles one is not cached.
	gen uint64
}

// NewService builds the settings service. invalidator may be nil, in which
// case only the local TTL bounds staleness.
func NewService(txRunner db.TxRunner, settingsStore Store, audit AuditStore, invalidator Invalidator, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		txRunner:    txRunner,
		store:       settingsStore,
		audit:       audit,
		invalidator: invalidator,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Before(s.expires) {
		snap := *s.cached
		s.mu.Unlock()
		return snap, nil
	}
	gen := s.gen
	s.mu.Unlock()

	row, err := s.store.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		FraudChecksEnabled: row.FraudChecksEnabled,
		MaintenanceMode:    row.MaintenanceMode,
		UpdatedAt:          row.UpdatedAt,
	}
	s.mu.Lock()
	if s.gen == gen {
		s.cached = &snap
		s.expires = s.now().Add(s.ttl)
	}
	s.mu.Unlock()
	return snap, nil
}

func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

func (s *Service) Update(ctx context.Context, actorID string, fraudChecksEnabled, maintenanceMode bool) (Snapshot, error) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.Update(ctx, tx, fraudChecksEnabled, maintenanceMode); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    actorID,
			Action:     store.AuditSettingsUpdated,
			EntityType: "app_settings",
			EntityID:   "1",
			Data: map[string]any{
				"fraud_checks_enabled": fraudChecksEnabled,
				"maintenance_mode":     maintenanceMode,
			},
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.Invalidate()
	if s.invalidator != nil {
		if err := s.invalidator.Publish(ctx); err != nil {
			s.logger.Warn("settings invalidation publish failed", zap.Error(err))
		}
	}
	return s.Snapshot(ctx)
}

// Listen blocks, dropping the cached snapshot whenever another instance
// publishes a change. It returns immediately without an invalidator.
func (s *Service) Listen(ctx context.Context) error {
	if s.invalidator == nil {
		return nil
	}
	return s.invalidator.Subscribe(ctx, s.Invalidate)
}
