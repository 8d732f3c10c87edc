package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"prepaid/internal/config"
	"prepaid/internal/metrics"
	"prepaid/internal/models"
	"prepaid/internal/provider"
	"prepaid/internal/services"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Requerier interface {
	Requery(ctx context.Context, reference string) (provider.Result, error)
}

type PendingLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, after models.PageCursor, limit int) ([]models.PurchaseRecord, error)
}

type Stats struct {
	Checked      int `json:"checked"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

type Sweeper struct {
	lister      PendingLister
	requerier   Requerier
	finalizer   Finalizer
	maxAttempts int
	concurrency int
	batchSize   int
	logger      *zap.Logger
	now         func() time.Time
}

func NewSweeper(lister PendingLister, requerier Requerier, finalizer Finalizer, cfg config.SweepConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{
		lister:      lister,
		requerier:   requerier,
		finalizer:   finalizer,
		maxAttempts: cfg.MaxAttempts,
		concurrency: concurrency,
		batchSize:   batch,
		logger:      logger,
		now:         time.Now,
	}
}

// Run requeries every pending purchase older than maxAge, listing them in
// pages of batchSize. A failing item is counted in Errors and the rest of the
// sweep still runs. Records created after the sweep's cutoff wait for the
// next run.
func (s *Sweeper) Run(ctx context.Context, maxAge time.Duration) (Stats, error) {
	cutoff := s.now().Add(-maxAge)

	var (
		mu    sync.Mutex
		stats Stats
		after models.PageCursor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	var err error
	for gctx.Err() == nil {
		var records []models.PurchaseRecord
		records, err = s.lister.ListStalePending(gctx, cutoff, after, s.batchSize)
		if err != nil {
			break
		}
		for _, record := range records {
			record := record
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result := s.check(gctx, record)
				metrics.SweepItemsTotal.WithLabelValues(result).Inc()
				mu.Lock()
				defer mu.Unlock()
				stats.Checked++
				switch result {
				case models.StatusCompleted:
					stats.Completed++
				case models.StatusFailed:
					stats.Failed++
				case models.StatusPending:
					stats.StillPending++
				default:
					stats.Errors++
				}
				return nil
			})
		}
		if len(records) < s.batchSize {
			break
		}
		after = records[len(records)-1].Cursor()
	}
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}
	if err == nil {
		err = ctx.Err()
	}
	s.logger.Info("requery sweep finished",
		zap.Duration("max_age", maxAge),
		zap.Int("checked", stats.Checked),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Int("still_pending", stats.StillPending),
		zap.Int("errors", stats.Errors))
	return stats, err
}

const resultError = "error"

func (s *Sweeper) check(ctx context.Context, record models.PurchaseRecord) string {
	logger := s.logger.With(zap.String("reference", record.Reference))

	var decision services.Decision
	res, err := s.requerier.Requery(ctx, record.Reference)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		// The provider never saw this reference, so nothing was delivered.
		decision = services.Decision{
			Outcome:        provider.OutcomeFailed,
			ProviderStatus: "not_found",
			Source:         services.SourceRequery,
		}
	case err != nil:
		logger.Warn("requery failed", zap.Error(err))
		return resultError
	default:
		decision = services.Decision{
			Outcome:        res.Outcome(),
			ProviderStatus: res.Status,
			Token:          res.Token,
			Raw:            res.Raw,
			Source:         services.SourceRequery,
			CountAttempt:   true,
			AttemptCap:     s.maxAttempts,
		}
		if decision.ProviderStatus == "" {
			decision.ProviderStatus = res.Code
		}
	}

	settled, err := s.finalizer.Finalize(ctx, record.Reference, decision)
	if err != nil {
		logger.Error("requery finalize failed", zap.Error(err))
		return resultError
	}
	if settled.Flagged {
		logger.Warn("purchase still pending after requery limit, flagged for review",
			zap.Int("attempts", settled.Record.RequeryAttempts))
	}
	return settled.Record.Status
}

// Scheduler runs the sweep on a fixed interval until its context ends.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

func NewScheduler(sweeper *Sweeper, cfg config.SweepConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{sweeper: sweeper, interval: cfg.Interval, maxAge: cfg.MaxAge, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("requery scheduler disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("requery scheduler started", zap.Duration("interval", s.interval), zap.Duration("max_age", s.maxAge))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("requery scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.sweeper.Run(ctx, s.maxAge); err != nil && ctx.Err() == nil {
				s.logger.Error("requery sweep failed", zap.Error(err))
			}
		}
	}
}
