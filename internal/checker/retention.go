package checker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"domainwatch/internal/logging"
)

// RetentionStore deletes rows older than a cutoff.
type RetentionStore interface {
	DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDeliveryAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper prunes check history and the webhook delivery log every hour.
type Sweeper struct {
	store   RetentionStore
	keep    time.Duration
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper keeping days of history. Zero or negative
// days disables sweeping.
func NewSweeper(store RetentionStore, days int, timeout time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		keep:    time.Duration(days) * 24 * time.Hour,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Sweep deletes everything older than the retention window. It is bounded by
// the sweep timeout.
func (s *Sweeper) Sweep(ctx context.Context) (checks, deliveries int64, err error) {
	if s.keep <= 0 {
		return 0, 0, nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	cutoff := s.now().UTC().Add(-s.keep)

	checks, err = s.store.DeleteChecksBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retention sweep of checks: %w", err)
	}
	deliveries, err = s.store.DeleteDeliveryAttemptsBefore(ctx, cutoff)
	if err != nil {
		return checks, 0, fmt.Errorf("retention sweep of deliveries: %w", err)
	}
	return checks, deliveries, nil
}

// Start schedules an hourly sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil || s.keep <= 0 {
		return nil
	}
	jobCtx := context.WithoutCancel(ctx)
	cl := logging.NewCronLogger(s.log)
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc("@hourly", func() { s.run(jobCtx) }); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("retention sweeper started", zap.Duration("keep", s.keep))
	return nil
}

// Stop cancels the hourly schedule.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Sweeper) run(ctx context.Context) {
	checks, deliveries, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("retention sweep failed", zap.Error(err))
		return
	}
	s.log.Info("retention sweep finished",
		zap.Int64("checks_deleted", checks),
		zap.Int64("deliveries_deleted", deliveries))
}
