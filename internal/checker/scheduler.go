package checker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"domainwatch/internal/logging"
	"domainwatch/internal/models"
	"domainwatch/internal/settings"
)

// Passer runs one check pass.
type Passer interface {
	RunPass(ctx context.Context) (models.PassSummary, error)
}

// Scheduler runs check passes on the configured interval. Interval and
// enabled changes only take effect on Start or Restart.
type Scheduler struct {
	monitor  Passer
	settings settings.Provider
	log      *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(monitor Passer, provider settings.Provider, log *zap.Logger) *Scheduler {
	return &Scheduler{
		monitor:  monitor,
		settings: provider,
		log:      log,
	}
}

// Start arms the schedule and runs one pass immediately in the background.
// It does nothing when monitoring is disabled or the schedule is already armed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}
	if !cfg.MonitoringEnabled {
		s.log.Info("monitoring disabled, scheduler not started")
		return nil
	}

	// passes outlive the request that started them
	jobCtx := context.WithoutCancel(ctx)
	cl := logging.NewCronLogger(s.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	interval := time.Duration(cfg.CheckIntervalMinutes) * time.Minute
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.runPass(jobCtx) }))
	c.Start()

	s.cron = c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPass(jobCtx)
	}()

	s.log.Info("scheduler started", zap.Int("check_interval_minutes", cfg.CheckIntervalMinutes))
	return nil
}

// Stop disarms the schedule. A pass already running is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.log.Info("scheduler stopped")
}

// Restart stops the schedule and starts it again with fresh settings.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// RunNow runs one pass immediately, whether monitoring is enabled or not.
// The timer is left untouched.
func (s *Scheduler) RunNow(ctx context.Context) (models.PassSummary, error) {
	return s.monitor.RunPass(ctx)
}

// Status reports the configured settings and whether the schedule is armed.
func (s *Scheduler) Status(ctx context.Context) (models.SchedulerStatus, error) {
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return models.SchedulerStatus{}, err
	}
	s.mu.Lock()
	running := s.cron != nil
	s.mu.Unlock()
	return models.SchedulerStatus{
		MonitoringEnabled:    cfg.MonitoringEnabled,
		CheckIntervalMinutes: cfg.CheckIntervalMinutes,
		IsRunning:            running,
	}, nil
}

// Wait blocks until the startup pass launched by Start has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("check pass panicked", zap.Any("panic", r))
		}
	}()
	if _, err := s.monitor.RunPass(ctx); err != nil {
		s.log.Error("check pass failed", zap.Error(err))
	}
}
