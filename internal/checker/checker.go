package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"domainwatch/internal/models"
	"domainwatch/internal/storage"
)

// DefaultProbeDelay is the pause between two probes of the same worker.
const DefaultProbeDelay = 500 * time.Millisecond

// ErrCheckInProgress is returned when the endpoint is already being checked.
var ErrCheckInProgress = errors.New("check already in progress")

// Store is the storage the monitor reads endpoints from and records checks to.
type Store interface {
	storage.EndpointStore
	CreateCheck(ctx context.Context, check *models.Check) error
}

// EndpointProber reaches one endpoint.
type EndpointProber interface {
	Probe(ctx context.Context, hostname string) Result
}

// Observer is told about every recorded check.
type Observer interface {
	Observe(ctx context.Context, endpoint models.Endpoint, check models.Check)
}

// Options tune how a pass walks the endpoint list.
type Options struct {
	Delay       time.Duration
	Concurrency int
}

// Monitor probes endpoints, records the results and reports them to the
// alert tracker. Passes never overlap.
type Monitor struct {
	store    Store
	prober   EndpointProber
	observer Observer
	inflight *InFlight
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	passMu sync.Mutex
}

// NewMonitor creates a Monitor. observer may be nil.
func NewMonitor(store Store, prober EndpointProber, observer Observer, opts Options, log *zap.Logger) *Monitor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Monitor{
		store:    store,
		prober:   prober,
		observer: observer,
		inflight: NewInFlight(),
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// CheckEndpoint probes one endpoint, records the check and feeds it to the
// observer. It returns ErrCheckInProgress when the endpoint is already being
// probed.
func (m *Monitor) CheckEndpoint(ctx context.Context, endpoint models.Endpoint) (*models.Check, error) {
	release, ok := m.inflight.Acquire(endpoint.ID)
	if !ok {
		return nil, ErrCheckInProgress
	}
	defer release()

	res := m.prober.Probe(ctx, endpoint.Hostname)
	check := &models.Check{
		EndpointID:     endpoint.ID,
		Status:         res.Status,
		ResponseTimeMS: res.ResponseTimeMS,
		StatusCode:     res.StatusCode,
		Error:          res.Error,
		CheckedAt:      m.now().UTC(),
	}
	if err := m.store.CreateCheck(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to record check for %s: %w", endpoint.Hostname, err)
	}
	if m.observer != nil {
		m.observer.Observe(ctx, endpoint, *check)
	}
	return check, nil
}

// RunPass checks every registered endpoint once. Individual failures are
// logged and do not abort the pass.
func (m *Monitor) RunPass(ctx context.Context) (models.PassSummary, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		return models.PassSummary{}, fmt.Errorf("failed to list endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		m.log.Debug("no endpoints to check")
		return models.PassSummary{}, nil
	}

	start := time.Now()
	var checked, up, down atomic.Int64
	record := func(e models.Endpoint) {
		c, err := m.CheckEndpoint(ctx, e)
		if err != nil {
			if errors.Is(err, ErrCheckInProgress) {
				m.log.Debug("skipping endpoint with a check in progress", zap.String("endpoint_id", e.ID))
				return
			}
			m.log.Error("endpoint check failed", zap.String("endpoint_id", e.ID), zap.String("hostname", e.Hostname), zap.Error(err))
			return
		}
		checked.Add(1)
		if c.Status == models.StatusUp {
			up.Add(1)
		} else {
			down.Add(1)
		}
	}

	if m.opts.Concurrency == 1 {
		for i, e := range endpoints {
			if i > 0 && !sleep(ctx, m.opts.Delay) {
				break
			}
			record(e)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.opts.Concurrency)
		for _, e := range endpoints {
			if gctx.Err() != nil {
				break
			}
			e := e
			g.Go(func() error {
				record(e)
				sleep(gctx, m.opts.Delay)
				return nil
			})
		}
		g.Wait()
	}

	summary := models.PassSummary{Checked: int(checked.Load()), Up: int(up.Load()), Down: int(down.Load())}
	m.log.Info("check pass finished",
		zap.Int("checked", summary.Checked),
		zap.Int("up", summary.Up),
		zap.Int("down", summary.Down),
		zap.Duration("took", time.Since(start)))
	return summary, ctx.Err()
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
