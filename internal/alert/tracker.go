// Package alert decides when an outage is worth notifying about. Each endpoint
// is either OK or ALERTED; at most one outage notification is sent per
// episode, and a recovery notification closes it.
package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"domainwatch/internal/models"
	"domainwatch/internal/notify"
	"domainwatch/internal/settings"
)

// FailureCounter returns the trailing down streak of endpoints.
type FailureCounter interface {
	ConsecutiveFailures(ctx context.Context, endpointID string) (int, error)
	ConsecutiveFailuresBatch(ctx context.Context, endpoints []models.Endpoint) (map[string]int, error)
}

// Dispatcher fans an event out to the notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, data map[string]any) error
}

// Tracker holds the alert state of every endpoint.
type Tracker struct {
	counter    FailureCounter
	settings   settings.Provider
	dispatcher Dispatcher
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	alerted map[string]time.Time // by endpoint id, when the outage alert fired
}

// NewTracker creates a Tracker with every endpoint OK.
func NewTracker(counter FailureCounter, provider settings.Provider, dispatcher Dispatcher, log *zap.Logger) *Tracker {
	return &Tracker{
		counter:    counter,
		settings:   provider,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
		alerted:    make(map[string]time.Time),
	}
}

// Observe applies one recorded check to the endpoint's state.
func (t *Tracker) Observe(ctx context.Context, endpoint models.Endpoint, check models.Check) {
	log := t.log.With(zap.String("endpoint_id", endpoint.ID), zap.String("hostname", endpoint.Hostname))
	if check.Status == models.StatusUp {
		t.observeUp(ctx, endpoint, check, log)
		return
	}

	cfg, err := t.settings.Load(ctx)
	if err != nil {
		log.Error("unable to read alert threshold", zap.Error(err))
		return
	}
	failures, err := t.counter.ConsecutiveFailures(ctx, endpoint.ID)
	if err != nil {
		log.Error("unable to count consecutive failures", zap.Error(err))
		return
	}
	if failures < cfg.AlertThreshold {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.alerted[endpoint.ID]; ok {
		return
	}

	data := map[string]any{
		"endpoint_id":          endpoint.ID,
		"hostname":             endpoint.Hostname,
		"consecutive_failures": failures,
		"threshold":            cfg.AlertThreshold,
		"checked_at":           check.CheckedAt.UTC().Format(time.RFC3339),
	}
	if check.Error != nil {
		data["error"] = *check.Error
	}
	if check.StatusCode != nil {
		data["status_code"] = *check.StatusCode
	}
	if err := t.dispatcher.Dispatch(ctx, notify.EventUptimeDown, data); err != nil {
		// stay OK so the next down check tries again
		log.Error("failed to dispatch outage alert", zap.Error(err))
		return
	}
	t.alerted[endpoint.ID] = t.now()
	log.Warn("endpoint down, alert sent", zap.Int("consecutive_failures", failures))
}

func (t *Tracker) observeUp(ctx context.Context, endpoint models.Endpoint, check models.Check, log *zap.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since, ok := t.alerted[endpoint.ID]
	if !ok {
		return
	}
	delete(t.alerted, endpoint.ID)

	now := t.now()
	data := map[string]any{
		"endpoint_id":      endpoint.ID,
		"hostname":         endpoint.Hostname,
		"down_since":       since.UTC().Format(time.RFC3339),
		"downtime":         strings.TrimSpace(humanize.RelTime(since, now, "", "")),
		"downtime_seconds": int64(now.Sub(since).Seconds()),
		"checked_at":       check.CheckedAt.UTC().Format(time.RFC3339),
	}
	if check.ResponseTimeMS != nil {
		data["response_time_ms"] = *check.ResponseTimeMS
	}
	if err := t.dispatcher.Dispatch(ctx, notify.EventUptimeRecovered, data); err != nil {
		log.Error("failed to dispatch recovery notice", zap.Error(err))
	}
	log.Info("endpoint recovered", zap.Duration("downtime", now.Sub(since)))
}

// Restore marks every endpoint whose stored failure streak already reaches the
// threshold as ALERTED, so an outage that outlived a restart is not announced
// twice. It returns how many endpoints were marked.
func (t *Tracker) Restore(ctx context.Context, endpoints []models.Endpoint) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}
	cfg, err := t.settings.Load(ctx)
	if err != nil {
		return 0, err
	}
	counts, err := t.counter.ConsecutiveFailuresBatch(ctx, endpoints)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	restored := 0
	for _, e := range endpoints {
		if counts[e.ID] >= cfg.AlertThreshold {
			if _, ok := t.alerted[e.ID]; !ok {
				t.alerted[e.ID] = now
				restored++
			}
		}
	}
	return restored, nil
}

// Alerted reports whether an outage alert is outstanding for endpointID.
func (t *Tracker) Alerted(endpointID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.alerted[endpointID]
	return ok
}
