package uptime

import (
	"context"
	"fmt"
	"time"

	"domainwatch/internal/models"
	"domainwatch/internal/storage"
)

// Store is the subset of storage the aggregator reads from.
type Store interface {
	storage.EndpointStore
	storage.CheckStore
}

// Service computes uptime statistics from recorded checks. The single
// endpoint methods are the batch methods called with one endpoint.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func endpointIDs(endpoints []models.Endpoint) []string {
	ids := make([]string, len(endpoints))
	for i, e := range endpoints {
		ids[i] = e.ID
	}
	return ids
}

// Stats returns the current state of one endpoint.
func (s *Service) Stats(ctx context.Context, endpoint models.Endpoint, heartbeats int) (models.EndpointUptimeState, error) {
	states, err := s.StatsBatch(ctx, []models.Endpoint{endpoint}, heartbeats)
	if err != nil {
		return models.EndpointUptimeState{}, err
	}
	return states[0], nil
}

// StatsBatch returns the state of every endpoint, in input order, reading all
// of them in one round of queries.
func (s *Service) StatsBatch(ctx context.Context, endpoints []models.Endpoint, heartbeats int) ([]models.EndpointUptimeState, error) {
	states := make([]models.EndpointUptimeState, 0, len(endpoints))
	if len(endpoints) == 0 {
		return states, nil
	}
	summaries, err := s.store.SummarizeChecks(ctx, endpointIDs(endpoints), heartbeats)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize checks: %w", err)
	}
	for _, e := range endpoints {
		states = append(states, BuildState(e, summaries[e.ID], heartbeats))
	}
	return states, nil
}

// AllStats returns the state of every registered endpoint.
func (s *Service) AllStats(ctx context.Context, heartbeats int) ([]models.EndpointUptimeState, error) {
	endpoints, err := s.store.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return s.StatsBatch(ctx, endpoints, heartbeats)
}

// ConsecutiveFailures counts trailing down checks of one endpoint.
func (s *Service) ConsecutiveFailures(ctx context.Context, endpointID string) (int, error) {
	counts, err := s.store.ConsecutiveFailures(ctx, []string{endpointID})
	if err != nil {
		return 0, err
	}
	return counts[endpointID], nil
}

// ConsecutiveFailuresBatch counts trailing down checks of every endpoint.
func (s *Service) ConsecutiveFailuresBatch(ctx context.Context, endpoints []models.Endpoint) (map[string]int, error) {
	return s.store.ConsecutiveFailures(ctx, endpointIDs(endpoints))
}

// BucketedHeartbeats returns the bucketed series of each endpoint over the
// lookback window ending now.
func (s *Service) BucketedHeartbeats(ctx context.Context, endpoints []models.Endpoint, buckets int, lookback time.Duration) ([]models.EndpointBuckets, error) {
	out := make([]models.EndpointBuckets, 0, len(endpoints))
	if len(endpoints) == 0 {
		return out, nil
	}
	end := s.now().UTC()
	checks, err := s.store.ChecksSince(ctx, endpointIDs(endpoints), end.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to read checks: %w", err)
	}
	for _, e := range endpoints {
		out = append(out, models.EndpointBuckets{
			EndpointID: e.ID,
			Hostname:   e.Hostname,
			Buckets:    Buckets(checks[e.ID], end, lookback, buckets),
		})
	}
	return out, nil
}

// AllBucketedHeartbeats returns the bucketed series of every endpoint.
func (s *Service) AllBucketedHeartbeats(ctx context.Context, buckets int, lookback time.Duration) ([]models.EndpointBuckets, error) {
	endpoints, err := s.store.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return s.BucketedHeartbeats(ctx, endpoints, buckets, lookback)
}
