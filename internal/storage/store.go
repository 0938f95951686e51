package storage

import (
	"context"
	"errors"
	"time"

	"domainwatch/internal/models"
)

var (
	// ErrDuplicateKey is returned when attempting to create a duplicate resource
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ResponseBodyLimit caps the response body kept on a delivery attempt row.
const ResponseBodyLimit = 1024

// ListChecksParams contains parameters for listing the raw check history of one endpoint
type ListChecksParams struct {
	EndpointID string
	Since      *time.Time
	Limit      int
}

// EndpointStore is the registry of monitored domains.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, endpoint *models.Endpoint) (*models.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]models.Endpoint, error)
}

// CheckStore is the append-only time series of probe results.
type CheckStore interface {
	CreateCheck(ctx context.Context, check *models.Check) error
	ListChecks(ctx context.Context, params ListChecksParams) ([]models.Check, error)

	// SummarizeChecks returns one summary per requested endpoint, with up to
	// recent checks each. All reads happen inside one read transaction.
	SummarizeChecks(ctx context.Context, endpointIDs []string, recent int) (map[string]models.CheckSummary, error)
	// ChecksSince returns every check at or after since, oldest first, grouped by endpoint.
	ChecksSince(ctx context.Context, endpointIDs []string, since time.Time) (map[string][]models.Check, error)
	// ConsecutiveFailures counts trailing down checks since each endpoint's last up.
	ConsecutiveFailures(ctx context.Context, endpointIDs []string) (map[string]int, error)

	DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookStore persists subscriptions and their delivery log.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error)
	// RecordWebhookResult stores the last status of a finished delivery. A
	// success resets the failure count; a failure increments it.
	RecordWebhookResult(ctx context.Context, id string, status *int, success bool, at time.Time) error

	CreateDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListDeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttempt, error)
	DeleteDeliveryAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsStore is a flat key/value table for runtime settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, values map[string]string) error
}

// Storer defines the interface for every storage operation the service needs
type Storer interface {
	EndpointStore
	CheckStore
	WebhookStore
	SettingsStore
	Close() error
}

// TrimBody shortens a response body to ResponseBodyLimit bytes.
func TrimBody(body []byte) string {
	if len(body) > ResponseBodyLimit {
		body = body[:ResponseBodyLimit]
	}
	return string(body)
}
