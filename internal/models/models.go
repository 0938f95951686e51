package models

import "time"

// CheckStatus is the outcome of a single probe.
type CheckStatus string

const (
	StatusUp      CheckStatus = "up"
	StatusDown    CheckStatus = "down"
	StatusUnknown CheckStatus = "unknown"
)

// HeartbeatStatus is one slot of a heartbeat series.
type HeartbeatStatus string

const (
	HeartbeatUp      HeartbeatStatus = "up"
	HeartbeatDown    HeartbeatStatus = "down"
	HeartbeatPartial HeartbeatStatus = "partial"
	HeartbeatNone    HeartbeatStatus = "none"
)

// Endpoint is a monitored domain.
type Endpoint struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
}

// Check is the immutable result of one probe against an Endpoint.
type Check struct {
	ID             int64       `json:"id"`
	EndpointID     string      `json:"endpoint_id"`
	Status         CheckStatus `json:"status"`
	ResponseTimeMS *int64      `json:"response_time_ms"` // null for down checks
	StatusCode     *int        `json:"status_code"`      // null on transport errors
	Error          *string     `json:"error"`
	CheckedAt      time.Time   `json:"checked_at"`
}

// CheckSummary holds the raw per-endpoint counters the aggregator turns into
// an EndpointUptimeState. Recent is ordered newest first.
type CheckSummary struct {
	EndpointID          string
	TotalChecks         int
	SuccessfulChecks    int
	AvgResponseTimeMS   *float64
	ConsecutiveFailures int
	Recent              []Check
}

// Heartbeat is one slot of the fixed-length recent history.
type Heartbeat struct {
	Status HeartbeatStatus `json:"status"`
}

// EndpointUptimeState is derived on read, never stored.
type EndpointUptimeState struct {
	EndpointID          string      `json:"endpoint_id"`
	Hostname            string      `json:"hostname"`
	TotalChecks         int         `json:"total_checks"`
	SuccessfulChecks    int         `json:"successful_checks"`
	UptimePercentage    float64     `json:"uptime_percentage"`
	AvgResponseTimeMS   *int64      `json:"avg_response_time_ms"`
	CurrentStatus       CheckStatus `json:"current_status"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastCheckedAt       *time.Time  `json:"last_checked_at"`
	Heartbeats          []Heartbeat `json:"heartbeats"`
}

// HeartbeatBucket aggregates every check inside [Start, End).
type HeartbeatBucket struct {
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	Status            HeartbeatStatus `json:"status"`
	UpCount           int             `json:"up_count"`
	DownCount         int             `json:"down_count"`
	AvgResponseTimeMS *int64          `json:"avg_response_time_ms"`
}

// EndpointBuckets is the bucketed heartbeat series of one endpoint.
type EndpointBuckets struct {
	EndpointID string            `json:"endpoint_id"`
	Hostname   string            `json:"hostname"`
	Buckets    []HeartbeatBucket `json:"buckets"`
}

// PassSummary is returned by a forced check pass.
type PassSummary struct {
	Checked int `json:"checked"`
	Up      int `json:"up"`
	Down    int `json:"down"`
}

// SchedulerStatus reports the monitoring loop state.
type SchedulerStatus struct {
	MonitoringEnabled    bool `json:"monitoring_enabled"`
	CheckIntervalMinutes int  `json:"check_interval_minutes"`
	IsRunning            bool `json:"is_running"`
}

// Webhook is an outbound subscription for one or more event types.
type Webhook struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Events         []string   `json:"events"`
	Enabled        bool       `json:"enabled"`
	LastStatus     *int       `json:"last_status"`
	FailureCount   int        `json:"failure_count"`
	LastDeliveryAt *time.Time `json:"last_delivery_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DeliveryAttempt is one logged try of a webhook payload.
type DeliveryAttempt struct {
	ID             int64     `json:"id"`
	WebhookID      string    `json:"webhook_id"`
	DeliveryID     string    `json:"delivery_id"`
	EventType      string    `json:"event_type"`
	Payload        string    `json:"payload"`
	ResponseStatus *int      `json:"response_status"`
	ResponseBody   string    `json:"response_body"`
	Success        bool      `json:"success"`
	AttemptNumber  int       `json:"attempt_number"`
	Error          *string   `json:"error"`
	OccurredAt     time.Time `json:"occurred_at"`
}
