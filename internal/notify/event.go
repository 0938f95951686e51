// Package notify delivers events to the configured notification channels:
// signed webhooks, Slack, a Signal REST gateway and SendGrid email.
package notify

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Event types.
const (
	EventUptimeDown      = "uptime.down"
	EventUptimeRecovered = "uptime.recovered"
	EventDomainExpiring  = "domain.expiring"
	EventDomainExpired   = "domain.expired"
	EventDomainChanged   = "domain.changed"
	EventWebhookTest     = "webhook.test"
)

// EventTypes lists every event a subscription may ask for.
var EventTypes = []string{
	EventUptimeDown,
	EventUptimeRecovered,
	EventDomainExpiring,
	EventDomainExpired,
	EventDomainChanged,
	EventWebhookTest,
}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t string) bool {
	return slices.Contains(EventTypes, t)
}

// Event is an immutable notification. It is serialized as the webhook body.
type Event struct {
	Type      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an Event. The data map is copied.
func NewEvent(eventType string, data map[string]any, at time.Time) Event {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Event{Type: eventType, Timestamp: at.UTC(), Data: copied}
}

// Payload returns the exact bytes that are sent and signed.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Title is a short human readable summary used by the chat and email channels.
func (e Event) Title() string {
	host, _ := e.Data["hostname"].(string)
	if host == "" {
		host, _ = e.Data["domain"].(string)
	}
	switch e.Type {
	case EventUptimeDown:
		return host + " is down"
	case EventUptimeRecovered:
		return host + " is back up"
	case EventDomainExpiring:
		return host + " expires soon"
	case EventDomainExpired:
		return host + " has expired"
	case EventDomainChanged:
		return host + " registration changed"
	case EventWebhookTest:
		return "Test notification"
	}
	return e.Type
}

// Field is one rendered data entry.
type Field struct {
	Name  string
	Value string
}

// Fields renders the event data sorted by key.
func (e Event) Fields() []Field {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Name: k, Value: fmt.Sprint(e.Data[k])})
	}
	return fields
}
