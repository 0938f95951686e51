// Package settings reads the runtime monitoring settings. Values are stored
// as flat key/value strings and parsed on every Load, so changes made through
// the store are visible on the next check pass or dispatch.
package settings

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"domainwatch/internal/storage"
)

// Keys of the settings table.
const (
	KeyMonitoringEnabled    = "monitoring_enabled"
	KeyCheckIntervalMinutes = "check_interval_minutes"
	KeyAlertThreshold       = "alert_threshold"

	KeyAlertsEnabled   = "alerts_enabled"
	KeyAlertRecipients = "alert_recipients"
	KeyEmailFrom       = "email_from"
	KeySendGridAPIKey  = "sendgrid_api_key"

	KeySlackEnabled    = "slack_enabled"
	KeySlackWebhookURL = "slack_webhook_url"
	KeySlackEvents     = "slack_events"

	KeySignalEnabled    = "signal_enabled"
	KeySignalAPIURL     = "signal_api_url"
	KeySignalSender     = "signal_sender"
	KeySignalRecipients = "signal_recipients"
	KeySignalEvents     = "signal_events"
)

const (
	DefaultCheckIntervalMinutes = 5
	DefaultAlertThreshold       = 3
)

// Settings is one parsed snapshot of the settings store.
type Settings struct {
	MonitoringEnabled    bool
	CheckIntervalMinutes int
	AlertThreshold       int

	Email  Email
	Slack  Slack
	Signal Signal
}

// Email configures the SendGrid channel.
type Email struct {
	AlertsEnabled bool
	Recipients    []string
	From          string
	APIKey        string
}

// Slack configures the chat webhook channel.
type Slack struct {
	Enabled    bool
	WebhookURL string
	Events     []string
}

// Signal configures the messaging API channel.
type Signal struct {
	Enabled    bool
	APIURL     string
	Sender     string
	Recipients []string
	Events     []string
}

// Allows reports whether eventType passes an allow-list. An empty list allows
// every event.
func Allows(allowed []string, eventType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, e := range allowed {
		if e == eventType {
			return true
		}
	}
	return false
}

// Provider returns the current settings.
type Provider interface {
	Load(ctx context.Context) (Settings, error)
}

// StoreProvider reads settings from a storage.SettingsStore on every call.
type StoreProvider struct {
	Store storage.SettingsStore
}

// Load implements Provider.
func (p StoreProvider) Load(ctx context.Context) (Settings, error) {
	values, err := p.Store.GetSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return Parse(values), nil
}

// Static is a Provider that always returns the same snapshot.
type Static Settings

// Load implements Provider.
func (s Static) Load(context.Context) (Settings, error) { return Settings(s), nil }

// Parse builds a Settings snapshot, applying defaults for missing or
// malformed values.
func Parse(values map[string]string) Settings {
	s := Settings{
		MonitoringEnabled:    parseBool(values[KeyMonitoringEnabled], true),
		CheckIntervalMinutes: parsePositive(values[KeyCheckIntervalMinutes], DefaultCheckIntervalMinutes),
		AlertThreshold:       parsePositive(values[KeyAlertThreshold], DefaultAlertThreshold),
		Email: Email{
			AlertsEnabled: parseBool(values[KeyAlertsEnabled], false),
			Recipients:    parseList(values[KeyAlertRecipients]),
			From:          strings.TrimSpace(values[KeyEmailFrom]),
			APIKey:        strings.TrimSpace(values[KeySendGridAPIKey]),
		},
		Slack: Slack{
			Enabled:    parseBool(values[KeySlackEnabled], false),
			WebhookURL: strings.TrimSpace(values[KeySlackWebhookURL]),
			Events:     parseList(values[KeySlackEvents]),
		},
		Signal: Signal{
			Enabled:    parseBool(values[KeySignalEnabled], false),
			APIURL:     strings.TrimRight(strings.TrimSpace(values[KeySignalAPIURL]), "/"),
			Sender:     strings.TrimSpace(values[KeySignalSender]),
			Recipients: parseList(values[KeySignalRecipients]),
			Events:     parseList(values[KeySignalEvents]),
		},
	}
	return s
}

func parseBool(v string, fallback bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		return b
	}
	return fallback
}

func parsePositive(v string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func parseList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFile reads a YAML document of settings. Scalars are stored as their
// string form and sequences are joined with commas, matching Parse.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		switch tv := v.(type) {
		case nil:
			values[k] = ""
		case []any:
			items := make([]string, 0, len(tv))
			for _, item := range tv {
				items = append(items, fmt.Sprint(item))
			}
			values[k] = strings.Join(items, ",")
		case map[string]any:
			return nil, fmt.Errorf("setting %q must be a scalar or a list", k)
		default:
			values[k] = fmt.Sprint(tv)
		}
	}
	return values, nil
}
