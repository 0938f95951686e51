package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mapStore map[string]string

func (m mapStore) GetSettings(context.Context) (map[string]string, error) { return m, nil }

func (m mapStore) PutSettings(_ context.Context, values map[string]string) error {
	for k, v := range values {
		m[k] = v
	}
	return nil
}

func TestParseDefaults(t *testing.T) {
	got := Parse(nil)
	want := Settings{
		MonitoringEnabled:    true,
		CheckIntervalMinutes: DefaultCheckIntervalMinutes,
		AlertThreshold:       DefaultAlertThreshold,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValues(t *testing.T) {
	got := Parse(map[string]string{
		KeyMonitoringEnabled:    "false",
		KeyCheckIntervalMinutes: "10",
		KeyAlertThreshold:       "0",
		KeyAlertsEnabled:        "true",
		KeyAlertRecipients:      "ops@example.com, , oncall@example.com",
		KeySlackEnabled:         "1",
		KeySlackWebhookURL:      " https://hooks.slack.com/services/x ",
		KeySlackEvents:          "uptime.down,uptime.recovered",
		KeySignalAPIURL:         "http://signal:8080/",
	})
	if got.MonitoringEnabled {
		t.Error("expected monitoring disabled")
	}
	if got.CheckIntervalMinutes != 10 {
		t.Errorf("expected interval 10, got %d", got.CheckIntervalMinutes)
	}
	if got.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("expected non-positive threshold to fall back, got %d", got.AlertThreshold)
	}
	if diff := cmp.Diff([]string{"ops@example.com", "oncall@example.com"}, got.Email.Recipients); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	if got.Slack.WebhookURL != "https://hooks.slack.com/services/x" {
		t.Errorf("expected trimmed slack url, got %q", got.Slack.WebhookURL)
	}
	if got.Signal.APIURL != "http://signal:8080" {
		t.Errorf("expected trailing slash removed, got %q", got.Signal.APIURL)
	}
}

func TestAllows(t *testing.T) {
	if !Allows(nil, "uptime.down") {
		t.Error("empty allow-list should allow everything")
	}
	if !Allows([]string{"uptime.down"}, "uptime.down") {
		t.Error("listed event should be allowed")
	}
	if Allows([]string{"uptime.down"}, "domain.expiring") {
		t.Error("unlisted event should be rejected")
	}
}

func TestStoreProviderRereads(t *testing.T) {
	store := mapStore{KeyAlertThreshold: "2"}
	p := StoreProvider{Store: store}

	s, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AlertThreshold != 2 {
		t.Fatalf("expected threshold 2, got %d", s.AlertThreshold)
	}

	store.PutSettings(context.Background(), map[string]string{KeyAlertThreshold: "5"})
	s, _ = p.Load(context.Background())
	if s.AlertThreshold != 5 {
		t.Errorf("expected change to be picked up, got %d", s.AlertThreshold)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := `
monitoring_enabled: true
check_interval_minutes: 2
alert_recipients:
  - ops@example.com
  - dev@example.com
slack_webhook_url: https://hooks.slack.com/services/abc
signal_sender:
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := map[string]string{
		"monitoring_enabled":     "true",
		"check_interval_minutes": "2",
		"alert_recipients":       "ops@example.com,dev@example.com",
		"slack_webhook_url":      "https://hooks.slack.com/services/abc",
		"signal_sender":          "",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFile mismatch (-want +got):\n%s", diff)
	}

	s := Parse(got)
	if s.CheckIntervalMinutes != 2 || len(s.Email.Recipients) != 2 {
		t.Errorf("unexpected parsed settings: %+v", s)
	}
}

func TestLoadFileRejectsNested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	os.WriteFile(path, []byte("slack:\n  enabled: true\n"), 0o644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for nested mapping")
	}
}
