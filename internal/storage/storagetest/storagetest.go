// Package storagetest holds the behaviour every storage.Storer must share.
// Each backend's tests call Run with a constructor for an empty store.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"domainwatch/internal/models"
	"domainwatch/internal/storage"
)

// Run exercises s, which must be empty, against the storage contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storer) {
	t.Run("Endpoints", func(t *testing.T) { testEndpoints(t, newStore(t)) })
	t.Run("Checks", func(t *testing.T) { testChecks(t, newStore(t)) })
	t.Run("FailureStreakTies", func(t *testing.T) { testFailureStreakTies(t, newStore(t)) })
	t.Run("Webhooks", func(t *testing.T) { testWebhooks(t, newStore(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func mustEndpoint(t *testing.T, s storage.Storer, host string) *models.Endpoint {
	t.Helper()
	e, err := s.CreateEndpoint(context.Background(), &models.Endpoint{Hostname: host, CreatedAt: base})
	if err != nil {
		t.Fatalf("CreateEndpoint(%s): %v", host, err)
	}
	return e
}

func mustCheck(t *testing.T, s storage.Storer, endpointID string, status models.CheckStatus, ms int64, at time.Time) models.Check {
	t.Helper()
	c := models.Check{EndpointID: endpointID, Status: status, CheckedAt: at}
	if status == models.StatusUp {
		c.ResponseTimeMS = int64p(ms)
		c.StatusCode = intp(200)
	} else {
		msg := "HTTP 503"
		c.StatusCode = intp(503)
		c.Error = &msg
	}
	if err := s.CreateCheck(context.Background(), &c); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected CreateCheck to assign an id")
	}
	return c
}

func testEndpoints(t *testing.T, s storage.Storer) {
	ctx := context.Background()
	a := mustEndpoint(t, s, "a.example.com")
	if a.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	dup, err := s.CreateEndpoint(ctx, &models.Endpoint{Hostname: "a.example.com", CreatedAt: base.Add(time.Hour)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if dup.ID != a.ID || !dup.CreatedAt.Equal(base) {
		t.Errorf("expected the existing row, got %+v", dup)
	}

	if _, err := s.GetEndpoint(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, err := s.GetEndpoint(ctx, a.ID)
	if err != nil || got.Hostname != "a.example.com" {
		t.Fatalf("GetEndpoint: %+v, %v", got, err)
	}

	if _, err := s.CreateEndpoint(ctx, &models.Endpoint{Hostname: "b.example.com", CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListEndpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var hosts []string
	for _, e := range list {
		hosts = append(hosts, e.Hostname)
	}
	if diff := cmp.Diff([]string{"a.example.com", "b.example.com"}, hosts); diff != "" {
		t.Errorf("endpoint order mismatch (-want +got):\n%s", diff)
	}
}

func testChecks(t *testing.T, s storage.Storer) {
	ctx := context.Background()
	e := mustEndpoint(t, s, "example.com")
	idle := mustEndpoint(t, s, "idle.example.com")

	// 8 up, then 2 down: 80% uptime and a streak of 2.
	for i := 0; i < 8; i++ {
		mustCheck(t, s, e.ID, models.StatusUp, int64(100+i), base.Add(time.Duration(i)*time.Minute))
	}
	mustCheck(t, s, e.ID, models.StatusDown, 0, base.Add(8*time.Minute))
	last := mustCheck(t, s, e.ID, models.StatusDown, 0, base.Add(9*time.Minute))

	sums, err := s.SummarizeChecks(ctx, []string{e.ID, idle.ID}, 3)
	if err != nil {
		t.Fatalf("SummarizeChecks: %v", err)
	}
	sum := sums[e.ID]
	if sum.TotalChecks != 10 || sum.SuccessfulChecks != 8 || sum.ConsecutiveFailures != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.AvgResponseTimeMS == nil || *sum.AvgResponseTimeMS != 103.5 {
		t.Errorf("expected average of up checks 103.5, got %v", sum.AvgResponseTimeMS)
	}
	if len(sum.Recent) != 3 || sum.Recent[0].ID != last.ID {
		t.Errorf("expected 3 recent checks newest first, got %+v", sum.Recent)
	}
	if got := sums[idle.ID]; got.TotalChecks != 0 || got.AvgResponseTimeMS != nil || len(got.Recent) != 0 {
		t.Errorf("expected an empty summary for an endpoint without checks, got %+v", got)
	}

	streaks, err := s.ConsecutiveFailures(ctx, []string{e.ID, idle.ID})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{e.ID: 2, idle.ID: 0}, streaks); diff != "" {
		t.Errorf("streak mismatch (-want +got):\n%s", diff)
	}

	since := base.Add(6 * time.Minute)
	page, err := s.ListChecks(ctx, storage.ListChecksParams{EndpointID: e.ID, Since: &since, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != last.ID || page[0].Error == nil || *page[0].Error != "HTTP 503" {
		t.Errorf("unexpected history page %+v", page)
	}
	if page[0].ResponseTimeMS != nil {
		t.Error("expected down checks to have no response time")
	}

	window, err := s.ChecksSince(ctx, []string{e.ID}, base.Add(7*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got := window[e.ID]; len(got) != 3 || !got[0].CheckedAt.Equal(base.Add(7*time.Minute)) {
		t.Errorf("expected 3 checks oldest first, got %+v", got)
	}

	n, err := s.DeleteChecksBefore(ctx, base.Add(5*time.Minute))
	if err != nil || n != 5 {
		t.Errorf("expected 5 deleted checks, got %d (%v)", n, err)
	}
}

func testFailureStreakTies(t *testing.T, s storage.Storer) {
	ctx := context.Background()
	e := mustEndpoint(t, s, "example.com")
	at := base.Add(time.Minute)

	mustCheck(t, s, e.ID, models.StatusUp, 50, base)
	mustCheck(t, s, e.ID, models.StatusDown, 0, at)
	mustCheck(t, s, e.ID, models.StatusDown, 0, at)
	streaks, err := s.ConsecutiveFailures(ctx, []string{e.ID})
	if err != nil {
		t.Fatal(err)
	}
	if streaks[e.ID] != 2 {
		t.Errorf("expected streak 2, got %d", streaks[e.ID])
	}

	// Same timestamp, later id: the up check ends the streak.
	mustCheck(t, s, e.ID, models.StatusUp, 50, at)
	streaks, err = s.ConsecutiveFailures(ctx, []string{e.ID})
	if err != nil {
		t.Fatal(err)
	}
	if streaks[e.ID] != 0 {
		t.Errorf("expected streak 0 after recovery, got %d", streaks[e.ID])
	}
}

func testWebhooks(t *testing.T, s storage.Storer) {
	ctx := context.Background()
	down, err := s.CreateWebhook(ctx, &models.Webhook{
		URL: "https://hooks.example.com/a", Secret: "s1", Events: []string{"uptime.down", "uptime.recovered"}, Enabled: true, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if _, err := s.CreateWebhook(ctx, &models.Webhook{
		URL: "https://hooks.example.com/b", Secret: "s2", Events: []string{"domain.expired"}, Enabled: true, CreatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateWebhook(ctx, &models.Webhook{
		URL: "https://hooks.example.com/c", Secret: "s3", Events: []string{"uptime.down"}, Enabled: false, CreatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}

	hooks, err := s.ListWebhooksForEvent(ctx, "uptime.down")
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 || hooks[0].ID != down.ID || hooks[0].Secret != "s1" {
		t.Fatalf("expected only the enabled uptime.down subscription, got %+v", hooks)
	}

	for i := 0; i < 2; i++ {
		if err := s.RecordWebhookResult(ctx, down.ID, intp(500), false, base); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.GetWebhook(ctx, down.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FailureCount != 2 || got.LastStatus == nil || *got.LastStatus != 500 {
		t.Errorf("expected 2 failures with last status 500, got %+v", got)
	}
	if err := s.RecordWebhookResult(ctx, down.ID, intp(204), true, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetWebhook(ctx, down.ID)
	if got.FailureCount != 0 || *got.LastStatus != 204 || got.LastDeliveryAt == nil || !got.LastDeliveryAt.Equal(base.Add(time.Minute)) {
		t.Errorf("expected success to reset the failure count, got %+v", got)
	}
	if err := s.RecordWebhookResult(ctx, "missing", nil, false, base); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetWebhook(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	msg := "connection refused"
	attempts := []models.DeliveryAttempt{
		{WebhookID: down.ID, DeliveryID: "d1", EventType: "uptime.down", Payload: "{}", AttemptNumber: 1, Error: &msg, OccurredAt: base},
		{WebhookID: down.ID, DeliveryID: "d1", EventType: "uptime.down", Payload: "{}", ResponseStatus: intp(200), ResponseBody: "ok", Success: true, AttemptNumber: 2, OccurredAt: base.Add(30 * time.Second)},
	}
	for i := range attempts {
		if err := s.CreateDeliveryAttempt(ctx, &attempts[i]); err != nil {
			t.Fatalf("CreateDeliveryAttempt: %v", err)
		}
	}
	logged, err := s.ListDeliveryAttempts(ctx, down.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 2 || logged[0].AttemptNumber != 2 || !logged[0].Success || logged[1].Error == nil || *logged[1].Error != msg {
		t.Errorf("unexpected delivery log %+v", logged)
	}

	n, err := s.DeleteDeliveryAttemptsBefore(ctx, base.Add(time.Second))
	if err != nil || n != 1 {
		t.Errorf("expected 1 pruned attempt, got %d (%v)", n, err)
	}
}

func testSettings(t *testing.T, s storage.Storer) {
	ctx := context.Background()
	if err := s.PutSettings(ctx, map[string]string{"alert_threshold": "3", "slack_enabled": "true"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSettings(ctx, map[string]string{"alert_threshold": "5"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"alert_threshold": "5", "slack_enabled": "true"}, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}
