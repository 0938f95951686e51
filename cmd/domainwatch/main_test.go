package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"domainwatch/internal/alert"
	"domainwatch/internal/api"
	"domainwatch/internal/checker"
	"domainwatch/internal/config"
	"domainwatch/internal/models"
	"domainwatch/internal/notify"
	"domainwatch/internal/settings"
	"domainwatch/internal/storage/sqlite"
	"domainwatch/internal/uptime"
)

type scriptedProber struct {
	mu      sync.Mutex
	results []models.CheckStatus
}

func (p *scriptedProber) Probe(context.Context, string) checker.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	if status == models.StatusUp {
		code, ms := 200, int64(42)
		return checker.Result{Status: status, StatusCode: &code, ResponseTimeMS: &ms}
	}
	code, msg := 503, "HTTP 503"
	return checker.Result{Status: status, StatusCode: &code, Error: &msg}
}

type allowAll struct{}

func (allowAll) Check(context.Context, *url.URL) error { return nil }

type received struct {
	event     string
	signature string
	body      []byte
}

func TestOutageIsAnnouncedOnceAndRecovered(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer store.Close()
	if err := store.PutSettings(ctx, map[string]string{
		settings.KeyMonitoringEnabled: "false",
		settings.KeyAlertThreshold:    "2",
	}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}

	var mu sync.Mutex
	var deliveries []received
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		deliveries = append(deliveries, received{r.Header.Get(notify.HeaderEvent), r.Header.Get(notify.HeaderSignature), body})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	provider := settings.StoreProvider{Store: store}
	dispatcher := notify.NewDispatcher(provider, log, notify.NewWebhookChannel(store, log, notify.WebhookOptions{
		Client: receiver.Client(),
		Guard:  allowAll{},
		Policy: notify.RetryPolicy{Delays: []time.Duration{0, time.Millisecond, time.Millisecond}},
	}))
	stats := uptime.NewService(store)
	tracker := alert.NewTracker(stats, provider, dispatcher, log)
	prober := &scriptedProber{results: []models.CheckStatus{models.StatusDown, models.StatusDown, models.StatusDown, models.StatusUp}}
	monitor := checker.NewMonitor(store, prober, tracker, checker.Options{}, log)
	scheduler := checker.NewScheduler(monitor, provider, log)

	router := api.NewRouter(api.NewHandlers(api.Deps{
		Store:     store,
		Uptime:    stats,
		Checker:   monitor,
		Scheduler: scheduler,
		Guard:     allowAll{},
		Log:       log,
	}), log)
	do := func(method, target string, body any, want int) []byte {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, target, &buf))
		if rr.Code != want {
			t.Fatalf("%s %s: expected %d, got %d: %s", method, target, want, rr.Code, rr.Body.String())
		}
		return rr.Body.Bytes()
	}

	do(http.MethodPost, "/api/v1/domains", map[string]string{"hostname": "https://Example.com/"}, http.StatusCreated)
	var hook struct {
		ID string `json:"id"`
	}
	json.Unmarshal(do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    receiver.URL,
		"secret": "e2e-secret",
		"events": []string{notify.EventUptimeDown, notify.EventUptimeRecovered},
	}, http.StatusCreated), &hook)

	for i := 0; i < 4; i++ {
		do(http.MethodPost, "/api/v1/uptime/check-all", nil, http.StatusOK)
		dispatcher.Wait()
	}

	mu.Lock()
	got := append([]received(nil), deliveries...)
	mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected one down and one recovery delivery, got %d", len(got))
	}
	if got[0].event != notify.EventUptimeDown || got[1].event != notify.EventUptimeRecovered {
		t.Errorf("unexpected event order %s, %s", got[0].event, got[1].event)
	}
	for _, d := range got {
		if !notify.Verify("e2e-secret", d.body, d.signature) {
			t.Errorf("signature of %s does not verify", d.event)
		}
	}

	var stateList struct {
		Items []models.EndpointUptimeState `json:"items"`
	}
	json.Unmarshal(do(http.MethodGet, "/api/v1/uptime/stats?heartbeats=5", nil, http.StatusOK), &stateList)
	if len(stateList.Items) != 1 {
		t.Fatalf("expected one endpoint, got %d", len(stateList.Items))
	}
	s := stateList.Items[0]
	if s.Hostname != "example.com" || s.TotalChecks != 4 || s.UptimePercentage != 25 || s.CurrentStatus != models.StatusUp || s.ConsecutiveFailures != 0 {
		t.Errorf("unexpected state %+v", s)
	}
	if len(s.Heartbeats) != 5 || s.Heartbeats[0].Status != models.HeartbeatNone {
		t.Errorf("expected 5 left-padded heartbeats, got %+v", s.Heartbeats)
	}

	var deliveryLog struct {
		Items []models.DeliveryAttempt `json:"items"`
	}
	json.Unmarshal(do(http.MethodGet, "/api/v1/webhooks/"+hook.ID+"/deliveries", nil, http.StatusOK), &deliveryLog)
	if len(deliveryLog.Items) != 2 || !deliveryLog.Items[0].Success {
		t.Errorf("expected two successful delivery rows, got %+v", deliveryLog.Items)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")}
	store, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	store.Close()

	cfg.DatabaseDriver = "mysql"
	if _, err := openStore(ctx, cfg); err == nil {
		t.Error("expected an unknown driver to be rejected")
	}
}
