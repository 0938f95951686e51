package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"domainwatch/internal/settings"
)

type recordingChannel struct {
	name    string
	allow   []string
	mu      sync.Mutex
	got     []Event
	err     error
	panicky bool
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Enabled(_ settings.Settings, eventType string) bool {
	return settings.Allows(c.allow, eventType)
}

func (c *recordingChannel) Notify(_ context.Context, _ settings.Settings, ev Event) error {
	if c.panicky {
		panic("boom")
	}
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
	return c.err
}

func (c *recordingChannel) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

type brokenSettings struct{}

func (brokenSettings) Load(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("database is locked")
}

func TestDispatchFansOut(t *testing.T) {
	all := &recordingChannel{name: "all"}
	onlyDomains := &recordingChannel{name: "domains", allow: []string{EventDomainExpired}}
	failing := &recordingChannel{name: "failing", err: errors.New("unreachable")}
	panicky := &recordingChannel{name: "panicky", panicky: true}
	d := NewDispatcher(settings.Static{}, zap.NewNop(), all, onlyDomains, failing, panicky)

	data := map[string]any{"hostname": "example.com"}
	if err := d.Dispatch(context.Background(), EventUptimeDown, data); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	data["hostname"] = "mutated.example.com"
	d.Wait()

	got := all.events()
	if len(got) != 1 || got[0].Type != EventUptimeDown {
		t.Fatalf("expected one uptime.down event, got %+v", got)
	}
	if got[0].Data["hostname"] != "example.com" {
		t.Error("expected the event to keep its own copy of the data")
	}
	if len(onlyDomains.events()) != 0 {
		t.Error("expected filtered channel to be skipped")
	}
	if len(failing.events()) != 1 {
		t.Error("expected failing channel to be attempted")
	}
}

func TestDispatchWithoutChannels(t *testing.T) {
	d := NewDispatcher(settings.Static{}, zap.NewNop())
	if err := d.Dispatch(context.Background(), EventUptimeDown, nil); err != nil {
		t.Errorf("expected no error without channels, got %v", err)
	}
}

func TestDispatchFailsWhenSettingsUnreadable(t *testing.T) {
	ch := &recordingChannel{name: "all"}
	d := NewDispatcher(brokenSettings{}, zap.NewNop(), ch)
	if err := d.Dispatch(context.Background(), EventUptimeDown, nil); err == nil {
		t.Fatal("expected an error when settings cannot be read")
	}
	d.Wait()
	if len(ch.events()) != 0 {
		t.Error("expected nothing to be delivered")
	}
}

func TestDispatchAfterShutdown(t *testing.T) {
	d := NewDispatcher(settings.Static{}, zap.NewNop(), &recordingChannel{name: "all"})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := d.Dispatch(context.Background(), EventUptimeDown, nil); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestShutdownCancelsRetryWaits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newTestWebhookStore(subscription("wh_1", srv.URL))
	ch := testChannel(store, allowAll{}, RetryPolicy{Delays: []time.Duration{0, time.Hour, time.Hour}})
	d := NewDispatcher(settings.Static{}, zap.NewNop(), ch)

	if err := d.Dispatch(context.Background(), EventUptimeDown, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(store.logged()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("expected the pending retry to be abandoned promptly, got %v", err)
	}
	if calls.Load() != 1 || len(store.logged()) != 1 {
		t.Errorf("expected exactly one attempt, got %d calls / %d rows", calls.Load(), len(store.logged()))
	}
	if h := store.hook("wh_1"); h.FailureCount != 0 {
		t.Errorf("an abandoned delivery must not count as exhausted, got %d", h.FailureCount)
	}
}
