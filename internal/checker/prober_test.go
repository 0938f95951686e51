package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"domainwatch/internal/models"
)

// routedProber sends each scheme to its own test server.
func routedProber(timeout time.Duration, httpsURL, httpURL string) *Prober {
	p := NewProber(timeout)
	p.target = func(scheme, _ string) string {
		if scheme == "https" {
			return httpsURL + "/"
		}
		return httpURL + "/"
	}
	return p
}

func TestProbeHTTPSUp(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "https://")
	res := NewProber(time.Second).Probe(context.Background(), host)
	if res.Status != models.StatusUp {
		t.Fatalf("expected up, got %s (%v)", res.Status, res.Error)
	}
	if res.StatusCode == nil || *res.StatusCode != 200 {
		t.Errorf("expected status 200, got %v", res.StatusCode)
	}
	if res.ResponseTimeMS == nil {
		t.Error("expected a response time for an up check")
	}
	if res.Error != nil {
		t.Errorf("expected no error, got %q", *res.Error)
	}
}

func TestProbeFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// the TLS handshake against a plain listener fails, so http:// is tried
	host := strings.TrimPrefix(srv.URL, "http://")
	res := NewProber(time.Second).Probe(context.Background(), host)
	if res.Status != models.StatusUp {
		t.Fatalf("expected fallback to succeed, got %s (%v)", res.Status, res.Error)
	}
	if *res.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", *res.StatusCode)
	}
}

func TestProbeTimeoutTriggersFallback(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	res := routedProber(100*time.Millisecond, slow.URL, fast.URL).Probe(context.Background(), "ignored")
	if res.Status != models.StatusUp {
		t.Fatalf("expected fallback after timeout, got %s (%v)", res.Status, res.Error)
	}
}

func TestProbeStatusClassification(t *testing.T) {
	tests := []struct {
		code    int
		want    models.CheckStatus
		wantErr string
	}{
		{200, models.StatusUp, ""},
		{301, models.StatusUp, ""},
		{399, models.StatusUp, ""},
		{400, models.StatusDown, "HTTP 400"},
		{404, models.StatusDown, "HTTP 404"},
		{503, models.StatusDown, "HTTP 503"},
	}
	for _, tt := range tests {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tt.code >= 300 && tt.code < 400 {
				w.Header().Set("Location", "/elsewhere")
			}
			w.WriteHeader(tt.code)
		}))
		res := routedProber(time.Second, srv.URL, "http://127.0.0.1:1").Probe(context.Background(), "ignored")
		srv.Close()

		if res.Status != tt.want {
			t.Errorf("code %d: expected %s, got %s", tt.code, tt.want, res.Status)
		}
		if res.StatusCode == nil || *res.StatusCode != tt.code {
			t.Errorf("code %d: expected status code to be recorded, got %v", tt.code, res.StatusCode)
		}
		if tt.wantErr == "" {
			if res.Error != nil {
				t.Errorf("code %d: unexpected error %q", tt.code, *res.Error)
			}
			continue
		}
		if res.Error == nil || *res.Error != tt.wantErr {
			t.Errorf("code %d: expected error %q, got %v", tt.code, tt.wantErr, res.Error)
		}
		if res.ResponseTimeMS != nil {
			t.Errorf("code %d: down checks carry no response time", tt.code)
		}
	}
}

func TestProbeBothAttemptsFail(t *testing.T) {
	res := routedProber(200*time.Millisecond, "https://127.0.0.1:1", "http://127.0.0.1:1").Probe(context.Background(), "ignored")
	if res.Status != models.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
	if res.StatusCode != nil {
		t.Errorf("expected no status code on transport failure, got %d", *res.StatusCode)
	}
	if res.Error == nil || !strings.Contains(*res.Error, "http://127.0.0.1:1") {
		t.Errorf("expected the fallback's error to be reported, got %v", res.Error)
	}
}
