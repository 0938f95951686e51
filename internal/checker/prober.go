package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"domainwatch/internal/models"
)

// DefaultProbeTimeout bounds each probe attempt.
const DefaultProbeTimeout = 10 * time.Second

// Result is the classified outcome of one probe.
type Result struct {
	Status         models.CheckStatus
	ResponseTimeMS *int64
	StatusCode     *int
	Error          *string
}

// Prober reaches an endpoint over HTTPS and falls back to plain HTTP when the
// secure attempt fails at the transport level.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	// target builds the request URL for a scheme; replaced in tests.
	target func(scheme, hostname string) string
}

// NewProber creates a Prober whose attempts are each bounded by timeout.
// Certificates are not verified: an endpoint that answers is reachable.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &Prober{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		target: func(scheme, hostname string) string {
			return scheme + "://" + hostname + "/"
		},
	}
}

// Probe checks hostname. It never returns an error: transport failures and
// bad status codes are reported as a down Result.
func (p *Prober) Probe(ctx context.Context, hostname string) Result {
	if res, err := p.attempt(ctx, p.target("https", hostname)); err == nil {
		return res
	}
	res, err := p.attempt(ctx, p.target("http", hostname))
	if err != nil {
		msg := err.Error()
		return Result{Status: models.StatusDown, Error: &msg}
	}
	return res
}

// attempt performs one GET. An error means no HTTP response was received.
func (p *Prober) attempt(ctx context.Context, url string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "domainwatch-uptime/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	elapsed := time.Since(start).Milliseconds()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	code := resp.StatusCode
	res := Result{StatusCode: &code}
	if code >= 200 && code < 400 {
		res.Status = models.StatusUp
		res.ResponseTimeMS = &elapsed
	} else {
		res.Status = models.StatusDown
		msg := fmt.Sprintf("HTTP %d", code)
		res.Error = &msg
	}
	return res, nil
}
