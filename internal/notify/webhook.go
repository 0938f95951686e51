package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"domainwatch/internal/models"
	"domainwatch/internal/settings"
	"domainwatch/internal/storage"
	"domainwatch/internal/urlutil"
)

// Webhook request headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"

	webhookUserAgent = "domainwatch-webhook/1.0"
)

// DefaultWebhookTimeout bounds one webhook request.
const DefaultWebhookTimeout = 10 * time.Second

// errAbandoned marks a delivery cut short by shutdown.
var errAbandoned = errors.New("delivery abandoned")

// WebhookStore is the storage the webhook channel reads and logs to.
type WebhookStore interface {
	ListWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error)
	RecordWebhookResult(ctx context.Context, id string, status *int, success bool, at time.Time) error
	CreateDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// TargetGuard vets a webhook URL before any request is made.
type TargetGuard interface {
	Check(ctx context.Context, u *url.URL) error
}

// WebhookOptions configure a WebhookChannel. Zero values select defaults.
type WebhookOptions struct {
	Client  *http.Client
	Guard   TargetGuard
	Policy  RetryPolicy
	Timeout time.Duration
}

// WebhookChannel posts signed events to every enabled subscription.
type WebhookChannel struct {
	store   WebhookStore
	client  *http.Client
	guard   TargetGuard
	policy  RetryPolicy
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

var _ Channel = (*WebhookChannel)(nil)

// NewWebhookClient returns an HTTP client that does not follow redirects and
// refuses to dial internal addresses.
func NewWebhookClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = urlutil.SafeDialer(timeout).DialContext
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewWebhookChannel creates a WebhookChannel.
func NewWebhookChannel(store WebhookStore, log *zap.Logger, opts WebhookOptions) *WebhookChannel {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWebhookTimeout
	}
	if opts.Client == nil {
		opts.Client = NewWebhookClient(opts.Timeout)
	}
	if opts.Guard == nil {
		opts.Guard = urlutil.NewGuard()
	}
	if opts.Policy.Attempts() == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	return &WebhookChannel{
		store:   store,
		client:  opts.Client,
		guard:   opts.Guard,
		policy:  opts.Policy,
		timeout: opts.Timeout,
		log:     log.Named("webhook"),
		now:     time.Now,
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// Enabled implements Channel. Subscriptions do their own filtering.
func (c *WebhookChannel) Enabled(settings.Settings, string) bool { return true }

// Notify implements Channel. Every subscription is delivered concurrently
// with its own retry chain.
func (c *WebhookChannel) Notify(ctx context.Context, _ settings.Settings, ev Event) error {
	hooks, err := c.store.ListWebhooksForEvent(context.WithoutCancel(ctx), ev.Type)
	if err != nil {
		return fmt.Errorf("failed to list webhooks for %s: %w", ev.Type, err)
	}
	if len(hooks) == 0 {
		return nil
	}
	payload, err := ev.Payload()
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", ev.Type, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(hooks))
	for i, wh := range hooks {
		i, wh := i, wh
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Deliver(ctx, wh, ev.Type, payload)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Deliver sends payload to one subscription following the retry policy.
// Each attempt is logged; the subscription's failure count only grows when
// every attempt failed.
func (c *WebhookChannel) Deliver(ctx context.Context, wh models.Webhook, eventType string, payload []byte) error {
	log := c.log.With(zap.String("webhook_id", wh.ID), zap.String("event", eventType))
	// storage writes must land even while shutting down
	store := context.WithoutCancel(ctx)
	deliveryID := uuid.NewString()

	target, err := urlutil.ParseWebhookURL(wh.URL)
	if err == nil {
		err = c.guard.Check(ctx, target)
	}
	if err != nil {
		msg := err.Error()
		c.logAttempt(store, log, &models.DeliveryAttempt{
			WebhookID:     wh.ID,
			DeliveryID:    deliveryID,
			EventType:     eventType,
			Payload:       string(payload),
			AttemptNumber: 1,
			Error:         &msg,
		})
		log.Warn("webhook target rejected", zap.String("url", wh.URL), zap.Error(err))
		return fmt.Errorf("webhook %s: %w", wh.ID, err)
	}

	var lastStatus *int
	for i, delay := range c.policy.Delays {
		if delay > 0 && !waitFor(ctx, delay) {
			log.Info("webhook delivery abandoned", zap.Int("attempt", i+1))
			return fmt.Errorf("webhook %s: %w", wh.ID, errAbandoned)
		}

		status, body, sendErr := c.send(ctx, target.String(), wh.Secret, eventType, deliveryID, payload)
		success := sendErr == nil && status >= 200 && status < 300
		attempt := &models.DeliveryAttempt{
			WebhookID:     wh.ID,
			DeliveryID:    deliveryID,
			EventType:     eventType,
			Payload:       string(payload),
			ResponseBody:  body,
			Success:       success,
			AttemptNumber: i + 1,
		}
		if sendErr == nil {
			s := status
			attempt.ResponseStatus = &s
			lastStatus = &s
		} else {
			msg := sendErr.Error()
			attempt.Error = &msg
		}
		c.logAttempt(store, log, attempt)

		if success {
			if err := c.store.RecordWebhookResult(store, wh.ID, lastStatus, true, c.now().UTC()); err != nil {
				log.Error("failed to record webhook result", zap.Error(err))
			}
			log.Debug("webhook delivered", zap.Int("attempt", i+1), zap.Int("status", status))
			return nil
		}
		log.Info("webhook attempt failed", zap.Int("attempt", i+1), zap.Intp("status", attempt.ResponseStatus), zap.Stringp("error", attempt.Error))
	}

	if err := c.store.RecordWebhookResult(store, wh.ID, lastStatus, false, c.now().UTC()); err != nil {
		log.Error("failed to record webhook result", zap.Error(err))
	}
	return fmt.Errorf("webhook %s: all %d attempts failed", wh.ID, c.policy.Attempts())
}

func (c *WebhookChannel) logAttempt(ctx context.Context, log *zap.Logger, attempt *models.DeliveryAttempt) {
	attempt.OccurredAt = c.now().UTC()
	if err := c.store.CreateDeliveryAttempt(ctx, attempt); err != nil {
		log.Error("failed to log delivery attempt", zap.Int("attempt", attempt.AttemptNumber), zap.Error(err))
	}
}

// send performs one POST. A request in flight is not cut short by shutdown.
func (c *WebhookChannel) send(ctx context.Context, target, secret, eventType, deliveryID string, payload []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set(HeaderSignature, Sign(secret, payload))
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, deliveryID)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, storage.ResponseBodyLimit))
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, storage.TrimBody(body), nil
}
