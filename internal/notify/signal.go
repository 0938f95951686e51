package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"domainwatch/internal/settings"
)

type signalMessage struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// SignalChannel sends text messages through a signal-cli REST gateway.
type SignalChannel struct {
	client *http.Client
	log    *zap.Logger
}

var _ Channel = (*SignalChannel)(nil)

// NewSignalChannel creates a SignalChannel. A nil client gets a 10s timeout.
func NewSignalChannel(client *http.Client, log *zap.Logger) *SignalChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SignalChannel{client: client, log: log.Named("signal")}
}

// Name implements Channel.
func (c *SignalChannel) Name() string { return "signal" }

// Enabled implements Channel. The gateway, a sender and a recipient are all required.
func (c *SignalChannel) Enabled(cfg settings.Settings, eventType string) bool {
	s := cfg.Signal
	return s.Enabled && s.APIURL != "" && s.Sender != "" && len(s.Recipients) > 0 &&
		settings.Allows(s.Events, eventType)
}

// Notify implements Channel. Failures are not retried.
func (c *SignalChannel) Notify(ctx context.Context, cfg settings.Settings, ev Event) error {
	msg := signalMessage{
		Message:    plainText(ev),
		Number:     cfg.Signal.Sender,
		Recipients: cfg.Signal.Recipients,
	}
	if err := postJSON(ctx, c.client, cfg.Signal.APIURL+"/v2/send", msg); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	c.log.Debug("signal message sent", zap.String("event", ev.Type), zap.Int("recipients", len(msg.Recipients)))
	return nil
}
