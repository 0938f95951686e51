package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"domainwatch/internal/settings"
)

// maxSlackFields is the most fields Slack accepts in one section block.
const maxSlackFields = 10

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// SlackChannel posts Block Kit messages to an incoming webhook.
type SlackChannel struct {
	client *http.Client
	log    *zap.Logger
}

var _ Channel = (*SlackChannel)(nil)

// NewSlackChannel creates a SlackChannel. A nil client gets a 10s timeout.
func NewSlackChannel(client *http.Client, log *zap.Logger) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackChannel{client: client, log: log.Named("slack")}
}

// Name implements Channel.
func (c *SlackChannel) Name() string { return "slack" }

// Enabled implements Channel.
func (c *SlackChannel) Enabled(cfg settings.Settings, eventType string) bool {
	return cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" && settings.Allows(cfg.Slack.Events, eventType)
}

// Notify implements Channel. Failures are not retried.
func (c *SlackChannel) Notify(ctx context.Context, cfg settings.Settings, ev Event) error {
	if err := postJSON(ctx, c.client, cfg.Slack.WebhookURL, slackPayload(ev)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	c.log.Debug("slack message sent", zap.String("event", ev.Type))
	return nil
}

func slackPayload(ev Event) slackMessage {
	title := ev.Title()
	msg := slackMessage{
		Text: title,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
			{Type: "context", Elements: []slackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("`%s` at %s", ev.Type, ev.Timestamp.Format(time.RFC3339)),
			}}},
		},
	}
	var fields []slackText
	for _, f := range ev.Fields() {
		if len(fields) == maxSlackFields {
			break
		}
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", f.Name, f.Value)})
	}
	if len(fields) > 0 {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Fields: fields})
	}
	return msg
}

// postJSON sends body as JSON and treats any status of 400 or above as an
// error. A request already in flight is not cut short by shutdown.
func postJSON(ctx context.Context, client *http.Client, target string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
