package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"domainwatch/internal/settings"
)

const sendGridHost = "https://api.sendgrid.com"

var emailTemplates = template.Must(template.New("email").Parse(`
{{define "outage"}}<html><body style="font-family:sans-serif">
<h2 style="color:{{if .Down}}#c0392b{{else}}#27ae60{{end}}">{{.Title}}</h2>
<p>{{if .Down}}The endpoint stopped responding{{else}}The endpoint is responding again{{end}} ({{.Time}}).</p>
{{if .Downtime}}<p>Total downtime: <strong>{{.Downtime}}</strong></p>{{end}}
<table cellpadding="4">{{range .Fields}}<tr><td><strong>{{.Name}}</strong></td><td>{{.Value}}</td></tr>{{end}}</table>
</body></html>{{end}}
{{define "expiry"}}<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p>The registration data of this domain needs attention ({{.Time}}).</p>
<table cellpadding="4">{{range .Fields}}<tr><td><strong>{{.Name}}</strong></td><td>{{.Value}}</td></tr>{{end}}</table>
</body></html>{{end}}
`))

type emailView struct {
	Title    string
	Time     string
	Down     bool
	Downtime string
	Fields   []Field
}

// EmailChannel sends HTML alerts through SendGrid.
type EmailChannel struct {
	host string
	log  *zap.Logger
}

var _ Channel = (*EmailChannel)(nil)

// NewEmailChannel creates an EmailChannel talking to the SendGrid API.
func NewEmailChannel(log *zap.Logger) *EmailChannel {
	return &EmailChannel{host: sendGridHost, log: log.Named("email")}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Enabled implements Channel. Test events are never mailed.
func (c *EmailChannel) Enabled(cfg settings.Settings, eventType string) bool {
	e := cfg.Email
	return e.AlertsEnabled && len(e.Recipients) > 0 && e.APIKey != "" && eventType != EventWebhookTest
}

// Notify implements Channel.
func (c *EmailChannel) Notify(ctx context.Context, cfg settings.Settings, ev Event) error {
	if !c.Send(ctx, cfg.Email, ev) {
		return errors.New("email: send failed")
	}
	return nil
}

// Send mails ev to every recipient and reports whether SendGrid accepted it.
// It never panics.
func (c *EmailChannel) Send(ctx context.Context, cfg settings.Email, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("email send panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	subject, html, err := renderEmail(ev)
	if err != nil {
		c.log.Error("failed to render email", zap.String("event", ev.Type), zap.Error(err))
		return false
	}

	from := cfg.From
	if from == "" {
		from = cfg.Recipients[0]
	}
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("domainwatch", from))
	m.Subject = subject
	p := mail.NewPersonalization()
	for _, r := range cfg.Recipients {
		p.AddTos(mail.NewEmail("", r))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", plainText(ev)), mail.NewContent("text/html", html))

	req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", c.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(context.WithoutCancel(ctx), req)
	if err != nil {
		c.log.Error("error sending email", zap.Error(err))
		return false
	}
	if resp.StatusCode >= 300 {
		c.log.Error("sendgrid rejected email", zap.Int("status", resp.StatusCode), zap.String("body", resp.Body))
		return false
	}
	c.log.Info("email sent", zap.String("event", ev.Type), zap.Int("recipients", len(cfg.Recipients)))
	return true
}

func renderEmail(ev Event) (subject, body string, err error) {
	view := emailView{
		Title:  ev.Title(),
		Time:   ev.Timestamp.Format(time.RFC1123),
		Fields: ev.Fields(),
	}
	name := "expiry"
	switch ev.Type {
	case EventUptimeDown:
		name = "outage"
		view.Down = true
		subject = "[DOWN] " + view.Title
	case EventUptimeRecovered:
		name = "outage"
		view.Downtime, _ = ev.Data["downtime"].(string)
		subject = "[RECOVERED] " + view.Title
	default:
		subject = "[DOMAIN] " + view.Title
	}
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subject, buf.String(), nil
}

func plainText(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Title())
	b.WriteString("\n")
	for _, f := range ev.Fields() {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	return b.String()
}
