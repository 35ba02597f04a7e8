// Package email delivers outbound mail for account verification, organization
// invitations and the ad-hoc messages users send from a deal or contact.
//
// The transport is chosen once from configuration: SMTP when a host is set,
// otherwise the Resend HTTP API when an API key is set, otherwise messages are
// logged and dropped. Transient failures are retried with exponential backoff.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/telemetry"
)

// Message is one outbound email. HTML is preferred by clients when both
// bodies are present.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// ErrSkipped is returned by the log-only transport. The mailer treats it as a
// successful no-op.
var ErrSkipped = errors.New("email transport not configured")

type transport interface {
	name() string
	send(ctx context.Context, from string, msg Message) error
}

// Mailer sends messages through the configured transport.
type Mailer struct {
	transport   transport
	from        string
	appURL      string
	maxAttempts uint
	// initialInterval is the first retry delay; later delays grow exponentially
	initialInterval time.Duration
}

// New builds a Mailer from configuration.
func New(cfg config.EmailConfig) *Mailer {
	var t transport
	switch {
	case cfg.SMTP.Host != "":
		t = newSMTPTransport(cfg.SMTP)
	case cfg.Resend.APIKey != "":
		t = newResendTransport(cfg.Resend)
	default:
		t = logTransport{}
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Mailer{
		transport:       t,
		from:            cfg.From,
		appURL:          cfg.AppURL,
		maxAttempts:     uint(attempts),
		initialInterval: 500 * time.Millisecond,
	}
}

// Transport names the selected transport: smtp, resend or log.
func (m *Mailer) Transport() string {
	return m.transport.name()
}

// Send delivers msg, retrying transient failures up to the configured number
// of attempts.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("email: recipient required")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, m.transport.send(ctx, m.from, msg)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("email delivery failed, retrying",
				"transport", m.transport.name(),
				"attempt", attempt,
				"retry_in", next,
				"error", err,
			)
		}),
	)

	switch {
	case errors.Is(err, ErrSkipped):
		slog.Info("email skipped", "subject", msg.Subject)
		telemetry.EmailsSentTotal.WithLabelValues(m.transport.name(), "skipped").Inc()
		return nil
	case err != nil:
		telemetry.EmailsSentTotal.WithLabelValues(m.transport.name(), "failed").Inc()
		return fmt.Errorf("failed to send email via %s after %d attempt(s): %w", m.transport.name(), attempt, err)
	}
	telemetry.EmailsSentTotal.WithLabelValues(m.transport.name(), "sent").Inc()
	return nil
}

// SendVerification mails the link that confirms a new account's address.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	link := m.appURL + "/verify?token=" + url.QueryEscape(token)
	return m.Send(ctx, Message{
		To:      to,
		Subject: "Verify your email",
		Text:    "Open this link to verify your email: " + link,
		HTML:    fmt.Sprintf(`<p>Click <a href="%s">here</a> to verify your email.</p>`, html.EscapeString(link)),
	})
}

// SendInvitation tells to they were added to orgName and where to sign up.
func (m *Mailer) SendInvitation(ctx context.Context, to, orgName string) error {
	link := m.appURL + "/register?email=" + url.QueryEscape(to)
	return m.Send(ctx, Message{
		To:      to,
		Subject: "You're invited to join " + orgName,
		Text:    fmt.Sprintf("You have been invited to join %s. Create your account: %s", orgName, link),
		HTML: fmt.Sprintf(`<p>You have been invited to join %s. <a href="%s">Create your account</a>.</p>`,
			html.EscapeString(orgName), html.EscapeString(link)),
	})
}

// logTransport drops messages.
type logTransport struct{}

func (logTransport) name() string { return "log" }

func (logTransport) send(context.Context, string, Message) error {
	return backoff.Permanent(ErrSkipped)
}
