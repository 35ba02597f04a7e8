package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/config"
)

type smtpTransport struct {
	cfg config.SMTPConfig
}

func newSMTPTransport(cfg config.SMTPConfig) *smtpTransport {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	return &smtpTransport{cfg: cfg}
}

func (t *smtpTransport) name() string { return "smtp" }

// send uses implicit TLS on port 465 and smtp.SendMail, which upgrades with
// STARTTLS when offered, on every other port.
func (t *smtpTransport) send(ctx context.Context, from string, msg Message) error {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprint(t.cfg.Port))
	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	if from == "" {
		from = t.cfg.Username
	}

	body := buildMessage(from, msg, time.Now())
	envelopeFrom := addressOnly(from)

	var err error
	if t.cfg.Port == 465 {
		err = sendMailTLS(ctx, addr, t.cfg.Host, auth, envelopeFrom, []string{msg.To}, body)
	} else {
		err = smtp.SendMail(addr, auth, envelopeFrom, []string{msg.To}, body)
	}
	return classifySMTPError(err)
}

// sendMailTLS delivers over an implicit TLS (SMTPS) connection.
func sendMailTLS(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 30 * time.Second},
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

// classifySMTPError marks permanent (5xx) replies so they are not retried.
func classifySMTPError(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return backoff.Permanent(err)
	}
	return err
}

// buildMessage renders RFC 5322 headers and a multipart/alternative body when
// both text and HTML are present.
func buildMessage(from string, msg Message, now time.Time) []byte {
	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }

	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	switch {
	case msg.Text != "" && msg.HTML != "":
		boundary := "crm-" + uuid.NewString()
		header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
		b.WriteString("\r\n")
		for _, part := range []struct{ ctype, body string }{
			{"text/plain", msg.Text},
			{"text/html", msg.HTML},
		} {
			b.WriteString("--" + boundary + "\r\n")
			b.WriteString("Content-Type: " + part.ctype + "; charset=utf-8\r\n\r\n")
			b.WriteString(part.body + "\r\n")
		}
		b.WriteString("--" + boundary + "--\r\n")
	case msg.HTML != "":
		header("Content-Type", "text/html; charset=utf-8")
		b.WriteString("\r\n" + msg.HTML + "\r\n")
	default:
		header("Content-Type", "text/plain; charset=utf-8")
		b.WriteString("\r\n" + msg.Text + "\r\n")
	}
	return []byte(b.String())
}

// addressOnly strips a display name: "CRM <a@b.c>" becomes "a@b.c".
func addressOnly(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}
