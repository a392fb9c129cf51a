// Package notify delivers verification emails. The SMTP path supports both
// implicit TLS (port 465) and STARTTLS (port 587); when no SMTP relay is
// configured the challenge code is written to the log instead, which keeps
// local development working without mail infrastructure.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/JamieBuffing/kumasi-data-api/internal/config"
)

// Notifier delivers credential lifecycle emails. All sends are best-effort
// from the caller's point of view; failures are logged, never fatal.
type Notifier interface {
	SendChallenge(ctx context.Context, toEmail, code string, validFor time.Duration) error
	SendNewKey(ctx context.Context, toEmail, key string) error
	SendKeyExpired(ctx context.Context, toEmail string) error
}

// NewFromConfig returns the SMTP mailer when a relay is configured, otherwise
// the log-only fallback.
func NewFromConfig(cfg *config.NotificationsConfig) Notifier {
	if cfg.Enabled && cfg.SMTP.Host != "" {
		return &SMTPMailer{cfg: &cfg.SMTP}
	}
	slog.Warn("SMTP not configured, challenge codes will be logged instead of emailed")
	return &LogNotifier{}
}

// SMTPMailer sends challenge emails through a configured SMTP relay.
type SMTPMailer struct {
	cfg *config.SMTPConfig
}

// NewSMTPMailer creates a mailer for the given relay settings.
func NewSMTPMailer(cfg *config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendChallenge composes and delivers the verification email.
func (m *SMTPMailer) SendChallenge(_ context.Context, toEmail, code string, validFor time.Duration) error {
	subject := "Your Kumasi groundwater data API verification code"
	body := strings.Join([]string{
		"Hello,",
		"",
		fmt.Sprintf("Your verification code is: %s", code),
		"",
		fmt.Sprintf("The code is valid for %d minutes. Submitting it completes your", int(validFor.Minutes())),
		"API key request; the key is shown once in the response.",
		"",
		"If you did not request access to the groundwater data API, you can",
		"ignore this message.",
	}, "\r\n")

	return m.send(toEmail, subject, body)
}

// SendNewKey delivers a freshly issued API key to its owner.
func (m *SMTPMailer) SendNewKey(_ context.Context, toEmail, key string) error {
	subject := "Your Kumasi groundwater data API key"
	body := strings.Join([]string{
		"Hello,",
		"",
		fmt.Sprintf("Your API key is: %s", key),
		"",
		"Send it in the x-api-key header on every request. Keys unused for",
		"a year are removed automatically.",
	}, "\r\n")

	return m.send(toEmail, subject, body)
}

// SendKeyExpired tells the holder their key was removed for inactivity.
func (m *SMTPMailer) SendKeyExpired(_ context.Context, toEmail string) error {
	subject := "Your Kumasi groundwater data API key has expired"
	body := strings.Join([]string{
		"Hello,",
		"",
		"Your API key was unused for over a year and has been removed.",
		"To keep using the groundwater data API, request a new key at the",
		"API key request endpoint with this email address.",
	}, "\r\n")

	return m.send(toEmail, subject, body)
}

func (m *SMTPMailer) send(toEmail, subject, body string) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		m.cfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)

	if m.cfg.UseTLS {
		return sendMailTLS(addr, m.cfg.Host, auth, m.cfg.From, []string{toEmail}, msg)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{toEmail}, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// When the implicit TLS dial fails it falls back to the standard smtp.SendMail
// path, which upgrades via STARTTLS on port 587.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
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

// LogNotifier writes the challenge to the log. Development only.
type LogNotifier struct{}

// SendChallenge implements Notifier.
func (*LogNotifier) SendChallenge(_ context.Context, toEmail, code string, validFor time.Duration) error {
	slog.Info("verification challenge issued",
		"email", toEmail,
		"code", code,
		"valid_for", validFor.String())
	return nil
}

// SendNewKey implements Notifier. The key itself stays out of the log.
func (*LogNotifier) SendNewKey(_ context.Context, toEmail, _ string) error {
	slog.Info("api key issued", "email", toEmail)
	return nil
}

// SendKeyExpired implements Notifier.
func (*LogNotifier) SendKeyExpired(_ context.Context, toEmail string) error {
	slog.Info("credential expired for inactivity", "email", toEmail)
	return nil
}
