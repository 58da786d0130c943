// Package email delivers alerts via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/incident-alerts/internal/delivery"
	"github.com/bissquit/incident-alerts/internal/domain"
	"golang.org/x/time/rate"
)

// Config holds email sender configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	// RateLimit is the maximum number of messages per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	// DisableTLS skips STARTTLS even if the server offers it.
	DisableTLS bool
}

const messageIDHost = "alerting"

// Sender implements delivery.Sender via SMTP.
type Sender struct {
	config  Config
	from    *mail.Address
	auth    smtp.Auth
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	// Set defaults
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	from := &mail.Address{}
	if config.FromAddress != "" {
		parsed, err := mail.ParseAddress(config.FromAddress)
		if err != nil {
			return nil, fmt.Errorf("email sender: invalid from address: %w", err)
		}
		from = parsed
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	limiter := rate.NewLimiter(rate.Inf, config.Burst)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		from:    from,
		auth:    auth,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Send emails the alert to the rule's channel address.
func (s *Sender) Send(ctx context.Context, alert delivery.Alert) error {
	if !s.config.Enabled {
		return delivery.NewPermanentError(errors.New("email sender is disabled"))
	}

	to, err := mail.ParseAddress(alert.Channel.Value)
	if err != nil {
		return delivery.NewPermanentError(fmt.Errorf("recipient %q: %w", alert.Channel.Value, err))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return delivery.NewRetryableError(fmt.Errorf("rate limit wait: %w", err))
	}

	msg := s.buildMessage(to, alert)
	if err := s.deliver(ctx, to.Address, msg); err != nil {
		if transient(err) {
			return delivery.NewRetryableError(err)
		}
		return delivery.NewPermanentError(err)
	}

	slog.Debug("alert email sent", "delivery_id", alert.DeliveryID, "attempt", alert.Attempt)
	return nil
}

// buildMessage renders a plain-text RFC 5322 message. The Message-ID is stable
// per delivery attempt so receivers can spot resends of the same attempt.
func (s *Sender) buildMessage(to *mail.Address, alert delivery.Alert) []byte {
	var b strings.Builder
	header := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	header("From", s.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", alert.Subject))
	header("Date", s.now().Format(time.RFC1123Z))
	if alert.DeliveryID != "" {
		header("Message-ID", fmt.Sprintf("<%s.%d@%s>", alert.DeliveryID, alert.Attempt, messageIDHost))
		header("X-Alert-Delivery-ID", alert.DeliveryID)
	}
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(alert.Body, "\r\n", "\n"), "\n", "\r\n"))

	return []byte(b.String())
}

// deliver runs one SMTP session, upgrading with STARTTLS when the server offers it.
func (s *Sender) deliver(ctx context.Context, rcpt string, msg []byte) error {
	addr := net.JoinHostPort(s.config.SMTPHost, strconv.Itoa(s.config.SMTPPort))

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// the SMTP client has no context support
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() { _ = client.Close() }()

	if !s.config.DisableTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"mail from", func() error { return client.Mail(s.from.Address) }},
		{"rcpt to", func() error { return client.Rcpt(rcpt) }},
		{"data", func() error {
			w, err := client.Data()
			if err != nil {
				return err
			}
			if _, err := w.Write(msg); err != nil {
				return err
			}
			return w.Close()
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	// the server has accepted the message, a failed QUIT must not cause a resend
	if err := client.Quit(); err != nil {
		slog.Warn("smtp quit failed after message was accepted", "host", s.config.SMTPHost, "error", err)
	}
	return nil
}

// transient reports whether an SMTP session error may succeed on a later attempt.
// Network failures and 4xx replies are transient; 552 is treated as a full mailbox.
func transient(err error) bool {
	if err == nil {
		return false
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return (tpErr.Code >= 400 && tpErr.Code < 500) || tpErr.Code == 552
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
