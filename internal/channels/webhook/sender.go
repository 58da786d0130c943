// Package webhook delivers alerts as JSON POST requests to webhook URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/delivery"
	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Incident Alerts"
	maxErrorBody    = 512
)

// Config holds webhook sender configuration.
// The webhook URL comes from the rule channel, so global configuration is minimal.
type Config struct {
	Username string        // display name for chat-style webhooks
	Timeout  time.Duration // request timeout

	// Circuit breaker per target host.
	BreakerMaxRequests  uint32        // probes allowed while half-open
	BreakerInterval     time.Duration // closed-state counter reset period
	BreakerTimeout      time.Duration // open-state duration before probing
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
}

// Sender implements delivery.Sender for webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.BreakerMaxRequests == 0 {
		config.BreakerMaxRequests = 1
	}
	if config.BreakerInterval == 0 {
		config.BreakerInterval = 60 * time.Second
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	if config.BreakerMinRequests == 0 {
		config.BreakerMinRequests = 5
	}
	if config.BreakerFailureRatio == 0 {
		config.BreakerFailureRatio = 0.6
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeWebhook
}

// Send posts the alert to the rule's webhook URL.
func (s *Sender) Send(ctx context.Context, alert delivery.Alert) error {
	target := alert.Channel.Value
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return delivery.NewPermanentError(&StatusError{Message: "invalid webhook URL"})
	}

	body, err := json.Marshal(newPayload(s.config.Username, alert))
	if err != nil {
		return delivery.NewPermanentError(fmt.Errorf("marshal payload: %w", err))
	}

	cb := s.breaker(u.Host)
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, target, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return delivery.NewRetryableError(fmt.Errorf("webhook host %s: %w", u.Host, err))
	}
	return err
}

func (s *Sender) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return delivery.NewPermanentError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return delivery.NewRetryableError(&StatusError{Message: fmt.Sprintf("send request: %v", err)})
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, target)
}

func handleResponse(resp *http.Response, target string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("webhook alert sent", "webhook", maskWebhookURL(target))
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return delivery.NewRetryableError(&StatusError{Code: resp.StatusCode, Message: "rate limited"})

	case resp.StatusCode == http.StatusRequestTimeout:
		return delivery.NewRetryableError(&StatusError{Code: resp.StatusCode, Message: "request timeout"})

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return delivery.NewPermanentError(&StatusError{Code: resp.StatusCode, Message: "invalid or expired webhook"})

	case resp.StatusCode == http.StatusNotFound:
		return delivery.NewPermanentError(&StatusError{Code: resp.StatusCode, Message: "webhook not found"})

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return delivery.NewPermanentError(&StatusError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("rejected: %s", string(body)),
		})

	case resp.StatusCode >= 500:
		return delivery.NewRetryableError(&StatusError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error: %s", string(body)),
		})

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// breaker returns the circuit breaker for host, creating it on first use.
// Permanent failures do not count towards tripping.
func (s *Sender) breaker(host string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}

	minRequests := s.config.BreakerMinRequests
	ratio := s.config.BreakerFailureRatio
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: s.config.BreakerMaxRequests,
		Interval:    s.config.BreakerInterval,
		Timeout:     s.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("webhook circuit breaker state changed",
				"host", name,
				"from", from.String(),
				"to", to.String(),
			)
			recordBreakerState(name, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !delivery.IsRetryable(err)
		},
	})
	recordBreakerState(host, cb.State())
	s.breakers[host] = cb
	return cb
}

type webhookPayload struct {
	Text       string          `json:"text"`
	Username   string          `json:"username,omitempty"`
	Subject    string          `json:"subject"`
	DeliveryID string          `json:"delivery_id"`
	RuleID     string          `json:"rule_id"`
	Incident   domain.Incident `json:"incident"`
}

func newPayload(username string, alert delivery.Alert) webhookPayload {
	text := alert.Body
	if alert.Subject != "" {
		text = fmt.Sprintf("### %s\n\n%s", alert.Subject, alert.Body)
	}
	return webhookPayload{
		Text:       text,
		Username:   username,
		Subject:    alert.Subject,
		DeliveryID: alert.DeliveryID,
		RuleID:     alert.Rule.ID,
		Incident:   alert.Incident,
	}
}

// maskWebhookURL hides part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// StatusError describes a failed webhook call.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}
