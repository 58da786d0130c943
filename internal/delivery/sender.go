package delivery

import (
	"context"

	"github.com/bissquit/incident-alerts/internal/domain"
)

// Alert is what a channel adapter sends for one delivery attempt.
type Alert struct {
	DeliveryID string
	Attempt    int
	Incident   domain.Incident
	Rule       domain.Rule
	Channel    domain.Channel
	Subject    string
	Body       string
}

// Sender delivers alerts over one channel type.
//
// Send returns nil on success, an error marked with NewPermanentError when the
// channel configuration can never succeed, and any other error for transient failures.
// Send must honor ctx cancellation.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, alert Alert) error
}
