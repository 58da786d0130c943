package delivery

import (
	"context"
	"fmt"
	"sort"

	"github.com/bissquit/incident-alerts/internal/domain"
)

// Dispatcher routes alerts to the sender registered for their channel type.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a new dispatcher. A later sender replaces an earlier one of the same type.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send delivers the alert through its channel's sender.
// A channel type without a sender is a permanent failure.
func (d *Dispatcher) Send(ctx context.Context, alert Alert) error {
	sender, ok := d.senders[alert.Channel.Type]
	if !ok {
		return NewPermanentError(fmt.Errorf("%w: %s", ErrNoSender, alert.Channel.Type))
	}
	return sender.Send(ctx, alert)
}

// Types returns the registered channel types, sorted.
func (d *Dispatcher) Types() []domain.ChannelType {
	types := make([]domain.ChannelType, 0, len(d.senders))
	for t := range d.senders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
