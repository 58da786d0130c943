package delivery

import (
	"context"
	"testing"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Send(t *testing.T) {
	email := &fakeSender{typ: domain.ChannelTypeEmail}
	webhook := &fakeSender{typ: domain.ChannelTypeWebhook}
	d := NewDispatcher(email, webhook)

	assert.Equal(t, []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeWebhook}, d.Types())

	require.NoError(t, d.Send(context.Background(), Alert{Channel: domain.Channel{Type: domain.ChannelTypeWebhook}}))
	assert.Equal(t, 0, email.Calls())
	assert.Equal(t, 1, webhook.Calls())
}

func TestDispatcher_UnknownType(t *testing.T) {
	d := NewDispatcher(&fakeSender{typ: domain.ChannelTypeEmail})

	err := d.Send(context.Background(), Alert{Channel: domain.Channel{Type: "sms"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSender)
	assert.False(t, IsRetryable(err))
}
