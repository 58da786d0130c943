package rules

import (
	"encoding/json"
	"testing"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	email := domain.Channel{Type: domain.ChannelTypeEmail, Value: "ops@example.com"}
	filters := []domain.Filter{{"processDefinitionKey": "2251799813685249"}}

	tests := []struct {
		name    string
		rule    domain.Rule
		wantErr bool
	}{
		{"valid email", domain.Rule{Filters: filters, Channel: email}, false},
		{"valid webhook", domain.Rule{Filters: filters, Channel: domain.Channel{Type: domain.ChannelTypeWebhook, Value: "https://hooks.example.com/x"}}, false},
		{"multiple entries", domain.Rule{Filters: []domain.Filter{{"state": "ACTIVE"}, {"errorType": "JOB_NO_RETRIES", "tenantId": "t1"}}, Channel: email}, false},
		{"unknown attribute names are allowed", domain.Rule{Filters: []domain.Filter{{"customField": "x"}}, Channel: email}, false},
		{"no filters", domain.Rule{Channel: email}, true},
		{"empty filter entry", domain.Rule{Filters: []domain.Filter{{}}, Channel: email}, true},
		{"empty attribute name", domain.Rule{Filters: []domain.Filter{{"": "x"}}, Channel: email}, true},
		{"empty attribute value", domain.Rule{Filters: []domain.Filter{{"state": ""}}, Channel: email}, true},
		{"numeric value", domain.Rule{Filters: []domain.Filter{{"processDefinitionKey": json.Number("2251799813685249")}}, Channel: email}, false},
		{"boolean value", domain.Rule{Filters: []domain.Filter{{"retryable": true}}, Channel: email}, false},
		{"non-scalar value", domain.Rule{Filters: []domain.Filter{{"state": []any{"ACTIVE"}}}, Channel: email}, true},
		{"null value", domain.Rule{Filters: []domain.Filter{{"state": nil}}, Channel: email}, true},
		{"missing channel", domain.Rule{Filters: filters}, true},
		{"bad email", domain.Rule{Filters: filters, Channel: domain.Channel{Type: domain.ChannelTypeEmail, Value: "not-an-email"}}, true},
		{"relative webhook url", domain.Rule{Filters: filters, Channel: domain.Channel{Type: domain.ChannelTypeWebhook, Value: "/hook"}}, true},
		{"non-http webhook", domain.Rule{Filters: filters, Channel: domain.Channel{Type: domain.ChannelTypeWebhook, Value: "ftp://example.com"}}, true},
		{"unsupported type", domain.Rule{Filters: filters, Channel: domain.Channel{Type: "sms", Value: "+100"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			assert.NoError(t, err)
		})
	}
}
