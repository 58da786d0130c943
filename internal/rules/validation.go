package rules

import (
	"fmt"
	"net/url"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks that a rule has at least one non-empty filter entry and a usable channel.
// Errors wrap ErrInvalidRule.
func Validate(rule domain.Rule) error {
	if len(rule.Filters) == 0 {
		return fmt.Errorf("%w: filters must not be empty", ErrInvalidRule)
	}

	for i, f := range rule.Filters {
		if len(f) == 0 {
			return fmt.Errorf("%w: filter %d has no attributes", ErrInvalidRule, i)
		}
		for name := range f {
			if name == "" {
				return fmt.Errorf("%w: filter %d has an empty attribute name", ErrInvalidRule, i)
			}
			value, ok := f.Value(name)
			if !ok {
				return fmt.Errorf("%w: filter %d attribute %q must be a string, number or boolean", ErrInvalidRule, i, name)
			}
			if value == "" {
				return fmt.Errorf("%w: filter %d attribute %q has an empty value", ErrInvalidRule, i, name)
			}
		}
	}

	return validateChannel(rule.Channel)
}

func validateChannel(ch domain.Channel) error {
	if ch.Type == "" || ch.Value == "" {
		return fmt.Errorf("%w: channel type and value are required", ErrInvalidRule)
	}

	switch ch.Type {
	case domain.ChannelTypeEmail:
		if err := validate.Var(ch.Value, "email"); err != nil {
			return fmt.Errorf("%w: channel value %q is not a valid email address", ErrInvalidRule, ch.Value)
		}
	case domain.ChannelTypeWebhook:
		u, err := url.Parse(ch.Value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: channel value must be an absolute http(s) URL", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unsupported channel type %q", ErrInvalidRule, ch.Type)
	}

	return nil
}
