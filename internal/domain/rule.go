package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type ChannelType string

const (
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeWebhook ChannelType = "webhook"
)

// Channel is a notification destination. Value is an email address or a webhook URL.
type Channel struct {
	Type  ChannelType `json:"type"`
	Value string      `json:"value"`
}

// Filter is a set of attribute equality constraints that must all hold.
// Values are JSON scalars. Numbers keep their literal form so that
// large keys survive a round trip.
type Filter map[string]any

// UnmarshalJSON decodes numbers as json.Number.
func (f *Filter) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*f = Filter(raw)
	return nil
}

// Value returns the canonical string form of the constraint on name, the same
// form Incident.Attribute produces. ok is false when name is absent or its
// value is not a scalar.
func (f Filter) Value(name string) (value string, ok bool) {
	raw, exists := f[name]
	if !exists {
		return "", false
	}
	return scalarString(raw)
}

// Rule pairs filters with a delivery channel. Filters match when any entry matches.
// Rules are immutable once stored; updates replace the whole rule.
type Rule struct {
	ID        string    `json:"-"`
	Filters   []Filter  `json:"filters"`
	Channel   Channel   `json:"channel"`
	CreatedAt time.Time `json:"-"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	if r.Filters != nil {
		out.Filters = make([]Filter, len(r.Filters))
		for i, f := range r.Filters {
			cp := make(Filter, len(f))
			for k, v := range f {
				cp[k] = v
			}
			out.Filters[i] = cp
		}
	}
	return out
}
