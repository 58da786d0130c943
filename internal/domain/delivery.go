package domain

import "time"

type DeliveryStatus string

const (
	DeliveryStatusPending         DeliveryStatus = "pending"
	DeliveryStatusDelivered       DeliveryStatus = "delivered"
	DeliveryStatusFailedPermanent DeliveryStatus = "failed-permanent"
	DeliveryStatusCancelled       DeliveryStatus = "cancelled"
)

// Terminal reports whether no further attempts are made in this status.
func (s DeliveryStatus) Terminal() bool {
	return s != DeliveryStatusPending
}

// DeliveryRecord tracks the delivery of one incident revision through one rule.
// It is unique per (IncidentID, RuleID, IncidentRevision).
type DeliveryRecord struct {
	ID               string         `json:"id"`
	IncidentID       string         `json:"incident_id"`
	RuleID           string         `json:"rule_id"`
	IncidentRevision int64          `json:"incident_revision"`
	Status           DeliveryStatus `json:"status"`
	AttemptCount     int            `json:"attempt_count"`
	NextRetryAt      time.Time      `json:"next_retry_at"`
	LastError        string         `json:"last_error,omitempty"`
	Incident         Incident       `json:"incident"`
	Rule             Rule           `json:"-"`
	Channel          Channel        `json:"channel"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
}
