// Package dedup suppresses repeated deliveries of the same incident revision through the same rule.
package dedup

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// DefaultRetention covers the longest delivery retry horizon with margin.
const DefaultRetention = 24 * time.Hour

// ErrBackendUnavailable is returned when the dedup backend cannot be reached.
var ErrBackendUnavailable = errors.New("dedup backend unavailable")

// Key identifies one delivery sequence.
type Key struct {
	IncidentID string
	RuleID     string
	Revision   int64
}

func (k Key) String() string {
	return k.IncidentID + ":" + k.RuleID + ":" + strconv.FormatInt(k.Revision, 10)
}

// Tracker records which keys already started a delivery sequence.
type Tracker interface {
	// ShouldDeliver atomically claims the key. Exactly one caller per key gets true
	// within the retention window.
	ShouldDeliver(ctx context.Context, key Key) (bool, error)
	// Forget releases a claimed key so a later attempt can claim it again.
	Forget(ctx context.Context, key Key) error
}
