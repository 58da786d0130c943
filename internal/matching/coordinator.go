package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-alerts/internal/dedup"
	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/pkg/ctxlog"
)

// CandidateSource returns candidate rules for an incident.
type CandidateSource interface {
	Candidates(incident domain.Incident) ([]domain.Rule, error)
}

// Submitter accepts new delivery records.
type Submitter interface {
	// Submit reports false when a record for the same incident, rule and revision already exists.
	Submit(ctx context.Context, record domain.DeliveryRecord) (bool, error)
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	// RevisionRetention bounds how long the last handled revision of an incident
	// is remembered for out-of-order detection.
	RevisionRetention time.Duration
	SweepInterval     time.Duration
}

// DefaultCoordinatorConfig returns default configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		RevisionRetention: dedup.DefaultRetention,
		SweepInterval:     time.Minute,
	}
}

// Result summarizes the handling of one incident event.
type Result struct {
	Matched    int  `json:"matched"`
	Enqueued   int  `json:"enqueued"`
	Suppressed int  `json:"suppressed"`
	Stale      bool `json:"stale"`
}

// Coordinator runs each incident event through index lookup, evaluation, dedup and delivery.
//
// Events for different incidents are handled concurrently. Events for the same
// incident are serialized, and an event older than the last handled revision is dropped.
type Coordinator struct {
	config    CoordinatorConfig
	index     CandidateSource
	tracker   dedup.Tracker
	pipeline  Submitter
	locks     *keyedMutex
	revisions *revisionTable
	now       func() time.Time
}

// NewCoordinator creates a new matching coordinator.
func NewCoordinator(config CoordinatorConfig, index CandidateSource, tracker dedup.Tracker, pipeline Submitter) *Coordinator {
	if config.RevisionRetention <= 0 {
		config.RevisionRetention = dedup.DefaultRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	return &Coordinator{
		config:    config,
		index:     index,
		tracker:   tracker,
		pipeline:  pipeline,
		locks:     newKeyedMutex(),
		revisions: newRevisionTable(config.RevisionRetention),
		now:       time.Now,
	}
}

// Handle processes one incident event.
//
// A returned error means the event was not fully processed and must be redelivered,
// except for ErrInvalidIncident. Deliveries already enqueued are suppressed by dedup
// on redelivery.
func (c *Coordinator) Handle(ctx context.Context, incident domain.Incident) (Result, error) {
	if incident.ID == "" {
		recordEvent(eventResultInvalid)
		return Result{}, fmt.Errorf("%w: incidentId is required", ErrInvalidIncident)
	}
	if incident.Revision < 0 {
		recordEvent(eventResultInvalid)
		return Result{}, fmt.Errorf("%w: revision must not be negative", ErrInvalidIncident)
	}

	unlock := c.locks.Lock(incident.ID)
	defer unlock()

	logger := ctxlog.FromContext(ctx).With(
		"incident_id", incident.ID,
		"revision", incident.Revision,
	)

	if c.revisions.stale(incident.ID, incident.Revision) {
		recordEvent(eventResultStale)
		logger.Info("stale incident revision dropped")
		return Result{Stale: true}, nil
	}

	candidates, err := c.index.Candidates(incident)
	if err != nil {
		recordEvent(eventResultError)
		return Result{}, fmt.Errorf("lookup candidates: %w", err)
	}

	var res Result
	for _, rule := range candidates {
		if !Matches(incident, rule.Filters) {
			continue
		}
		res.Matched++

		key := dedup.Key{IncidentID: incident.ID, RuleID: rule.ID, Revision: incident.Revision}
		ok, err := c.tracker.ShouldDeliver(ctx, key)
		if err != nil {
			recordEvent(eventResultError)
			return res, fmt.Errorf("dedup check for rule %s: %w", rule.ID, err)
		}
		if !ok {
			res.Suppressed++
			continue
		}

		created, err := c.pipeline.Submit(ctx, newRecord(incident, rule))
		if err != nil {
			if ferr := c.tracker.Forget(ctx, key); ferr != nil {
				logger.Error("failed to release dedup key", "rule_id", rule.ID, "error", ferr)
			}
			recordEvent(eventResultError)
			return res, fmt.Errorf("submit delivery for rule %s: %w", rule.ID, err)
		}
		if !created {
			res.Suppressed++
			continue
		}
		res.Enqueued++
	}

	c.revisions.mark(incident.ID, incident.Revision, c.now())

	recordMatches(res)
	if res.Matched > 0 {
		recordEvent(eventResultMatched)
	} else {
		recordEvent(eventResultNoMatch)
	}

	logger.Debug("incident processed",
		"candidates", len(candidates),
		"matched", res.Matched,
		"enqueued", res.Enqueued,
		"suppressed", res.Suppressed,
	)

	return res, nil
}

// Run evicts expired revision entries until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.revisions.sweep(c.now()); n > 0 {
				slog.Debug("incident revisions evicted", "count", n)
			}
		}
	}
}

func newRecord(incident domain.Incident, rule domain.Rule) domain.DeliveryRecord {
	return domain.DeliveryRecord{
		IncidentID:       incident.ID,
		RuleID:           rule.ID,
		IncidentRevision: incident.Revision,
		Status:           domain.DeliveryStatusPending,
		Incident:         incident,
		Rule:             rule,
		Channel:          rule.Channel,
	}
}
