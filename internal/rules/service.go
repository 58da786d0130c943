package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/pkg/ctxlog"
)

// IndexRefresher reloads the matching index after a rule change.
type IndexRefresher interface {
	Refresh(ctx context.Context) error
}

// DeliveryCanceller cancels pending deliveries of a deleted rule.
type DeliveryCanceller interface {
	CancelRule(ctx context.Context, ruleID string) (int, error)
}

// Service provides alert rule business logic.
type Service struct {
	repo      Repository
	index     IndexRefresher
	canceller DeliveryCanceller
}

// NewService creates a new rules service. index and canceller may be nil.
func NewService(repo Repository, index IndexRefresher, canceller DeliveryCanceller) *Service {
	return &Service{
		repo:      repo,
		index:     index,
		canceller: canceller,
	}
}

// CreateRule validates and stores a new rule.
func (s *Service) CreateRule(ctx context.Context, rule domain.Rule) (*domain.Rule, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}

	rule = rule.Clone()
	rule.ID = ""

	id, err := s.repo.Put(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("put rule: %w", err)
	}

	stored, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}

	s.refreshIndex(ctx)

	ctxlog.FromContext(ctx).Info("alert rule created",
		"rule_id", id,
		"filters", len(rule.Filters),
		"channel_type", rule.Channel.Type,
	)

	return stored, nil
}

// ListRules returns all rules in insertion order.
func (s *Service) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.repo.List(ctx)
}

// DeleteRule removes a rule and cancels its pending deliveries.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if !deleted {
		return ErrRuleNotFound
	}

	s.refreshIndex(ctx)

	logger := ctxlog.FromContext(ctx)
	if s.canceller != nil {
		cancelled, err := s.canceller.CancelRule(ctx, id)
		if err != nil {
			logger.Error("failed to cancel pending deliveries", "rule_id", id, "error", err)
		} else if cancelled > 0 {
			logger.Info("pending deliveries cancelled", "rule_id", id, "count", cancelled)
		}
	}

	logger.Info("alert rule deleted", "rule_id", id)
	return nil
}

// The write is already durable here; a failed refresh is picked up by the periodic reload.
func (s *Service) refreshIndex(ctx context.Context) {
	if s.index == nil {
		return
	}
	if err := s.index.Refresh(ctx); err != nil {
		slog.Warn("rule index refresh failed after write", "error", err)
	}
}
