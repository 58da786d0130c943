// Package memstore provides an in-memory implementation of rules.Repository.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/rules"
	"github.com/google/uuid"
)

// Store holds rules in memory in insertion order. Suitable for dev/testing
// and single-instance deployments that reload rules on restart.
type Store struct {
	mu    sync.RWMutex
	order []string               // rule IDs in insertion order
	rules map[string]domain.Rule // rule ID -> rule
	now   func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		rules: make(map[string]domain.Rule),
		now:   time.Now,
	}
}

// Put stores a copy of the rule. Replacing an existing rule keeps its position.
func (s *Store) Put(_ context.Context, rule domain.Rule) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rule.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	if existing, ok := s.rules[cp.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = s.now().UTC()
		s.order = append(s.order, cp.ID)
	}
	s.rules[cp.ID] = cp

	return cp.ID, nil
}

// Get retrieves a rule by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, rules.ErrRuleNotFound
	}
	cp := r.Clone()
	return &cp, nil
}

// List returns copies of all rules in insertion order.
func (s *Store) List(_ context.Context) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].Clone())
	}
	return out, nil
}

// Delete removes a rule. Returns false if it did not exist.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}
