package rules

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
)

type fakeRepo struct {
	mu    sync.Mutex
	next  int
	order []string
	rules map[string]domain.Rule
	err   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rules: make(map[string]domain.Rule)}
}

func (r *fakeRepo) Put(_ context.Context, rule domain.Rule) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if rule.ID == "" {
		r.next++
		rule.ID = "rule-" + strconv.Itoa(r.next)
		rule.CreatedAt = time.Date(2026, 1, 1, 0, 0, r.next, 0, time.UTC)
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule.Clone()
	return rule.ID, nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := rule.Clone()
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context) ([]domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id].Clone())
	}
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.rules[id]; !ok {
		return false, nil
	}
	delete(r.rules, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return f.err
}

type fakeCanceller struct {
	ruleIDs []string
	err     error
}

func (f *fakeCanceller) CancelRule(_ context.Context, ruleID string) (int, error) {
	f.ruleIDs = append(f.ruleIDs, ruleID)
	return 1, f.err
}
