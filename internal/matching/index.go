package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
)

// RuleLister loads the current rule set.
type RuleLister interface {
	List(ctx context.Context) ([]domain.Rule, error)
}

// snapshot is an immutable view of the rule set. It is replaced, never mutated.
type snapshot struct {
	version  uint64
	rules    []domain.Rule
	byKey    map[string][]int // processDefinitionKey -> rule positions, ascending
	rest     []int            // rules with at least one entry not constrained by processDefinitionKey
	loadedAt time.Time
}

func buildSnapshot(version uint64, rules []domain.Rule, now time.Time) *snapshot {
	s := &snapshot{
		version:  version,
		rules:    rules,
		byKey:    make(map[string][]int),
		loadedAt: now,
	}

	for pos, rule := range rules {
		keys, ok := processKeys(rule)
		if !ok {
			s.rest = append(s.rest, pos)
			continue
		}
		for _, k := range keys {
			s.byKey[k] = append(s.byKey[k], pos)
		}
	}
	return s
}

// processKeys returns the distinct processDefinitionKey values a rule can match on.
// ok is false when some entry does not constrain processDefinitionKey, in which case
// the rule must be considered for every incident.
func processKeys(rule domain.Rule) ([]string, bool) {
	if len(rule.Filters) == 0 {
		return nil, true
	}
	seen := make(map[string]struct{}, len(rule.Filters))
	keys := make([]string, 0, len(rule.Filters))
	for _, f := range rule.Filters {
		k, ok := f.Value(domain.AttrProcessDefinitionKey)
		if !ok {
			return nil, false
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, true
}

// Index serves candidate rules from a copy-on-write snapshot of the rule store.
//
// Lookups never block on refreshes. A refresh after an in-process write is
// synchronous; changes made by other processes are observed within the refresh
// interval. A failed refresh keeps serving the last loaded snapshot.
type Index struct {
	lister   RuleLister
	interval time.Duration
	current  atomic.Pointer[snapshot]
	mu       sync.Mutex // serializes refreshes
	version  uint64
	now      func() time.Time
}

// NewIndex creates an index over lister. Call Refresh or Run before serving lookups.
func NewIndex(lister RuleLister, refreshInterval time.Duration) *Index {
	return &Index{
		lister:   lister,
		interval: refreshInterval,
		now:      time.Now,
	}
}

// Refresh reloads the rule set and atomically swaps the snapshot.
func (ix *Index) Refresh(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rules, err := ix.lister.List(ctx)
	if err != nil {
		recordIndexRefresh(false)
		return fmt.Errorf("load rules: %w", err)
	}

	ix.version++
	snap := buildSnapshot(ix.version, rules, ix.now())
	ix.current.Store(snap)

	recordIndexRefresh(true)
	recordIndexSize(len(rules), len(snap.rest))
	return nil
}

// Run refreshes the index every refresh interval until ctx is cancelled.
func (ix *Index) Run(ctx context.Context) error {
	if err := ix.Refresh(ctx); err != nil {
		slog.Error("initial rule index load failed", "error", err)
	}

	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ix.Refresh(ctx); err != nil {
				slog.Error("rule index refresh failed, serving previous snapshot",
					"error", err,
					"version", ix.Version(),
				)
			}
		}
	}
}

// Candidates returns, in store order, a superset of the rules that can match the incident.
func (ix *Index) Candidates(incident domain.Incident) ([]domain.Rule, error) {
	snap := ix.current.Load()
	if snap == nil {
		return nil, ErrIndexNotReady
	}

	var keyed []int
	if key, ok := incident.ProcessDefinitionKey(); ok {
		keyed = snap.byKey[key]
	}

	positions := mergeSorted(keyed, snap.rest)
	out := make([]domain.Rule, 0, len(positions))
	for _, pos := range positions {
		out = append(out, snap.rules[pos])
	}
	return out, nil
}

// Ready reports whether a snapshot has been loaded.
func (ix *Index) Ready() bool {
	return ix.current.Load() != nil
}

// Version returns the version of the served snapshot, 0 before the first load.
func (ix *Index) Version() uint64 {
	if snap := ix.current.Load(); snap != nil {
		return snap.version
	}
	return 0
}

// Len returns the number of rules in the served snapshot.
func (ix *Index) Len() int {
	if snap := ix.current.Load(); snap != nil {
		return len(snap.rules)
	}
	return 0
}

// LoadedAt returns when the served snapshot was built.
func (ix *Index) LoadedAt() time.Time {
	if snap := ix.current.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
