package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
)

// RecordStore persists delivery records.
type RecordStore interface {
	// Create stores a new record. Returns ErrRecordExists if a record for the same
	// (incident, rule, revision) triple exists.
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	Get(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	// UpdatePending saves an attempt outcome if the stored record is still pending.
	// Returns false when the record has left the pending state.
	UpdatePending(ctx context.Context, rec *domain.DeliveryRecord) (bool, error)
	// CancelByRule moves all pending records of the rule to cancelled.
	CancelByRule(ctx context.Context, ruleID string) (int, error)
	// ListByStatus returns records in the status, oldest first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status domain.DeliveryStatus, limit int) ([]domain.DeliveryRecord, error)
	// DeleteTerminalBefore evicts terminal records last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error)
}

type tripleKey struct {
	incidentID string
	ruleID     string
	revision   int64
}

func keyOf(rec *domain.DeliveryRecord) tripleKey {
	return tripleKey{incidentID: rec.IncidentID, ruleID: rec.RuleID, revision: rec.IncidentRevision}
}

// MemoryStore is an in-memory RecordStore. Suitable for dev/testing.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.DeliveryRecord // record ID -> record
	byKey   map[tripleKey]string              // triple -> record ID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*domain.DeliveryRecord),
		byKey:   make(map[tripleKey]string),
	}
}

// Create implements RecordStore.
func (s *MemoryStore) Create(_ context.Context, rec *domain.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(rec)
	if _, ok := s.byKey[k]; ok {
		return ErrRecordExists
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.byKey[k] = rec.ID
	return nil
}

// Get implements RecordStore. Returns a copy.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdatePending implements RecordStore.
func (s *MemoryStore) UpdatePending(_ context.Context, rec *domain.DeliveryRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if cur.Status != domain.DeliveryStatusPending {
		return false, nil
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return true, nil
}

// CancelByRule implements RecordStore.
func (s *MemoryStore) CancelByRule(_ context.Context, ruleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, rec := range s.records {
		if rec.RuleID == ruleID && rec.Status == domain.DeliveryStatusPending {
			rec.Status = domain.DeliveryStatusCancelled
			rec.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// ListByStatus implements RecordStore.
func (s *MemoryStore) ListByStatus(_ context.Context, status domain.DeliveryStatus, limit int) ([]domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeliveryRecord, 0)
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteTerminalBefore implements RecordStore.
func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			delete(s.byKey, keyOf(rec))
			n++
		}
	}
	return n, nil
}

// CountByStatus implements RecordStore.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[domain.DeliveryStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.DeliveryStatus]int)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}
