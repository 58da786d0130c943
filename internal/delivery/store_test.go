package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedRecord(id, ruleID string, revision int64, status domain.DeliveryStatus, created time.Time) *domain.DeliveryRecord {
	return &domain.DeliveryRecord{
		ID:               id,
		IncidentID:       "inc-1",
		RuleID:           ruleID,
		IncidentRevision: revision,
		Status:           status,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestMemoryStore_CreateUniqueTriple(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Create(ctx, storedRecord("a", "r1", 1, domain.DeliveryStatusPending, now)))
	assert.ErrorIs(t, s.Create(ctx, storedRecord("b", "r1", 1, domain.DeliveryStatusPending, now)), ErrRecordExists)
	assert.NoError(t, s.Create(ctx, storedRecord("c", "r1", 2, domain.DeliveryStatusPending, now)))
	assert.NoError(t, s.Create(ctx, storedRecord("d", "r2", 1, domain.DeliveryStatusPending, now)))
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, storedRecord("a", "r1", 1, domain.DeliveryStatusPending, time.Now())))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = domain.DeliveryStatusDelivered

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusPending, again.Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_UpdatePending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := storedRecord("a", "r1", 1, domain.DeliveryStatusPending, time.Now())
	require.NoError(t, s.Create(ctx, rec))

	rec.AttemptCount = 1
	rec.Status = domain.DeliveryStatusDelivered
	ok, err := s.UpdatePending(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	rec.Status = domain.DeliveryStatusFailedPermanent
	ok, err = s.UpdatePending(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok, "terminal records are not overwritten")

	got, _ := s.Get(ctx, "a")
	assert.Equal(t, domain.DeliveryStatusDelivered, got.Status)

	_, err = s.UpdatePending(ctx, storedRecord("missing", "r1", 9, domain.DeliveryStatusPending, time.Now()))
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_CancelByRule(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.Create(ctx, storedRecord("a", "r1", 1, domain.DeliveryStatusPending, now)))
	require.NoError(t, s.Create(ctx, storedRecord("b", "r1", 2, domain.DeliveryStatusDelivered, now)))
	require.NoError(t, s.Create(ctx, storedRecord("c", "r2", 1, domain.DeliveryStatusPending, now)))

	n, err := s.CancelByRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.DeliveryStatus]int{
		domain.DeliveryStatusPending:   1,
		domain.DeliveryStatusDelivered: 1,
		domain.DeliveryStatusCancelled: 1,
	}, counts)
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	require.NoError(t, s.Create(ctx, storedRecord("late", "r1", 3, domain.DeliveryStatusPending, base.Add(2*time.Second))))
	require.NoError(t, s.Create(ctx, storedRecord("early", "r1", 1, domain.DeliveryStatusPending, base)))
	require.NoError(t, s.Create(ctx, storedRecord("mid", "r1", 2, domain.DeliveryStatusPending, base.Add(time.Second))))

	all, err := s.ListByStatus(ctx, domain.DeliveryStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "early", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "late", all[2].ID)

	limited, err := s.ListByStatus(ctx, domain.DeliveryStatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.ListByStatus(ctx, domain.DeliveryStatusCancelled, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStore_DeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, storedRecord("a", "r1", 1, domain.DeliveryStatusDelivered, old)))
	require.NoError(t, s.Create(ctx, storedRecord("b", "r1", 2, domain.DeliveryStatusPending, old)))
	require.NoError(t, s.Create(ctx, storedRecord("c", "r1", 3, domain.DeliveryStatusCancelled, time.Now())))

	n, err := s.DeleteTerminalBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the triple is free again once evicted
	assert.NoError(t, s.Create(ctx, storedRecord("d", "r1", 1, domain.DeliveryStatusPending, time.Now())))
}
