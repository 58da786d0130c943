package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryTracker is an in-process Tracker with time-window eviction.
type MemoryTracker struct {
	mu        sync.Mutex
	seen      map[Key]time.Time // key -> expiry
	retention time.Duration
	now       func() time.Time
}

// NewMemoryTracker creates a tracker that forgets keys after retention.
func NewMemoryTracker(retention time.Duration) *MemoryTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryTracker{
		seen:      make(map[Key]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// ShouldDeliver implements Tracker.
func (t *MemoryTracker) ShouldDeliver(_ context.Context, key Key) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if expiry, ok := t.seen[key]; ok && now.Before(expiry) {
		recordDecision(false)
		return false, nil
	}
	t.seen[key] = now.Add(t.retention)
	recordDecision(true)
	return true, nil
}

// Forget implements Tracker.
func (t *MemoryTracker) Forget(_ context.Context, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, key)
	return nil
}

// Sweep removes expired keys and returns how many were removed.
func (t *MemoryTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for k, expiry := range t.seen {
		if !now.Before(expiry) {
			delete(t.seen, k)
			removed++
		}
	}
	trackedKeys.Set(float64(len(t.seen)))
	return removed
}

// Len returns the number of tracked keys, including expired ones not yet swept.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Run sweeps expired keys every interval until ctx is cancelled.
func (t *MemoryTracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				slog.Debug("dedup keys evicted", "count", n)
			}
		}
	}
}
