package matching

import (
	"sync"
	"time"
)

// keyedMutex serializes work per key without blocking other keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// revisionTable remembers the last handled revision per incident for a bounded time.
type revisionTable struct {
	mu        sync.Mutex
	entries   map[string]revisionEntry
	retention time.Duration
}

type revisionEntry struct {
	revision int64
	seenAt   time.Time
}

func newRevisionTable(retention time.Duration) *revisionTable {
	return &revisionTable{
		entries:   make(map[string]revisionEntry),
		retention: retention,
	}
}

// stale reports whether revision is older than the last handled revision of the incident.
func (t *revisionTable) stale(incidentID string, revision int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[incidentID]
	return ok && revision < e.revision
}

func (t *revisionTable) mark(incidentID string, revision int64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[incidentID]; ok && e.revision > revision {
		return
	}
	t.entries[incidentID] = revisionEntry{revision: revision, seenAt: now}
}

func (t *revisionTable) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if now.Sub(e.seenAt) >= t.retention {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *revisionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
