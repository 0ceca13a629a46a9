package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

// sessionTable is the single-process in-memory session cache. Access to a
// given identity's session is serialized by a per-identity mutex so the
// auto-continuation loop never sees interleaved mutation; different
// identities proceed concurrently.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	locks    map[string]*sync.Mutex
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[string]*models.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-identity mutex, creating it on first use. The
// caller must release it via the returned unlock func.
func (t *sessionTable) lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// get returns the cached session for an identity, or nil. Caller must hold
// the identity lock.
func (t *sessionTable) get(id string) *models.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// put caches a session. Caller must hold the identity lock.
func (t *sessionTable) put(id string, session *models.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = session
}

// drop removes a session from the cache.
func (t *sessionTable) drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// count returns the number of cached sessions.
func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// evictIdle drops sessions idle for longer than the timeout. Only the
// in-memory cache entry is dropped; the persisted lead is untouched.
func (t *sessionTable) evictIdle(timeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	now := time.Now()
	for id, session := range t.sessions {
		if now.Sub(session.LastInteraction) > timeout {
			delete(t.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Evicted idle sessions", "count", evicted)
	}
	return evicted
}

// dedupRing remembers recently seen event IDs so redelivered events are
// dropped. Fixed capacity, oldest entries overwritten first.
type dedupRing struct {
	mu   sync.Mutex
	ids  []string
	set  map[string]struct{}
	next int
}

func newDedupRing(capacity int) *dedupRing {
	return &dedupRing{
		ids: make([]string, capacity),
		set: make(map[string]struct{}, capacity),
	}
}

// seen records an event ID, reporting whether it was already present.
func (r *dedupRing) seen(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[id]; ok {
		return true
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return false
}
