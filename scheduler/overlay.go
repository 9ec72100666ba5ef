package scheduler

import (
	"sync"
	"time"
)

// OverlayStore holds optimistic bridge snapshots applied locally
// after a mutation, before the integration has published the result.
// Reads go through a single accessor so every card sees the same
// layered view: a pending overlay wins over the authoritative
// snapshot, and clearing the overlay falls back to authoritative.
//
// An overlay is either absent or pending; once the reconciler
// confirms the authoritative state matches (or gives up), the overlay
// is cleared and the entry returns to absent. Overlays are keyed by
// bridge sensor entity id so all cards bound to one bridge share
// them.
type OverlayStore struct {
	mu       sync.Mutex
	overlays map[string]*overlay
}

type overlay struct {
	snapshot *Snapshot
	since    time.Time
	attempts int
}

// NewOverlayStore creates an empty store.
func NewOverlayStore() *OverlayStore {
	return &OverlayStore{
		overlays: map[string]*overlay{},
	}
}

// Apply installs a pending overlay for a bridge, replacing any
// previous one. The attempt counter restarts; a new mutation starts a
// new reconciliation.
func (s *OverlayStore) Apply(bridgeID string, snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overlays[bridgeID] = &overlay{
		snapshot: snap,
		since:    time.Now(),
	}
}

// Read returns the snapshot cards should render: the pending overlay
// when one exists, otherwise the authoritative snapshot.
func (s *OverlayStore) Read(bridgeID string, authoritative *Snapshot) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.overlays[bridgeID]; ok {
		return o.snapshot
	}

	return authoritative
}

// Clear removes the overlay for a bridge, returning reads to the
// authoritative snapshot.
func (s *OverlayStore) Clear(bridgeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overlays, bridgeID)
}

// Pending reports whether a bridge has an overlay in flight, with its
// attempt count and start time.
func (s *OverlayStore) Pending(bridgeID string) (attempts int, since time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overlays[bridgeID]
	if !ok {
		return 0, time.Time{}, false
	}

	return o.attempts, o.since, true
}

// Bump increments a pending overlay's attempt counter and returns the
// new count. Returns 0 when the overlay has already been cleared.
func (s *OverlayStore) Bump(bridgeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overlays[bridgeID]
	if !ok {
		return 0
	}

	o.attempts++

	return o.attempts
}
