package statusstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentconsole/internal/notify"
)

// Mutate applies fn to agentID's persisted entries under the
// read-merge-write discipline shared by every writer: re-read the backend,
// let fn merge its change in, write back, broadcast. fn returns false to
// report a no-op, which skips both the write and the broadcast.
//
// The global scanner uses this directly; Store wraps it per instance.
func Mutate(storage Storage, changes *notify.Broadcaster, agentID string, fn func(entries map[string]RunStatus) bool) error {
	entries, err := storage.Load(agentID)
	if err != nil {
		return fmt.Errorf("failed to load status namespace: %w", err)
	}
	if !fn(entries) {
		return nil
	}
	if err := storage.Save(agentID, entries); err != nil {
		return fmt.Errorf("failed to save status namespace: %w", err)
	}
	changes.Publish()
	return nil
}

// Store is one view instance's handle on an agent's persisted run-status
// namespace. Reads are served from a local snapshot; every mutation goes
// through read-merge-write against the backend, and a broadcast subscription
// refreshes the snapshot whenever any instance (this one included) writes.
type Store struct {
	agentID     string
	storage     Storage
	changes     *notify.Broadcaster
	unsubscribe func()

	mu       sync.Mutex
	snapshot map[string]RunStatus
}

// New opens a store for one agent namespace and subscribes it to the change
// broadcast. Call Close when the owning view goes away.
func New(agentID string, storage Storage, changes *notify.Broadcaster) *Store {
	s := &Store{
		agentID:  agentID,
		storage:  storage,
		changes:  changes,
		snapshot: map[string]RunStatus{},
	}
	s.Refresh()
	s.unsubscribe = changes.Subscribe(s.Refresh)
	return s
}

// Close drops the broadcast subscription.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Refresh discards the local snapshot and re-reads the backend.
func (s *Store) Refresh() {
	entries, err := s.storage.Load(s.agentID)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", s.agentID).Msg("Status refresh failed, keeping stale snapshot")
		return
	}
	s.mu.Lock()
	s.snapshot = entries
	s.mu.Unlock()
}

// Get returns the entry for a thread from the last materialized snapshot.
func (s *Store) Get(threadID string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.snapshot[threadID]
	return entry, ok
}

// Pending returns the entries the UI should surface: every non-terminal run,
// plus terminal runs the user has not viewed yet.
func (s *Store) Pending() map[string]RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]RunStatus)
	for threadID, entry := range s.snapshot {
		if !entry.Status.Terminal() || !entry.Viewed {
			out[threadID] = entry
		}
	}
	return out
}

// Set inserts or overwrites a thread's entry.
func (s *Store) Set(threadID string, entry RunStatus) error {
	return s.mutate(func(entries map[string]RunStatus) bool {
		entries[threadID] = entry
		return true
	})
}

// Update changes only the status field of an existing entry. A missing entry
// means another instance already removed it; that is a no-op, not an error.
// A terminal status landing on an entry the user already viewed retires it
// outright, the same way MarkViewed retires a viewed terminal entry.
func (s *Store) Update(threadID string, status Status) error {
	return s.mutate(func(entries map[string]RunStatus) bool {
		entry, ok := entries[threadID]
		if !ok || entry.Status == status {
			return false
		}
		if entry.Viewed && status.Terminal() {
			delete(entries, threadID)
			return true
		}
		entry.Status = status
		entries[threadID] = entry
		return true
	})
}

// MarkViewed records that the user has seen a run's current state. A
// terminal entry is deleted outright: terminal plus viewed means there is
// nothing left to track. Non-terminal entries keep polling with the viewed
// flag set. Missing or already-viewed entries are no-ops.
func (s *Store) MarkViewed(threadID string) error {
	return s.mutate(func(entries map[string]RunStatus) bool {
		entry, ok := entries[threadID]
		if !ok || entry.Viewed {
			return false
		}
		if entry.Status.Terminal() {
			delete(entries, threadID)
			return true
		}
		entry.Viewed = true
		entries[threadID] = entry
		return true
	})
}

// Clear unconditionally deletes a thread's entry.
func (s *Store) Clear(threadID string) error {
	return s.mutate(func(entries map[string]RunStatus) bool {
		if _, ok := entries[threadID]; !ok {
			return false
		}
		delete(entries, threadID)
		return true
	})
}

func (s *Store) mutate(fn func(entries map[string]RunStatus) bool) error {
	var merged map[string]RunStatus
	err := Mutate(s.storage, s.changes, s.agentID, func(entries map[string]RunStatus) bool {
		changed := fn(entries)
		merged = entries
		return changed
	})
	if err != nil {
		return err
	}
	// The broadcast will refresh us as well, but adopting the merged map now
	// keeps this instance's reads coherent with its own write.
	s.mu.Lock()
	s.snapshot = merged
	s.mu.Unlock()
	return nil
}
