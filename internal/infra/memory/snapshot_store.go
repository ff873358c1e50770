package memory

import (
	"context"
	"sync"

	"atlas-game-engine/internal/domain"
)

// SnapshotStore keeps resumption snapshots in process memory. Snapshots are
// deep-copied on both save and load so the store never shares mutable state
// with its callers.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]domain.Snapshot),
	}
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Session.SessionID] = cloneSnapshot(snap)
	return nil
}

func (s *SnapshotStore) LoadSnapshot(_ context.Context, sessionID string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

func cloneSnapshot(snap domain.Snapshot) domain.Snapshot {
	out := snap
	out.Session = snap.Session.Clone()
	out.Achievements = snap.Achievements.Clone()
	out.Hub = snap.Hub.Clone()
	return out
}
