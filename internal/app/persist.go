package app

import (
	"context"
	"sync"
	"time"

	"atlas-game-engine/internal/domain"
)

const snapshotWriteTimeout = 5 * time.Second

// snapshotWriter pushes snapshots to a store without ever blocking the
// session: at most one write is in flight, and while it runs only the newest
// offered snapshot is kept. Intermediate states are safe to drop because
// every snapshot is complete on its own.
type snapshotWriter struct {
	store SnapshotStore
	warn  func(error)

	mu       sync.Mutex
	pending  *domain.Snapshot
	inFlight bool
}

func newSnapshotWriter(store SnapshotStore, warn func(error)) *snapshotWriter {
	return &snapshotWriter{store: store, warn: warn}
}

// Offer hands the writer a fresh snapshot. It returns immediately.
func (w *snapshotWriter) Offer(snap domain.Snapshot) {
	w.mu.Lock()
	if w.inFlight {
		w.pending = &snap
		w.mu.Unlock()
		return
	}
	w.inFlight = true
	w.mu.Unlock()
	go w.run(snap)
}

func (w *snapshotWriter) run(snap domain.Snapshot) {
	for {
		w.write(snap)
		w.mu.Lock()
		if w.pending == nil {
			w.inFlight = false
			w.mu.Unlock()
			return
		}
		snap = *w.pending
		w.pending = nil
		w.mu.Unlock()
	}
}

// write reports failures through warn; the in-memory session stays
// authoritative either way.
func (w *snapshotWriter) write(snap domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
	defer cancel()
	if err := w.store.SaveSnapshot(ctx, snap); err != nil {
		w.warn(&domain.PersistenceWarning{SessionID: snap.Session.SessionID, Err: err})
	}
}
