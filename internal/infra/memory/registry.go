package memory

import (
	"sync"

	"atlas-game-engine/internal/app"
)

// SessionRegistry is the in-process table of live session runtimes. It is
// deliberately not a persistence layer; snapshots carry sessions across
// process boundaries.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*app.Session),
	}
}

func (r *SessionRegistry) Put(sess *app.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = sess
}

func (r *SessionRegistry) Get(sessionID string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

func (r *SessionRegistry) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// HubRegistry is the in-process table of live hub runtimes.
type HubRegistry struct {
	mu   sync.RWMutex
	hubs map[string]*app.Hub
}

func NewHubRegistry() *HubRegistry {
	return &HubRegistry{
		hubs: make(map[string]*app.Hub),
	}
}

func (r *HubRegistry) Put(hub *app.Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hubs[hub.ID()] = hub
}

func (r *HubRegistry) Get(hubSessionID string) (*app.Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hub, ok := r.hubs[hubSessionID]
	return hub, ok
}

func (r *HubRegistry) Delete(hubSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hubs, hubSessionID)
}
