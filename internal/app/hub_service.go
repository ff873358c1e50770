package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"atlas-game-engine/internal/domain"
)

// HubRegistry tracks the live hub runtimes of this process.
type HubRegistry interface {
	Put(hub *Hub)
	Get(hubSessionID string) (*Hub, bool)
	Delete(hubSessionID string)
}

// Hub coordinates one learner's traversal of a multi-world experience. It
// watches each opened world's event feed and folds terminal results back
// into the shared hub state; the worlds themselves stay black boxes.
//
// Lock ordering: hub methods never call into a session while holding the hub
// mutex. Sessions call the hub's state provider under their own lock, so the
// reverse would invert the order.
type Hub struct {
	id  string
	def *domain.HubDefinition
	now func() time.Time

	mu          sync.Mutex
	state       *domain.WorldHubState
	sessions    map[int]string // worldIndex -> engine session id
	subscribers map[chan domain.Event]struct{}
	cancels     []func()
	closed      bool
}

func newHub(id string, def *domain.HubDefinition, state *domain.WorldHubState, now func() time.Time) *Hub {
	return &Hub{
		id:          id,
		def:         def,
		now:         now,
		state:       state,
		sessions:    make(map[int]string),
		subscribers: make(map[chan domain.Event]struct{}),
	}
}

// ID returns the hub session id.
func (h *Hub) ID() string { return h.id }

// Definition returns the shared, read-only hub definition.
func (h *Hub) Definition() *domain.HubDefinition { return h.def }

// State returns a deep copy of the current hub state. Hosts persist it
// themselves or let attached world sessions carry it in their snapshots.
func (h *Hub) State() *domain.WorldHubState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}

// WorldSession returns the engine session id attached to the world, if the
// world has been opened in this process.
func (h *Hub) WorldSession(worldIndex int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.sessions[worldIndex]
	return id, ok
}

// Subscribe registers a hub event feed; world completions arrive on it.
// Same contract as Session.Subscribe.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close stops the world watchers and closes subscriber channels. Attached
// world sessions stay alive; the engine owns them.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	cancels := h.cancels
	h.cancels = nil
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
	// Watcher subscriptions lock their sessions; cancel outside the hub lock.
	for _, cancel := range cancels {
		cancel()
	}
}

// openCheck validates that the world can be opened right now and returns the
// session id already attached to it, if any.
func (h *Hub) openCheck(worldIndex int, now time.Time) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", domain.ErrHubNotFound
	}
	if h.state.Expired(now) {
		return "", domain.ErrHubExpired
	}
	status, ok := h.state.World(worldIndex)
	if !ok {
		return "", domain.ErrWorldNotFound
	}
	switch status.Status {
	case domain.WorldLocked:
		return "", domain.ErrWorldLocked
	case domain.WorldCompleted:
		return "", domain.ErrWorldCompleted
	}
	return h.sessions[worldIndex], nil
}

// markInProgress transitions the world and remembers its session id.
func (h *Hub) markInProgress(worldIndex int, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := domain.MarkWorldInProgress(h.state, worldIndex)
	if err != nil {
		return err
	}
	h.state = next
	h.sessions[worldIndex] = sessionID
	return nil
}

func (h *Hub) addCancel(cancel func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.cancels = append(h.cancels, cancel)
	return true
}

// applyWorldCompleted folds a world's terminal result into the hub state and
// publishes the completion. One completion may unlock several worlds.
func (h *Hub) applyWorldCompleted(worldIndex int, score, completionPct float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	next, err := domain.ApplyWorldCompleted(h.def, h.state, worldIndex, score, completionPct)
	if err != nil {
		return
	}
	h.state = next
	world, _ := h.def.World(worldIndex)
	h.broadcastLocked(domain.Event{
		Type:         domain.EventWorldCompleted,
		HubSessionID: h.id,
		GameID:       world.GameID,
		WorldIndex:   worldIndex,
		TotalScore:   next.TotalScore,
		At:           h.now(),
	})
}

func (h *Hub) broadcastLocked(evt domain.Event) {
	for ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
}

// HubService contains the world hub use cases.
type HubService struct {
	engine *EngineService
	hubs   HubRegistry
	now    func() time.Time
	newID  func() string
}

// HubOption customizes a HubService at construction time.
type HubOption func(*HubService)

// WithHubClock injects the time source.
func WithHubClock(now func() time.Time) HubOption {
	return func(s *HubService) { s.now = now }
}

// WithHubIDGenerator overrides hub session id generation.
func WithHubIDGenerator(fn func() string) HubOption {
	return func(s *HubService) { s.newID = fn }
}

func NewHubService(engine *EngineService, hubs HubRegistry, opts ...HubOption) *HubService {
	s := &HubService{
		engine: engine,
		hubs:   hubs,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateHub validates the definition and registers a fresh hub runtime.
// Worlds without prerequisites start available, the rest locked.
func (s *HubService) CreateHub(def *domain.HubDefinition) (*Hub, error) {
	if errs := domain.ValidateHub(def); errs.HasFatal() {
		return nil, errs.Fatal()
	}
	id := s.newID()
	hub := newHub(id, def, domain.NewWorldHubState(def, id, s.now()), s.now)
	s.hubs.Put(hub)
	return hub, nil
}

// ResumeHub rebuilds a hub runtime from persisted hub state. Worlds left in
// progress keep their status; reattach their sessions with ResumeWorld.
func (s *HubService) ResumeHub(def *domain.HubDefinition, state *domain.WorldHubState) (*Hub, error) {
	if errs := domain.ValidateHub(def); errs.HasFatal() {
		return nil, errs.Fatal()
	}
	restored, err := domain.RestoreHubState(def, state)
	if err != nil {
		return nil, err
	}
	hub := newHub(restored.HubSessionID, def, restored, s.now)
	s.hubs.Put(hub)
	return hub, nil
}

// Hub returns the live hub runtime registered under the id.
func (s *HubService) Hub(hubSessionID string) (*Hub, bool) {
	return s.hubs.Get(hubSessionID)
}

// OpenWorld starts the engine session for an unlocked world and wires its
// completion back into the hub. Opening an already-open world returns the
// attached session.
func (s *HubService) OpenWorld(ctx context.Context, hubSessionID string, worldIndex int) (*Session, error) {
	hub, ok := s.hubs.Get(hubSessionID)
	if !ok {
		return nil, domain.ErrHubNotFound
	}
	attached, err := hub.openCheck(worldIndex, s.now())
	if err != nil {
		return nil, err
	}
	if attached != "" {
		if sess, ok := s.engine.Session(attached); ok {
			return sess, nil
		}
	}
	world, _ := hub.def.World(worldIndex)
	sess, err := s.engine.createSession(ctx, world.GameID, withSessionHub(hub.State))
	if err != nil {
		return nil, err
	}
	if err := hub.markInProgress(worldIndex, sess.ID()); err != nil {
		return nil, err
	}
	s.watchWorld(hub, worldIndex, sess)
	return sess, nil
}

// ResumeWorld reattaches a previously opened world to its engine session,
// resuming the session from its snapshot if it is no longer live.
func (s *HubService) ResumeWorld(ctx context.Context, hubSessionID string, worldIndex int, sessionID string) (*Session, error) {
	hub, ok := s.hubs.Get(hubSessionID)
	if !ok {
		return nil, domain.ErrHubNotFound
	}
	attached, err := hub.openCheck(worldIndex, s.now())
	if err != nil {
		return nil, err
	}
	if attached == sessionID {
		if sess, ok := s.engine.Session(sessionID); ok {
			return sess, nil
		}
	}
	world, _ := hub.def.World(worldIndex)
	sess, err := s.engine.resumeSession(ctx, sessionID, withSessionHub(hub.State))
	if err != nil {
		return nil, err
	}
	if sess.GameID() != world.GameID {
		return nil, &domain.StaleSessionError{
			GameID: sess.GameID(),
			Reason: fmt.Sprintf("session belongs to game %q, world %d runs %q", sess.GameID(), worldIndex, world.GameID),
		}
	}
	if err := hub.markInProgress(worldIndex, sess.ID()); err != nil {
		return nil, err
	}
	s.watchWorld(hub, worldIndex, sess)
	return sess, nil
}

// CloseHub tears the hub runtime down. World sessions stay with the engine.
func (s *HubService) CloseHub(hubSessionID string) {
	hub, ok := s.hubs.Get(hubSessionID)
	if !ok {
		return
	}
	hub.Close()
	s.hubs.Delete(hubSessionID)
}

// watchWorld consumes the world session's event feed until it reports
// completion, then folds the terminal result into the hub.
func (s *HubService) watchWorld(hub *Hub, worldIndex int, sess *Session) {
	ch, cancel := sess.Subscribe()
	if !hub.addCancel(cancel) {
		cancel()
		return
	}
	go func() {
		defer cancel()
		for evt := range ch {
			if evt.Type != domain.EventSessionCompleted {
				continue
			}
			score, pct := sess.Totals()
			hub.applyWorldCompleted(worldIndex, score, pct)
			return
		}
	}()
}
