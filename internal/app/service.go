package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"atlas-game-engine/internal/domain"
)

// ManifestRepository loads parsed manifests (from cache/backing store).
type ManifestRepository interface {
	GetManifest(ctx context.Context, gameID string) (*domain.GameManifest, error)
}

// SessionRegistry tracks the live session runtimes of this process.
// Snapshots, not the registry, are the cross-process contract.
type SessionRegistry interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// SnapshotStore persists resumption snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)
}

// EngineService contains the session lifecycle use cases.
type EngineService struct {
	manifests ManifestRepository
	registry  SessionRegistry
	snapshots SnapshotStore
	warn      func(error)
	now       func() time.Time
	newID     func() string
}

// ServiceOption customizes an EngineService at construction time.
type ServiceOption func(*EngineService)

// WithSnapshots enables snapshot persistence for every session the service
// creates or resumes.
func WithSnapshots(store SnapshotStore) ServiceOption {
	return func(s *EngineService) { s.snapshots = store }
}

// WithClock injects the time source shared by all sessions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *EngineService) { s.now = now }
}

// WithIDGenerator overrides session id generation, for deterministic tests.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *EngineService) { s.newID = fn }
}

// WithWarn routes non-fatal failures somewhere other than the default logger.
func WithWarn(fn func(error)) ServiceOption {
	return func(s *EngineService) { s.warn = fn }
}

func NewEngineService(manifests ManifestRepository, registry SessionRegistry, opts ...ServiceOption) *EngineService {
	s := &EngineService{
		manifests: manifests,
		registry:  registry,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.warn == nil {
		s.warn = func(err error) { log.Printf("engine: %v", err) }
	}
	return s
}

// CreateSession loads the manifest and registers a fresh session runtime.
// The session has not entered any scene yet; the caller starts it.
func (s *EngineService) CreateSession(ctx context.Context, gameID string) (*Session, error) {
	return s.createSession(ctx, gameID)
}

func (s *EngineService) createSession(ctx context.Context, gameID string, extra ...SessionOption) (*Session, error) {
	m, err := s.manifests.GetManifest(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess := NewSession(s.newID(), m, s.sessionOptions(extra)...)
	s.registry.Put(sess)
	return sess, nil
}

// Session returns the live runtime registered under the id.
func (s *EngineService) Session(sessionID string) (*Session, bool) {
	return s.registry.Get(sessionID)
}

// ResumeSession returns the live runtime if this process still has it and
// otherwise rebuilds one from the stored snapshot.
func (s *EngineService) ResumeSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.resumeSession(ctx, sessionID)
}

func (s *EngineService) resumeSession(ctx context.Context, sessionID string, extra ...SessionOption) (*Session, error) {
	if sess, ok := s.registry.Get(sessionID); ok {
		return sess, nil
	}
	if s.snapshots == nil {
		return nil, domain.ErrSnapshotNotFound
	}
	snap, err := s.snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.resumeSnapshot(ctx, snap, extra...)
}

// ResumeSnapshot rebuilds a runtime from a snapshot the host held onto
// itself, re-validating it against the current manifest.
func (s *EngineService) ResumeSnapshot(ctx context.Context, snap domain.Snapshot) (*Session, error) {
	return s.resumeSnapshot(ctx, snap)
}

func (s *EngineService) resumeSnapshot(ctx context.Context, snap domain.Snapshot, extra ...SessionOption) (*Session, error) {
	m, err := s.manifests.GetManifest(ctx, snap.GameID)
	if err != nil {
		return nil, err
	}
	sess, err := NewSessionFromSnapshot(snap, m, s.sessionOptions(extra)...)
	if err != nil {
		return nil, err
	}
	s.registry.Put(sess)
	return sess, nil
}

// CloseSession tears the runtime down and forgets it. The stored snapshot,
// if any, stays behind for a later resume.
func (s *EngineService) CloseSession(sessionID string) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}
	sess.Close()
	s.registry.Delete(sessionID)
}

func (s *EngineService) sessionOptions(extra []SessionOption) []SessionOption {
	opts := []SessionOption{WithSessionClock(s.now), WithSessionWarn(s.warn)}
	if s.snapshots != nil {
		opts = append(opts, WithSessionStore(s.snapshots))
	}
	return append(opts, extra...)
}
