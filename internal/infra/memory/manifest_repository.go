package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"atlas-game-engine/internal/domain"
)

// ManifestLoader fetches raw manifest documents from a backing store
// (e.g., Postgres, SQLite, object storage).
type ManifestLoader interface {
	LoadManifest(ctx context.Context, gameID string) ([]byte, error)
}

// ManifestRepository caches parsed manifests with TTL so session creation does
// not re-read and re-validate the document on every hit.
type ManifestRepository struct {
	loader ManifestLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedManifest
}

type cachedManifest struct {
	manifest  *domain.GameManifest
	expiresAt time.Time
}

func NewManifestRepository(loader ManifestLoader, ttl time.Duration) *ManifestRepository {
	return &ManifestRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedManifest),
	}
}

// GetManifest returns the parsed manifest, loading and validating it on cache
// miss. Documents with fatal validation errors are never cached.
func (r *ManifestRepository) GetManifest(ctx context.Context, gameID string) (*domain.GameManifest, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[gameID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.manifest, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[gameID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.manifest, nil
		}
		r.mu.RUnlock()

		raw, err := r.loader.LoadManifest(ctx, gameID)
		if err != nil {
			return nil, err
		}
		m, errs := domain.ParseManifest(raw)
		if m == nil {
			return nil, errs
		}

		r.mu.Lock()
		r.cache[gameID] = cachedManifest{
			manifest:  m,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.GameManifest), nil
}

// StaticManifestLoader is a simple loader backed by an in-memory map (useful
// for tests/demos).
type StaticManifestLoader struct {
	docs map[string][]byte
}

func NewStaticManifestLoader(docs map[string][]byte) *StaticManifestLoader {
	return &StaticManifestLoader{docs: docs}
}

func (l *StaticManifestLoader) LoadManifest(_ context.Context, gameID string) ([]byte, error) {
	if doc, ok := l.docs[gameID]; ok {
		return doc, nil
	}
	return nil, domain.ErrManifestNotFound
}

func (r *ManifestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
