package redis

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"atlas-game-engine/internal/domain"
)

// ManifestLoader fetches raw manifest documents from a backing store
// (e.g., Postgres, SQLite, object storage).
type ManifestLoader interface {
	LoadManifest(ctx context.Context, gameID string) ([]byte, error)
}

// ManifestCache caches raw manifest documents in Redis and falls back to a
// loader on cache miss. The document is stored verbatim:
//
//	SET atlas:manifest:{gameID} {json} EX ttl
//
// Parsing re-validates on every read, so a corrupt cache entry degrades to a
// reload instead of poisoning sessions.
type ManifestCache struct {
	client *redis.Client
	loader ManifestLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewManifestCache(client *redis.Client, loader ManifestLoader, ttl time.Duration) *ManifestCache {
	return &ManifestCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ManifestCache) GetManifest(ctx context.Context, gameID string) (*domain.GameManifest, error) {
	if m := c.cached(ctx, gameID); m != nil {
		return m, nil
	}

	result, err, _ := c.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if m := c.cached(ctx, gameID); m != nil {
			return m, nil
		}

		raw, err := c.loader.LoadManifest(ctx, gameID)
		if err != nil {
			return nil, err
		}
		m, errs := domain.ParseManifest(raw)
		if m == nil {
			return nil, errs
		}

		// best-effort: a failed write just means the next call reloads
		_ = c.client.Set(ctx, c.key(gameID), raw, c.ttlWithJitter()).Err()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.GameManifest), nil
}

// cached returns the manifest parsed from the cache entry, or nil on a miss
// or an entry that no longer parses.
func (c *ManifestCache) cached(ctx context.Context, gameID string) *domain.GameManifest {
	raw, err := c.client.Get(ctx, c.key(gameID)).Bytes()
	if err != nil || len(raw) == 0 {
		return nil
	}
	m, _ := domain.ParseManifest(raw)
	return m
}

func (c *ManifestCache) key(gameID string) string {
	return "atlas:manifest:" + gameID
}

func (c *ManifestCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
