package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"atlas-game-engine/internal/domain"
	"atlas-game-engine/internal/infra/memory"
)

const compassDoc = `{
	"schemaVersion": "1.0.0",
	"gameId": "compass-basics",
	"metadata": {"title": "Compass Basics"},
	"startScene": "intro",
	"scenes": [
		{"sceneId": "intro", "type": "introduction", "required": true, "navigation": {"next": "wrap"}},
		{"sceneId": "wrap", "type": "summary", "navigation": {}}
	]
}`

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func TestManifestCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		ManifestLoader: memory.NewStaticManifestLoader(map[string][]byte{
			"compass-basics": []byte(compassDoc),
		}),
	}
	cache := NewManifestCache(newClient(mr), loader, time.Minute)

	m, err := cache.GetManifest(context.Background(), "compass-basics")
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if m.GameID != "compass-basics" {
		t.Fatalf("parsed manifest = %s", m.GameID)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("atlas:manifest:compass-basics") {
		t.Fatal("expected cached document in redis")
	}

	// Second call should hit cache, loader not incremented.
	if _, err := cache.GetManifest(context.Background(), "compass-basics"); err != nil {
		t.Fatalf("get manifest 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

func TestManifestCacheReloadsAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		ManifestLoader: memory.NewStaticManifestLoader(map[string][]byte{
			"compass-basics": []byte(compassDoc),
		}),
	}
	cache := NewManifestCache(newClient(mr), loader, time.Minute)

	if _, err := cache.GetManifest(context.Background(), "compass-basics"); err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	mr.FastForward(2 * time.Minute) // past ttl plus any jitter
	if _, err := cache.GetManifest(context.Background(), "compass-basics"); err != nil {
		t.Fatalf("get manifest after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}
}

func TestManifestCachePropagatesLoaderError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewManifestCache(newClient(mr), memory.NewStaticManifestLoader(nil), time.Minute)
	if _, err := cache.GetManifest(context.Background(), "ghost"); !errors.Is(err, domain.ErrManifestNotFound) {
		t.Fatalf("got %v, want ErrManifestNotFound", err)
	}
	if mr.Exists("atlas:manifest:ghost") {
		t.Fatal("failed load must not leave a cache entry")
	}
}

type countingLoader struct {
	memory.ManifestLoader
	calls int
}

func (l *countingLoader) LoadManifest(ctx context.Context, gameID string) ([]byte, error) {
	l.calls++
	return l.ManifestLoader.LoadManifest(ctx, gameID)
}
