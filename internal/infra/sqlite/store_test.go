package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

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

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/atlas.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestStoreManifestRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutManifest(ctx, "compass-basics", []byte(compassDoc)); err != nil {
		t.Fatalf("put manifest: %v", err)
	}
	raw, err := store.LoadManifest(ctx, "compass-basics")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if string(raw) != compassDoc {
		t.Fatalf("loaded document differs from stored one")
	}

	if _, err := store.LoadManifest(ctx, "ghost"); !errors.Is(err, domain.ErrManifestNotFound) {
		t.Fatalf("got %v, want ErrManifestNotFound", err)
	}
}

func TestStoreManifestOverwrite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutManifest(ctx, "compass-basics", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("put manifest: %v", err)
	}
	if err := store.PutManifest(ctx, "compass-basics", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("put manifest again: %v", err)
	}
	raw, err := store.LoadManifest(ctx, "compass-basics")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if string(raw) != `{"v":2}` {
		t.Fatalf("expected latest document, got %s", raw)
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	state := domain.NewSessionState("sess-1", "compass-basics", now)
	state.CurrentSceneID = "intro"
	state.Answers["q-1"] = []string{"opt-a"}
	snap := domain.NewSnapshot(state, domain.NewAchievementState(), nil, now)

	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, err := store.LoadSnapshot(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got.Version != domain.SnapshotVersion {
		t.Fatalf("version = %d", got.Version)
	}
	if got.GameID != "compass-basics" || got.Session.CurrentSceneID != "intro" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if len(got.Session.Answers["q-1"]) != 1 || got.Session.Answers["q-1"][0] != "opt-a" {
		t.Fatalf("answers not preserved: %+v", got.Session.Answers)
	}

	if _, err := store.LoadSnapshot(ctx, "ghost"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("got %v, want ErrSnapshotNotFound", err)
	}
}

func TestStoreSnapshotOverwrite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	state := domain.NewSessionState("sess-1", "compass-basics", now)
	state.CurrentSceneID = "intro"
	if err := store.SaveSnapshot(ctx, domain.NewSnapshot(state, domain.NewAchievementState(), nil, now)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	state.CurrentSceneID = "wrap"
	if err := store.SaveSnapshot(ctx, domain.NewSnapshot(state, domain.NewAchievementState(), nil, now.Add(time.Minute))); err != nil {
		t.Fatalf("save snapshot again: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got.Session.CurrentSceneID != "wrap" {
		t.Fatalf("expected latest snapshot, at %s", got.Session.CurrentSceneID)
	}
}

// The store slots in behind the in-memory manifest cache, so a single-binary
// deployment still gets parsing, validation and TTL caching for free.
func TestStoreServesManifestRepository(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutManifest(ctx, "compass-basics", []byte(compassDoc)); err != nil {
		t.Fatalf("put manifest: %v", err)
	}

	repo := memory.NewManifestRepository(store, time.Minute)
	m, err := repo.GetManifest(ctx, "compass-basics")
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if m.StartScene != "intro" || len(m.Scenes) != 2 {
		t.Fatalf("unexpected manifest: start=%s scenes=%d", m.StartScene, len(m.Scenes))
	}
}
