package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"atlas-game-engine/internal/domain"
)

func testHubDef() *domain.HubDefinition {
	return &domain.HubDefinition{
		HubID: "expedition-belt",
		Title: "Expedition Belt",
		Worlds: []domain.WorldDefinition{
			{WorldIndex: 1, GameID: "alpine-expedition", Title: "The Ascent"},
			{WorldIndex: 2, GameID: "auto-bridge", PrerequisiteWorlds: []int{1}},
			{WorldIndex: 3, GameID: "timed-check", PrerequisiteWorlds: []int{1}},
		},
	}
}

func newHubFixture(t *testing.T, opts ...ServiceOption) (*HubService, *EngineService, *recordingStore) {
	t.Helper()
	repo := newFakeManifestRepo(t, expeditionDoc, autoDoc, timedDoc)
	store := newRecordingStore()
	opts = append([]ServiceOption{
		WithClock(fixedClock()),
		WithIDGenerator(sequentialIDs("sess")),
		WithSnapshots(store),
	}, opts...)
	engine := NewEngineService(repo, newFakeRegistry(), opts...)
	hubs := NewHubService(engine, newFakeHubRegistry(),
		WithHubClock(fixedClock()),
		WithHubIDGenerator(sequentialIDs("hub")),
	)
	return hubs, engine, store
}

// completeExpedition drives an alpine-expedition session from wherever it
// stands to its terminal scene with a perfect quiz.
func completeExpedition(t *testing.T, sess *Session) {
	t.Helper()
	if !sess.State().Started() {
		mustStart(t, sess)
		mustAdvance(t, sess, "")
	}
	mustAdvance(t, sess, "ask-politely")
	passGearQuiz(t, sess)
	mustAdvance(t, sess, "")
	mustAdvance(t, sess, "")
	mustAdvance(t, sess, "")
}

func waitForWorldStatus(t *testing.T, hub *Hub, worldIndex int, want domain.WorldStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := hub.State().World(worldIndex); ok && status.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("world %d never reached %s", worldIndex, want)
}

func TestCreateHubInitialAvailability(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	hub, err := hubs.CreateHub(testHubDef())
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	if hub.ID() != "hub-1" {
		t.Fatalf("hub id = %s", hub.ID())
	}
	state := hub.State()
	wantStatus := map[int]domain.WorldStatus{
		1: domain.WorldAvailable,
		2: domain.WorldLocked,
		3: domain.WorldLocked,
	}
	for index, want := range wantStatus {
		status, ok := state.World(index)
		if !ok || status.Status != want {
			t.Fatalf("world %d = %+v, want %s", index, status, want)
		}
	}
}

func TestCreateHubRejectsBrokenDefinition(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	def := &domain.HubDefinition{
		HubID: "broken",
		Worlds: []domain.WorldDefinition{
			{WorldIndex: 1, GameID: "alpine-expedition", PrerequisiteWorlds: []int{2}},
			{WorldIndex: 2, GameID: "auto-bridge", PrerequisiteWorlds: []int{1}},
			{WorldIndex: 3, GameID: "timed-check", PrerequisiteWorlds: []int{9}},
		},
	}
	_, err := hubs.CreateHub(def)
	if err == nil {
		t.Fatal("broken definition accepted")
	}
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T", err)
	}
	codes := make(map[string]bool)
	for _, e := range verrs {
		codes[e.Code] = true
	}
	if !codes["prerequisite_cycle"] || !codes["dangling_prerequisite"] {
		t.Fatalf("codes = %v, want cycle and dangling findings", codes)
	}
}

func TestOpenWorldGating(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	hub, err := hubs.CreateHub(testHubDef())
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ctx := context.Background()

	if _, err := hubs.OpenWorld(ctx, hub.ID(), 2); !errors.Is(err, domain.ErrWorldLocked) {
		t.Fatalf("locked world: got %v, want ErrWorldLocked", err)
	}
	if _, err := hubs.OpenWorld(ctx, hub.ID(), 99); !errors.Is(err, domain.ErrWorldNotFound) {
		t.Fatalf("unknown world: got %v, want ErrWorldNotFound", err)
	}
	if _, err := hubs.OpenWorld(ctx, "nope", 1); !errors.Is(err, domain.ErrHubNotFound) {
		t.Fatalf("unknown hub: got %v, want ErrHubNotFound", err)
	}
}

func TestOpenWorldAttachesOnce(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	hub, err := hubs.CreateHub(testHubDef())
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ctx := context.Background()

	sess, err := hubs.OpenWorld(ctx, hub.ID(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if status, _ := hub.State().World(1); status.Status != domain.WorldInProgress {
		t.Fatalf("world 1 = %s, want in_progress", status.Status)
	}
	again, err := hubs.OpenWorld(ctx, hub.ID(), 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again != sess {
		t.Fatal("reopening an in-progress world must return the attached session")
	}
	if id, ok := hub.WorldSession(1); !ok || id != sess.ID() {
		t.Fatalf("attached session = %s/%v", id, ok)
	}
}

func TestWorldCompletionUnlocksDownstream(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	hub, err := hubs.CreateHub(testHubDef())
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ch, cancel := hub.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess, err := hubs.OpenWorld(ctx, hub.ID(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	completeExpedition(t, sess)

	evt := waitForEvent(t, ch, 2*time.Second, func(e domain.Event) bool {
		return e.Type == domain.EventWorldCompleted
	})
	if evt.HubSessionID != hub.ID() || evt.WorldIndex != 1 || evt.GameID != "alpine-expedition" {
		t.Fatalf("world_completed = %+v", evt)
	}
	if !approx(evt.TotalScore, 9) {
		t.Fatalf("hub total = %v, want 9", evt.TotalScore)
	}

	state := hub.State()
	world, _ := state.World(1)
	if world.Status != domain.WorldCompleted || !approx(world.Score, 9) || !approx(world.CompletionPercentage, 100) {
		t.Fatalf("world 1 = %+v", world)
	}
	// One completion unlocks every world it was the last prerequisite for.
	for _, index := range []int{2, 3} {
		status, _ := state.World(index)
		if status.Status != domain.WorldAvailable {
			t.Fatalf("world %d = %s, want available", index, status.Status)
		}
	}
	if !approx(state.TotalScore, 9) {
		t.Fatalf("total = %v, want 9", state.TotalScore)
	}

	if _, err := hubs.OpenWorld(ctx, hub.ID(), 1); !errors.Is(err, domain.ErrWorldCompleted) {
		t.Fatalf("reopen completed: got %v, want ErrWorldCompleted", err)
	}
	if _, err := hubs.OpenWorld(ctx, hub.ID(), 2); err != nil {
		t.Fatalf("open unlocked world: %v", err)
	}
}

func TestResumeWorldReattaches(t *testing.T) {
	hubs, engine, store := newHubFixture(t)
	hub, err := hubs.CreateHub(testHubDef())
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ctx := context.Background()

	sess, err := hubs.OpenWorld(ctx, hub.ID(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustStart(t, sess)
	mustAdvance(t, sess, "")
	waitForSnapshot(t, store, func(snap domain.Snapshot) bool {
		return snap.Session.CurrentSceneID == "briefing"
	})
	engine.CloseSession(sess.ID())

	resumed, err := hubs.ResumeWorld(ctx, hub.ID(), 1, sess.ID())
	if err != nil {
		t.Fatalf("resume world: %v", err)
	}
	if resumed.ID() != sess.ID() || resumed == sess {
		t.Fatal("resume must rebuild the same session id on a fresh runtime")
	}
	if resumed.State().CurrentSceneID != "briefing" {
		t.Fatalf("resumed at %s, want briefing", resumed.State().CurrentSceneID)
	}

	// The watcher is re-attached: finishing still completes the world.
	completeExpedition(t, resumed)
	waitForWorldStatus(t, hub, 1, domain.WorldCompleted)
	waitForWorldStatus(t, hub, 2, domain.WorldAvailable)
}

func TestResumeWorldRejectsForeignSession(t *testing.T) {
	hubs, engine, store := newHubFixture(t)
	def := &domain.HubDefinition{
		HubID: "pair",
		Worlds: []domain.WorldDefinition{
			{WorldIndex: 1, GameID: "alpine-expedition"},
			{WorldIndex: 2, GameID: "auto-bridge"},
		},
	}
	hub, err := hubs.CreateHub(def)
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "alpine-expedition")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	mustStart(t, sess)
	waitForSnapshot(t, store, func(snap domain.Snapshot) bool {
		return snap.Session.SessionID == sess.ID()
	})
	engine.CloseSession(sess.ID())

	_, err = hubs.ResumeWorld(ctx, hub.ID(), 2, sess.ID())
	var stale *domain.StaleSessionError
	if !errors.As(err, &stale) {
		t.Fatalf("got %v, want StaleSessionError", err)
	}
	if status, _ := hub.State().World(2); status.Status != domain.WorldAvailable {
		t.Fatalf("rejected resume mutated world 2: %s", status.Status)
	}
}

func TestResumeHubRestoresProgress(t *testing.T) {
	hubs, _, _ := newHubFixture(t)
	def := testHubDef()
	hub, err := hubs.CreateHub(def)
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	ctx := context.Background()

	sess, err := hubs.OpenWorld(ctx, hub.ID(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	completeExpedition(t, sess)
	waitForWorldStatus(t, hub, 1, domain.WorldCompleted)

	state := hub.State()
	hubs.CloseHub(hub.ID())

	restored, err := hubs.ResumeHub(def, state)
	if err != nil {
		t.Fatalf("resume hub: %v", err)
	}
	if restored.ID() != hub.ID() {
		t.Fatalf("restored id = %s, want %s", restored.ID(), hub.ID())
	}
	world, _ := restored.State().World(1)
	if world.Status != domain.WorldCompleted || !approx(world.Score, 9) {
		t.Fatalf("world 1 = %+v", world)
	}
	if _, err := hubs.OpenWorld(ctx, restored.ID(), 3); err != nil {
		t.Fatalf("open unlocked world on restored hub: %v", err)
	}
}

func TestHubExpiry(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	current := base
	repo := newFakeManifestRepo(t, expeditionDoc, autoDoc, timedDoc)
	engine := NewEngineService(repo, newFakeRegistry(), WithClock(fixedClock()))
	hubs := NewHubService(engine, newFakeHubRegistry(),
		WithHubClock(func() time.Time { return current }),
		WithHubIDGenerator(sequentialIDs("hub")),
	)

	def := testHubDef()
	def.SessionTTLSeconds = 60
	hub, err := hubs.CreateHub(def)
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	if hub.State().Expired(current) {
		t.Fatal("fresh hub already expired")
	}

	current = base.Add(2 * time.Minute)
	if _, err := hubs.OpenWorld(context.Background(), hub.ID(), 1); !errors.Is(err, domain.ErrHubExpired) {
		t.Fatalf("got %v, want ErrHubExpired", err)
	}
}
