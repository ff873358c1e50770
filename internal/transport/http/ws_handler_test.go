package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"atlas-game-engine/internal/app"
	"atlas-game-engine/internal/infra/memory"
)

const trailDoc = `{
	"schemaVersion": "1.0.0",
	"gameId": "trail-basics",
	"metadata": {"title": "Trail Basics"},
	"startScene": "intro",
	"scenes": [
		{"sceneId": "intro", "type": "introduction", "required": true, "title": "Welcome", "navigation": {"next": "trail-quiz"}},
		{"sceneId": "trail-quiz", "type": "quiz", "required": true,
			"questions": [
				{"questionId": "q-1", "kind": "multiple-choice", "prompt": "Which side of the tree grows moss?",
					"options": [
						{"optionId": "o-1", "text": "The shaded side", "correct": true},
						{"optionId": "o-2", "text": "The sunny side"}
					],
					"points": 2}
			],
			"scoring": {"passingScore": 50},
			"navigation": {"next": "wrap", "previous": "intro"}},
		{"sceneId": "wrap", "type": "summary", "title": "Trail head", "navigation": {}}
	]
}`

const ridgeDoc = `{
	"schemaVersion": "1.0.0",
	"gameId": "ridge-review",
	"metadata": {"title": "Ridge Review"},
	"startScene": "r-intro",
	"scenes": [
		{"sceneId": "r-intro", "type": "introduction", "required": true, "navigation": {"next": "r-wrap"}},
		{"sceneId": "r-wrap", "type": "summary", "navigation": {}}
	]
}`

func newTestServer(t *testing.T) (*httptest.Server, *app.EngineService, *memory.SnapshotStore) {
	t.Helper()
	repo := memory.NewManifestRepository(memory.NewStaticManifestLoader(map[string][]byte{
		"trail-basics": []byte(trailDoc),
		"ridge-review": []byte(ridgeDoc),
	}), time.Minute)
	store := memory.NewSnapshotStore()
	engine := app.NewEngineService(repo, memory.NewSessionRegistry(), app.WithSnapshots(store))
	hubs := app.NewHubService(engine, memory.NewHubRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(engine).ServeWS)
	NewHubHandler(hubs).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, engine, store
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return msg.Type, msg.Payload
}

// readUntil skips interleaved frames (forwarded events, pushed views) until a
// frame of the wanted type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, payload := readNext(conn, t)
		if typ == "error" && want != "error" {
			t.Fatalf("unexpected error frame: %v", payload)
		}
		if typ == want {
			return payload
		}
	}
	t.Fatalf("no %s frame within 20 reads", want)
	return nil
}

// readUntilScene reads scene frames until one shows the wanted scene id.
func readUntilScene(conn *websocket.Conn, t *testing.T, sceneID string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		payload := readUntil(conn, t, "scene")
		if payload["sceneId"] == sceneID {
			return payload
		}
	}
	t.Fatalf("no scene frame for %s within 20 reads", sceneID)
	return nil
}

func writeCommand(conn *websocket.Conn, t *testing.T, typ string, payload map[string]any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketSessionFlow(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=trail-basics")

	// The gateway greets with the pre-start view.
	payload := readUntil(conn, t, "scene")
	if id, _ := payload["sessionId"].(string); id == "" {
		t.Fatalf("missing session id in greeting: %v", payload)
	}
	if payload["gameId"] != "trail-basics" {
		t.Fatalf("unexpected greeting payload: %v", payload)
	}
	if payload["sceneId"] != nil {
		t.Fatalf("expected no scene before start, got %v", payload["sceneId"])
	}

	writeCommand(conn, t, "start", nil)
	payload = readUntilScene(conn, t, "intro")
	if payload["type"] != "introduction" {
		t.Fatalf("scene type = %v", payload["type"])
	}

	writeCommand(conn, t, "advance", nil)
	readUntilScene(conn, t, "trail-quiz")

	writeCommand(conn, t, "answer", map[string]any{
		"questionId": "q-1",
		"optionIds":  []string{"o-1"},
	})
	score := readUntil(conn, t, "score")
	if score["correct"] != true || score["earned"].(float64) != 2 {
		t.Fatalf("unexpected score payload: %v", score)
	}

	writeCommand(conn, t, "advance", nil)
	readUntilScene(conn, t, "wrap")

	// Advancing past the final scene completes the session.
	writeCommand(conn, t, "advance", nil)
	for i := 0; i < 20; i++ {
		payload = readUntil(conn, t, "scene")
		if payload["status"] == "completed" {
			break
		}
	}
	if payload["status"] != "completed" || payload["terminal"] != true {
		t.Fatalf("expected completed terminal view, got %v", payload)
	}
	if payload["totalScore"].(float64) != 2 {
		t.Fatalf("totalScore = %v", payload["totalScore"])
	}
}

func TestWebSocketRejectsMissingParams(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketUnknownGame(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=ghost")

	typ, payload := readNext(conn, t)
	if typ != "error" {
		t.Fatalf("expected error frame, got %s", typ)
	}
	if msg, _ := payload["message"].(string); msg == "" {
		t.Fatal("expected error message")
	}
}

func TestWebSocketInvalidCommandKeepsSessionUsable(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=trail-basics")
	readUntil(conn, t, "scene")

	writeCommand(conn, t, "teleport", nil)
	typ, _ := readNext(conn, t)
	if typ != "error" {
		t.Fatalf("expected error frame, got %s", typ)
	}

	// A rejected command must not wedge the connection.
	writeCommand(conn, t, "start", nil)
	readUntilScene(conn, t, "intro")
}

func TestWebSocketResumeBySessionID(t *testing.T) {
	server, _, _ := newTestServer(t)

	conn := dialWS(t, server, "gameId=trail-basics")
	payload := readUntil(conn, t, "scene")
	sessionID, _ := payload["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("expected session id in greeting")
	}
	writeCommand(conn, t, "start", nil)
	readUntilScene(conn, t, "intro")
	writeCommand(conn, t, "advance", nil)
	readUntilScene(conn, t, "trail-quiz")
	conn.Close()

	// A new connection with the same sessionId lands on the same scene.
	conn2 := dialWS(t, server, "sessionId="+sessionID)
	payload = readUntil(conn2, t, "scene")
	if payload["sessionId"] != sessionID {
		t.Fatalf("resumed session id = %v", payload["sessionId"])
	}
	if payload["sceneId"] != "trail-quiz" {
		t.Fatalf("resumed at %v, want trail-quiz", payload["sceneId"])
	}
}

func TestWebSocketSnapshotOnDemand(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=trail-basics")
	readUntil(conn, t, "scene")
	writeCommand(conn, t, "start", nil)
	readUntilScene(conn, t, "intro")

	writeCommand(conn, t, "snapshot", nil)
	payload := readUntil(conn, t, "snapshot")
	if payload["gameId"] != "trail-basics" {
		t.Fatalf("snapshot gameId = %v", payload["gameId"])
	}
	if v, _ := payload["snapshotVersion"].(float64); v != 1 {
		t.Fatalf("snapshot version = %v", payload["snapshotVersion"])
	}
	session, ok := payload["session"].(map[string]any)
	if !ok || session["currentSceneId"] != "intro" {
		t.Fatalf("snapshot session = %v", payload["session"])
	}
}

func TestWebSocketForwardsEngineEvents(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=trail-basics")
	readUntil(conn, t, "scene")

	writeCommand(conn, t, "start", nil)
	evt := readUntil(conn, t, "event")
	if evt["type"] != "scene_entered" || evt["sceneId"] != "intro" {
		t.Fatalf("unexpected first event: %v", evt)
	}
}

func TestWebSocketAbandonReportsStatus(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dialWS(t, server, "gameId=trail-basics")
	readUntil(conn, t, "scene")
	writeCommand(conn, t, "start", nil)
	readUntilScene(conn, t, "intro")

	writeCommand(conn, t, "abandon", nil)
	for i := 0; i < 20; i++ {
		payload := readUntil(conn, t, "scene")
		if payload["status"] == "abandoned" {
			return
		}
	}
	t.Fatal("no abandoned view received")
}
