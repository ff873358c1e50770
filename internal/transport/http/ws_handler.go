package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"atlas-game-engine/internal/app"
	"atlas-game-engine/internal/domain"
)

// WSHandler upgrades learner connections and speaks the session protocol:
// inbound commands mutate the session, outbound frames carry the refreshed
// scene view, question scores and the engine event feed.
type WSHandler struct {
	engine   *app.EngineService
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.EngineService) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type advancePayload struct {
	ChoiceID string `json:"choiceId"`
}

type answerPayload struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS attaches a connection to a session runtime. gameId starts a fresh
// session; sessionId reattaches to a live one (including worlds opened
// through a hub) or rebuilds it from its snapshot. Sessions survive the
// connection, so a dropped client reconnects with the same sessionId and
// continues where it left off.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	sessionID := r.URL.Query().Get("sessionId")
	if gameID == "" && sessionID == "" {
		http.Error(w, "missing gameId or sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var sess *app.Session
	if sessionID != "" {
		sess, err = h.engine.ResumeSession(r.Context(), sessionID)
	} else {
		sess, err = h.engine.CreateSession(r.Context(), gameID)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel := sess.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case evt, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: evt}:
				case <-closeSignals:
					return
				}
				if evt.Type == domain.EventSceneEntered {
					// Timer-driven advances have no command to reply to, so
					// the refreshed view rides along with the event.
					select {
					case send <- outboundMessage[any]{Type: "scene", Payload: sess.View()}:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	pushView := func(view app.SceneView, err error) {
		if err != nil {
			push(errorMessage(err.Error()))
			return
		}
		push(outboundMessage[any]{Type: "scene", Payload: view})
	}

	push(outboundMessage[any]{Type: "scene", Payload: sess.View()})

readLoop:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			pushView(sess.Start())
		case "advance":
			var payload advancePayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					push(errorMessage("invalid advance payload"))
					continue
				}
			}
			pushView(sess.Advance(payload.ChoiceID))
		case "back":
			pushView(sess.GoBack())
		case "skip":
			pushView(sess.Skip())
		case "retry":
			pushView(sess.Retry())
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorMessage("invalid answer payload"))
				continue
			}
			score, err := sess.SubmitAnswer(payload.QuestionID, payload.OptionIDs)
			if err != nil {
				push(errorMessage(err.Error()))
				continue
			}
			push(outboundMessage[any]{Type: "score", Payload: score})
			push(outboundMessage[any]{Type: "scene", Payload: sess.View()})
		case "snapshot":
			push(outboundMessage[any]{Type: "snapshot", Payload: sess.Snapshot()})
		case "abandon":
			if err := sess.Abandon(); err != nil {
				push(errorMessage(err.Error()))
				continue
			}
			push(outboundMessage[any]{Type: "scene", Payload: sess.View()})
		default:
			push(errorMessage("unsupported message type"))
		}
		select {
		case <-writerDone:
			break readLoop
		default:
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
