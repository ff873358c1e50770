package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"atlas-game-engine/internal/app"
	"atlas-game-engine/internal/domain"
)

// HubHandler exposes the multi-world hub over plain JSON endpoints. Worlds
// opened here hand back a session id; clients attach to it through the
// websocket gateway.
type HubHandler struct {
	hubs *app.HubService
}

func NewHubHandler(hubs *app.HubService) *HubHandler {
	return &HubHandler{hubs: hubs}
}

// Register mounts the hub routes on the mux.
func (h *HubHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /hubs", h.createHub)
	mux.HandleFunc("GET /hubs/{hubSessionId}", h.getHub)
	mux.HandleFunc("POST /hubs/{hubSessionId}/worlds/{worldIndex}/open", h.openWorld)
	mux.HandleFunc("POST /hubs/{hubSessionId}/worlds/{worldIndex}/resume", h.resumeWorld)
}

type hubPayload struct {
	HubSessionID string         `json:"hubSessionId"`
	HubID        string         `json:"hubId"`
	Title        string         `json:"title,omitempty"`
	TotalScore   float64        `json:"totalScore"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	Worlds       []worldPayload `json:"worlds"`
}

type worldPayload struct {
	WorldIndex           int                `json:"worldIndex"`
	GameID               string             `json:"gameId"`
	Title                string             `json:"title,omitempty"`
	Status               domain.WorldStatus `json:"status"`
	Score                float64            `json:"score"`
	CompletionPercentage float64            `json:"completionPercentage"`
	SessionID            string             `json:"sessionId,omitempty"`
}

type openWorldResponse struct {
	HubSessionID string `json:"hubSessionId"`
	WorldIndex   int    `json:"worldIndex"`
	SessionID    string `json:"sessionId"`
	GameID       string `json:"gameId"`
}

type resumeWorldRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *HubHandler) createHub(w http.ResponseWriter, r *http.Request) {
	var def domain.HubDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hub definition payload")
		return
	}
	hub, err := h.hubs.CreateHub(&def)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hubView(hub))
}

func (h *HubHandler) getHub(w http.ResponseWriter, r *http.Request) {
	hub, ok := h.hubs.Hub(r.PathValue("hubSessionId"))
	if !ok {
		writeHubError(w, domain.ErrHubNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hubView(hub))
}

func (h *HubHandler) openWorld(w http.ResponseWriter, r *http.Request) {
	hubSessionID := r.PathValue("hubSessionId")
	worldIndex, err := strconv.Atoi(r.PathValue("worldIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "worldIndex must be an integer")
		return
	}
	sess, err := h.hubs.OpenWorld(r.Context(), hubSessionID, worldIndex)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openWorldResponse{
		HubSessionID: hubSessionID,
		WorldIndex:   worldIndex,
		SessionID:    sess.ID(),
		GameID:       sess.GameID(),
	})
}

func (h *HubHandler) resumeWorld(w http.ResponseWriter, r *http.Request) {
	hubSessionID := r.PathValue("hubSessionId")
	worldIndex, err := strconv.Atoi(r.PathValue("worldIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "worldIndex must be an integer")
		return
	}
	var req resumeWorldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	sess, err := h.hubs.ResumeWorld(r.Context(), hubSessionID, worldIndex, req.SessionID)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openWorldResponse{
		HubSessionID: hubSessionID,
		WorldIndex:   worldIndex,
		SessionID:    sess.ID(),
		GameID:       sess.GameID(),
	})
}

func hubView(hub *app.Hub) hubPayload {
	def := hub.Definition()
	state := hub.State()
	payload := hubPayload{
		HubSessionID: hub.ID(),
		HubID:        def.HubID,
		Title:        def.Title,
		TotalScore:   state.TotalScore,
		Worlds:       make([]worldPayload, 0, len(state.Worlds)),
	}
	if !state.ExpiresAt.IsZero() {
		payload.ExpiresAt = &state.ExpiresAt
	}
	for _, world := range state.Worlds {
		wp := worldPayload{
			WorldIndex:           world.WorldIndex,
			GameID:               world.GameID,
			Status:               world.Status,
			Score:                world.Score,
			CompletionPercentage: world.CompletionPercentage,
		}
		if decl, ok := def.World(world.WorldIndex); ok {
			wp.Title = decl.Title
		}
		if id, ok := hub.WorldSession(world.WorldIndex); ok {
			wp.SessionID = id
		}
		payload.Worlds = append(payload.Worlds, wp)
	}
	return payload
}

func writeHubError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "invalid hub definition",
			"findings": verrs,
		})
		return
	}
	var stale *domain.StaleSessionError
	switch {
	case errors.Is(err, domain.ErrHubNotFound), errors.Is(err, domain.ErrWorldNotFound),
		errors.Is(err, domain.ErrManifestNotFound), errors.Is(err, domain.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrWorldLocked), errors.Is(err, domain.ErrWorldCompleted),
		errors.Is(err, domain.ErrHubExpired), errors.As(err, &stale):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
