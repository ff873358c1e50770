package domain

import (
	"fmt"
	"time"
)

// SnapshotVersion is bumped whenever the snapshot layout changes shape.
const SnapshotVersion = 1

// Snapshot is the authoritative resumption contract: everything needed to
// continue a session with identical subsequent behavior. It is plain data,
// safe to marshal to JSON and hand to any storage collaborator.
type Snapshot struct {
	Version      int              `json:"snapshotVersion"`
	TakenAt      time.Time        `json:"takenAt"`
	GameID       string           `json:"gameId"`
	Session      *SessionState    `json:"session"`
	Achievements AchievementState `json:"achievements"`
	Hub          *WorldHubState   `json:"hub,omitempty"`
}

// NewSnapshot deep-copies the given state so the snapshot never aliases the
// live session.
func NewSnapshot(state *SessionState, achievements AchievementState, hub *WorldHubState, takenAt time.Time) Snapshot {
	return Snapshot{
		Version:      SnapshotVersion,
		TakenAt:      takenAt,
		GameID:       state.GameID,
		Session:      state.Clone(),
		Achievements: achievements.Clone(),
		Hub:          hub.Clone(),
	}
}

// RestoreSession re-validates the snapshot against the manifest it is being
// resumed against and returns deep copies of the stored state. A snapshot
// referencing a scene the (possibly newer) manifest no longer declares fails
// with a StaleSessionError; the engine never guesses a fallback scene.
func (snap Snapshot) RestoreSession(m *GameManifest) (*SessionState, AchievementState, error) {
	if snap.Version != SnapshotVersion {
		return nil, AchievementState{}, &StaleSessionError{
			GameID: snap.GameID,
			Reason: fmt.Sprintf("unsupported snapshot version %d", snap.Version),
		}
	}
	if snap.Session == nil {
		return nil, AchievementState{}, &StaleSessionError{
			GameID: snap.GameID,
			Reason: "snapshot carries no session state",
		}
	}
	if snap.GameID != m.GameID {
		return nil, AchievementState{}, &StaleSessionError{
			GameID: snap.GameID,
			Reason: fmt.Sprintf("snapshot belongs to game %q, manifest is %q", snap.GameID, m.GameID),
		}
	}
	if current := snap.Session.CurrentSceneID; current != "" {
		if _, ok := m.Scene(current); !ok {
			return nil, AchievementState{}, &StaleSessionError{
				GameID:  snap.GameID,
				SceneID: current,
				Reason:  "current scene no longer exists in the manifest",
			}
		}
	}
	for _, sceneID := range snap.Session.HistoryStack {
		if _, ok := m.Scene(sceneID); !ok {
			return nil, AchievementState{}, &StaleSessionError{
				GameID:  snap.GameID,
				SceneID: sceneID,
				Reason:  "visited scene no longer exists in the manifest",
			}
		}
	}
	return snap.Session.Clone(), snap.Achievements.Clone(), nil
}

// RestoreHubState re-validates a snapshotted hub state against the hub
// definition it is being resumed against.
func RestoreHubState(def *HubDefinition, state *WorldHubState) (*WorldHubState, error) {
	if state == nil {
		return nil, &StaleSessionError{Reason: "snapshot carries no hub state"}
	}
	if state.HubID != def.HubID {
		return nil, &StaleSessionError{
			GameID: state.HubID,
			Reason: fmt.Sprintf("hub state belongs to hub %q, definition is %q", state.HubID, def.HubID),
		}
	}
	for _, w := range state.Worlds {
		if _, ok := def.World(w.WorldIndex); !ok {
			return nil, &StaleSessionError{
				GameID: state.HubID,
				Reason: fmt.Sprintf("world %d no longer exists in the hub definition", w.WorldIndex),
			}
		}
	}
	restored := state.Clone()
	// Worlds added to the definition since the snapshot start out locked or
	// available exactly as a fresh hub would have them.
	for _, w := range def.Worlds {
		if _, ok := restored.World(w.WorldIndex); ok {
			continue
		}
		status := WorldLocked
		if CanUnlock(def, restored, w.WorldIndex) {
			status = WorldAvailable
		}
		restored.Worlds = append(restored.Worlds, WorldCompletionStatus{
			WorldIndex: w.WorldIndex,
			GameID:     w.GameID,
			Status:     status,
		})
	}
	return restored, nil
}
