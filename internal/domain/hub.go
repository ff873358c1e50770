package domain

import (
	"fmt"
	"time"
)

// WorldStatus is the hub-visible lifecycle state of one world.
type WorldStatus string

const (
	WorldLocked     WorldStatus = "locked"
	WorldAvailable  WorldStatus = "available"
	WorldInProgress WorldStatus = "in_progress"
	WorldCompleted  WorldStatus = "completed"
)

// WorldDefinition declares one world inside a hub. Prerequisites are explicit
// world indexes, never inferred from declaration order.
type WorldDefinition struct {
	WorldIndex         int    `json:"worldIndex"`
	GameID             string `json:"gameId"`
	Title              string `json:"title,omitempty"`
	PrerequisiteWorlds []int  `json:"prerequisiteWorlds,omitempty"`
}

// HubDefinition is the declarative document for a multi-world experience.
// Like a manifest it is immutable once loaded.
type HubDefinition struct {
	HubID             string            `json:"hubId"`
	Title             string            `json:"title,omitempty"`
	Worlds            []WorldDefinition `json:"worlds"`
	SessionTTLSeconds int               `json:"sessionTtlSeconds,omitempty"`
}

// World returns the world declared with the given index.
func (d *HubDefinition) World(worldIndex int) (*WorldDefinition, bool) {
	for i := range d.Worlds {
		if d.Worlds[i].WorldIndex == worldIndex {
			return &d.Worlds[i], true
		}
	}
	return nil, false
}

// ValidateHub checks the structural integrity of a hub definition. All
// findings are fatal: a dangling or cyclic prerequisite would either brick a
// world forever or deadlock the whole hub.
func ValidateHub(def *HubDefinition) ValidationErrors {
	var errs ValidationErrors
	fail := func(code, ref, msg string) {
		errs = append(errs, ValidationError{Code: code, Ref: ref, Message: msg})
	}

	if def.HubID == "" {
		fail("missing_hub_id", "", "hubId is required")
	}
	if len(def.Worlds) == 0 {
		fail("no_worlds", "", "hub declares no worlds")
		return errs
	}
	if def.SessionTTLSeconds < 0 {
		fail("invalid_session_ttl", "", "sessionTtlSeconds must not be negative")
	}

	seen := make(map[int]bool)
	for _, w := range def.Worlds {
		ref := fmt.Sprintf("world %d", w.WorldIndex)
		if w.WorldIndex < 1 {
			fail("invalid_world_index", ref, "worldIndex must be 1 or greater")
			continue
		}
		if seen[w.WorldIndex] {
			fail("duplicate_world_index", ref, "worldIndex declared more than once")
			continue
		}
		seen[w.WorldIndex] = true
		if w.GameID == "" {
			fail("missing_world_game", ref, "world declares no gameId")
		}
	}

	for _, w := range def.Worlds {
		for _, prereq := range w.PrerequisiteWorlds {
			ref := fmt.Sprintf("world %d -> %d", w.WorldIndex, prereq)
			if prereq == w.WorldIndex {
				fail("self_prerequisite", ref, "world lists itself as a prerequisite")
				continue
			}
			if !seen[prereq] {
				fail("dangling_prerequisite", ref, "prerequisite world does not exist")
			}
		}
	}

	errs = append(errs, prerequisiteCycleErrors(def, seen)...)
	return errs
}

// prerequisiteCycleErrors reports every world caught in a prerequisite cycle.
// Such worlds could never unlock.
func prerequisiteCycleErrors(def *HubDefinition, declared map[int]bool) ValidationErrors {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[int]int)
	cyclic := make(map[int]bool)

	var visit func(index int) bool
	visit = func(index int) bool {
		switch state[index] {
		case visiting:
			return true
		case done:
			return cyclic[index]
		}
		state[index] = visiting
		world, _ := def.World(index)
		inCycle := false
		for _, prereq := range world.PrerequisiteWorlds {
			if prereq == index || !declared[prereq] {
				continue
			}
			if visit(prereq) {
				inCycle = true
			}
		}
		state[index] = done
		cyclic[index] = inCycle
		return inCycle
	}

	var errs ValidationErrors
	for _, w := range def.Worlds {
		if !declared[w.WorldIndex] {
			continue
		}
		if visit(w.WorldIndex) {
			errs = append(errs, ValidationError{
				Code:    "prerequisite_cycle",
				Ref:     fmt.Sprintf("world %d", w.WorldIndex),
				Message: "world is part of a prerequisite cycle and could never unlock",
			})
		}
	}
	return errs
}

// WorldCompletionStatus is the hub's read-only summary of one world. The hub
// never sees inside a world's scene graph; this is the whole shared surface.
type WorldCompletionStatus struct {
	WorldIndex           int         `json:"worldIndex"`
	GameID               string      `json:"gameId"`
	Status               WorldStatus `json:"status"`
	Score                float64     `json:"score"`
	CompletionPercentage float64     `json:"completionPercentage"`
}

// WorldHubState tracks per-world progress and the aggregate score for one
// learner's traversal of a hub.
type WorldHubState struct {
	HubSessionID string                  `json:"hubSessionId"`
	HubID        string                  `json:"hubId"`
	Worlds       []WorldCompletionStatus `json:"worlds"`
	TotalScore   float64                 `json:"totalScore"`
	ExpiresAt    time.Time               `json:"expiresAt,omitempty"`
}

// NewWorldHubState builds the initial hub state: prerequisite-free worlds are
// available, everything else locked.
func NewWorldHubState(def *HubDefinition, hubSessionID string, now time.Time) *WorldHubState {
	state := &WorldHubState{
		HubSessionID: hubSessionID,
		HubID:        def.HubID,
		Worlds:       make([]WorldCompletionStatus, 0, len(def.Worlds)),
	}
	if def.SessionTTLSeconds > 0 {
		state.ExpiresAt = now.Add(time.Duration(def.SessionTTLSeconds) * time.Second)
	}
	for _, w := range def.Worlds {
		status := WorldLocked
		if len(w.PrerequisiteWorlds) == 0 {
			status = WorldAvailable
		}
		state.Worlds = append(state.Worlds, WorldCompletionStatus{
			WorldIndex: w.WorldIndex,
			GameID:     w.GameID,
			Status:     status,
		})
	}
	return state
}

// World returns the completion status for the given world index.
func (s *WorldHubState) World(worldIndex int) (*WorldCompletionStatus, bool) {
	for i := range s.Worlds {
		if s.Worlds[i].WorldIndex == worldIndex {
			return &s.Worlds[i], true
		}
	}
	return nil, false
}

// Expired reports whether the hub session has passed its expiry.
func (s *WorldHubState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Clone returns a deep copy.
func (s *WorldHubState) Clone() *WorldHubState {
	if s == nil {
		return nil
	}
	out := *s
	out.Worlds = append([]WorldCompletionStatus(nil), s.Worlds...)
	return &out
}

// CanUnlock reports whether every prerequisite of the world has been
// completed in this hub state.
func CanUnlock(def *HubDefinition, state *WorldHubState, worldIndex int) bool {
	world, ok := def.World(worldIndex)
	if !ok {
		return false
	}
	for _, prereq := range world.PrerequisiteWorlds {
		status, ok := state.World(prereq)
		if !ok || status.Status != WorldCompleted {
			return false
		}
	}
	return true
}

// MarkWorldInProgress returns a new hub state with the world marked as
// entered. Completed worlds keep their status.
func MarkWorldInProgress(state *WorldHubState, worldIndex int) (*WorldHubState, error) {
	next := state.Clone()
	world, ok := next.World(worldIndex)
	if !ok {
		return nil, ErrWorldNotFound
	}
	if world.Status != WorldCompleted {
		world.Status = WorldInProgress
	}
	return next, nil
}

// ApplyWorldCompleted returns a new hub state with the world's terminal score
// written, the total recomputed, and every other world's availability
// re-evaluated: one completion may satisfy several downstream prerequisites
// at once.
func ApplyWorldCompleted(def *HubDefinition, state *WorldHubState, worldIndex int, score, completionPct float64) (*WorldHubState, error) {
	next := state.Clone()
	world, ok := next.World(worldIndex)
	if !ok {
		return nil, ErrWorldNotFound
	}
	world.Status = WorldCompleted
	world.Score = score
	world.CompletionPercentage = completionPct

	next.TotalScore = 0
	for _, w := range next.Worlds {
		if w.Status == WorldCompleted {
			next.TotalScore += w.Score
		}
	}

	for i := range next.Worlds {
		w := &next.Worlds[i]
		if w.Status != WorldLocked {
			continue
		}
		if CanUnlock(def, next, w.WorldIndex) {
			w.Status = WorldAvailable
		}
	}
	return next, nil
}
