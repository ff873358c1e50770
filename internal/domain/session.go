package domain

import "time"

// SessionStatus is the lifecycle state of one learner session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// SceneAttempt tracks the current attempt at a scored scene. Question scores
// accumulate until every question is answered, at which point the attempt is
// submitted and its aggregate appended to SessionState.Scores.
type SceneAttempt struct {
	Attempt   int                      `json:"attempt"`
	Questions map[string]QuestionScore `json:"questions"`
	Submitted bool                     `json:"submitted"`
	StartedAt time.Time                `json:"startedAt"`
}

// Scored reports whether the question has been scored in this attempt.
func (a *SceneAttempt) Scored(questionID string) bool {
	_, ok := a.Questions[questionID]
	return ok
}

// SessionState is the mutable runtime state for one learner traversing one
// manifest. It is mutated strictly sequentially by the owning session runtime
// and is the serializable half of the resume contract.
type SessionState struct {
	SessionID      string `json:"sessionId"`
	GameID         string `json:"gameId"`
	CurrentSceneID string `json:"currentSceneId,omitempty"`
	// Terminal is set once the absorbing end state is reached; CurrentSceneID
	// then keeps pointing at the last real scene for display and resume checks.
	Terminal     bool     `json:"terminal,omitempty"`
	HistoryStack []string `json:"historyStack"`

	// Answers holds the latest selection per question. Per-attempt detail
	// lives in Attempts; aggregate history in Scores.
	Answers  map[string][]string      `json:"answers"`
	Attempts map[string]*SceneAttempt `json:"attempts"`
	// Scores is append-only: every submitted attempt adds a record and prior
	// records are never rewritten.
	Scores map[string][]SceneScore `json:"scores"`

	CompletedScenes []string `json:"completedScenes"`
	SkippedScenes   []string `json:"skippedScenes,omitempty"`
	ChoiceLog       []string `json:"choiceLog,omitempty"`

	StartedAt    time.Time     `json:"startedAt"`
	LastActiveAt time.Time     `json:"lastActiveAt"`
	Status       SessionStatus `json:"status"`
}

// NewSessionState returns the pre-start state for a session: no current
// scene, empty history, status in_progress.
func NewSessionState(sessionID, gameID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID:    sessionID,
		GameID:       gameID,
		HistoryStack: []string{},
		Answers:      make(map[string][]string),
		Attempts:     make(map[string]*SceneAttempt),
		Scores:       make(map[string][]SceneScore),
		StartedAt:    now,
		LastActiveAt: now,
		Status:       StatusInProgress,
	}
}

// Started reports whether Start has moved the session onto its first scene.
func (s *SessionState) Started() bool {
	return s.CurrentSceneID != ""
}

// Completed reports whether the scene has been completed in this session.
func (s *SessionState) Completed(sceneID string) bool {
	for _, id := range s.CompletedScenes {
		if id == sceneID {
			return true
		}
	}
	return false
}

// Skipped reports whether the scene was left via explicit skip-navigation.
func (s *SessionState) Skipped(sceneID string) bool {
	for _, id := range s.SkippedScenes {
		if id == sceneID {
			return true
		}
	}
	return false
}

// Chose reports whether the given choice id was ever selected.
func (s *SessionState) Chose(choiceID string) bool {
	for _, id := range s.ChoiceLog {
		if id == choiceID {
			return true
		}
	}
	return false
}

// BestScore returns the highest-percentage attempt recorded for a scene.
func (s *SessionState) BestScore(sceneID string) (SceneScore, bool) {
	records := s.Scores[sceneID]
	if len(records) == 0 {
		return SceneScore{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Percentage > best.Percentage {
			best = r
		}
	}
	return best, true
}

// LatestScore returns the most recently recorded attempt for a scene.
func (s *SessionState) LatestScore(sceneID string) (SceneScore, bool) {
	records := s.Scores[sceneID]
	if len(records) == 0 {
		return SceneScore{}, false
	}
	return records[len(records)-1], true
}

// TotalEarnedPoints sums the best attempt's earned points across all scored
// scenes. Retries can therefore only improve the total.
func (s *SessionState) TotalEarnedPoints() float64 {
	total := 0.0
	for sceneID := range s.Scores {
		if best, ok := s.BestScore(sceneID); ok {
			total += best.EarnedPoints
		}
	}
	return total
}

// CompletionPercent reports how much of the manifest has been completed.
func (s *SessionState) CompletionPercent(m *GameManifest) float64 {
	if len(m.Scenes) == 0 {
		return 0
	}
	return float64(len(s.CompletedScenes)) / float64(len(m.Scenes)) * 100
}

// Clone returns a deep copy, so a snapshot cannot alias live state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.HistoryStack = append([]string(nil), s.HistoryStack...)
	out.CompletedScenes = append([]string(nil), s.CompletedScenes...)
	out.SkippedScenes = append([]string(nil), s.SkippedScenes...)
	out.ChoiceLog = append([]string(nil), s.ChoiceLog...)

	out.Answers = make(map[string][]string, len(s.Answers))
	for qid, sel := range s.Answers {
		out.Answers[qid] = append([]string(nil), sel...)
	}
	out.Attempts = make(map[string]*SceneAttempt, len(s.Attempts))
	for sceneID, attempt := range s.Attempts {
		copied := *attempt
		copied.Questions = make(map[string]QuestionScore, len(attempt.Questions))
		for qid, qs := range attempt.Questions {
			copied.Questions[qid] = qs
		}
		out.Attempts[sceneID] = &copied
	}
	out.Scores = make(map[string][]SceneScore, len(s.Scores))
	for sceneID, records := range s.Scores {
		out.Scores[sceneID] = append([]SceneScore(nil), records...)
	}
	return &out
}
