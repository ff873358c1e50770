package domain

import "time"

// EventType names the normalized events the engine emits. Hosts consume them
// for analytics; the achievement tracker reduces over them.
type EventType string

const (
	EventSceneEntered        EventType = "scene_entered"
	EventSceneCompleted      EventType = "scene_completed"
	EventQuestionScored      EventType = "question_scored"
	EventChoiceMade          EventType = "choice_made"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventSessionCompleted    EventType = "session_completed"
	EventWorldCompleted      EventType = "world_completed"
)

// Event is the single normalized shape for everything the engine emits.
// Only the fields relevant to the event's type are set; the engine emits
// events in the order the mutations they describe were accepted.
type Event struct {
	Type          EventType      `json:"type"`
	SessionID     string         `json:"sessionId,omitempty"`
	GameID        string         `json:"gameId,omitempty"`
	HubSessionID  string         `json:"hubSessionId,omitempty"`
	WorldIndex    int            `json:"worldIndex,omitempty"`
	SceneID       string         `json:"sceneId,omitempty"`
	SceneType     SceneType      `json:"sceneType,omitempty"`
	QuestionID    string         `json:"questionId,omitempty"`
	ChoiceID      string         `json:"choiceId,omitempty"`
	AchievementID string         `json:"achievementId,omitempty"`
	Attempt       int            `json:"attempt,omitempty"`
	Score         *QuestionScore `json:"score,omitempty"`
	Result        *SceneScore    `json:"result,omitempty"`
	TotalScore    float64        `json:"totalScore,omitempty"`
	At            time.Time      `json:"at"`
}
