package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SceneType discriminates the scene payload variants.
type SceneType string

const (
	SceneDialogue     SceneType = "dialogue"
	SceneQuiz         SceneType = "quiz"
	SceneAssessment   SceneType = "assessment"
	SceneResource     SceneType = "resource"
	SceneIntroduction SceneType = "introduction"
	SceneSummary      SceneType = "summary"
)

// Valid reports whether the type is one of the declared variants.
func (t SceneType) Valid() bool {
	switch t {
	case SceneDialogue, SceneQuiz, SceneAssessment, SceneResource, SceneIntroduction, SceneSummary:
		return true
	}
	return false
}

// Scored reports whether the scene type produces question scores.
func (t SceneType) Scored() bool {
	return t == SceneQuiz || t == SceneAssessment
}

// QuestionKind discriminates how a question is answered and scored.
type QuestionKind string

const (
	QuestionMultipleChoice QuestionKind = "multiple-choice"
	QuestionTrueFalse      QuestionKind = "true-false"
	QuestionMultipleSelect QuestionKind = "multiple-select"
)

// Valid reports whether the kind is one of the declared variants.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionMultipleSelect:
		return true
	}
	return false
}

// SingleSelect reports whether the kind accepts exactly one option.
func (k QuestionKind) SingleSelect() bool {
	return k == QuestionMultipleChoice || k == QuestionTrueFalse
}

// Navigation declares the outgoing edges of a scene. Empty Next on a summary
// scene marks the end of the experience.
type Navigation struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	CanSkip  *bool  `json:"canSkip,omitempty"`
}

// DialogueLine is one utterance inside a dialogue scene.
type DialogueLine struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// Choice is a branch offered by a dialogue scene.
type Choice struct {
	ChoiceID string `json:"choiceId"`
	Text     string `json:"text"`
	Target   string `json:"target"`
}

// Option represents a possible answer for a question.
type Option struct {
	OptionID      string  `json:"optionId"`
	Text          string  `json:"text"`
	Correct       bool    `json:"correct,omitempty"`
	PartialCredit float64 `json:"partialCredit,omitempty"`
}

// Question models a scored prompt inside a quiz or assessment scene.
type Question struct {
	QuestionID   string             `json:"questionId"`
	Kind         QuestionKind       `json:"kind"`
	Prompt       string             `json:"prompt"`
	Options      []Option           `json:"options"`
	Points       int                `json:"points"` // defaults to 1 if zero
	Competencies map[string]float64 `json:"competencies,omitempty"`
}

// Option returns the option with the given id.
func (q *Question) Option(id string) (*Option, bool) {
	for i := range q.Options {
		if q.Options[i].OptionID == id {
			return &q.Options[i], true
		}
	}
	return nil, false
}

// ScoringConfig tunes pass/fail and retry behavior for a scored scene.
type ScoringConfig struct {
	PassingScore     float64 `json:"passingScore"`               // percentage required to pass
	MaxAttempts      int     `json:"maxAttempts,omitempty"`      // 0 = unlimited
	PenaltyPerRetry  float64 `json:"penaltyPerRetry,omitempty"`  // percentage points per retry
	TimeLimitSeconds int     `json:"timeLimitSeconds,omitempty"` // 0 = untimed
}

// ResourceLink points to supplementary material in a resource scene.
type ResourceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Scene is one discrete unit of interaction. Type selects which payload
// fields are meaningful; the rest stay zero.
type Scene struct {
	SceneID    string     `json:"sceneId"`
	Type       SceneType  `json:"type"`
	Title      string     `json:"title,omitempty"`
	Required   bool       `json:"required,omitempty"`
	Navigation Navigation `json:"navigation"`

	// dialogue payload
	Lines           []DialogueLine `json:"lines,omitempty"`
	Choices         []Choice       `json:"choices,omitempty"`
	AutoProgress    bool           `json:"autoProgress,omitempty"`
	ProgressDelayMs int            `json:"progressDelayMs,omitempty"`

	// quiz / assessment payload
	Questions []Question    `json:"questions,omitempty"`
	Scoring   ScoringConfig `json:"scoring,omitempty"`

	// resource / introduction / summary payload
	Body  string         `json:"body,omitempty"`
	Links []ResourceLink `json:"links,omitempty"`
}

// Question returns the question with the given id.
func (s *Scene) Question(id string) (*Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].QuestionID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// Choice returns the choice with the given id.
func (s *Scene) Choice(id string) (*Choice, bool) {
	for i := range s.Choices {
		if s.Choices[i].ChoiceID == id {
			return &s.Choices[i], true
		}
	}
	return nil, false
}

// Skippable reports whether explicit skip-navigation may leave this scene.
// Required scenes are never skippable; canSkip=false opts a scene out even
// when it is not required.
func (s *Scene) Skippable() bool {
	if s.Required {
		return false
	}
	if s.Navigation.CanSkip != nil {
		return *s.Navigation.CanSkip
	}
	return true
}

// MaxAttempts returns the effective attempt cap for the scene. Assessments
// are single-attempt regardless of configuration.
func (s *Scene) MaxAttempts() int {
	if s.Type == SceneAssessment {
		return 1
	}
	return s.Scoring.MaxAttempts
}

// Metadata describes the experience for catalogs and hosts.
type Metadata struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	DurationMinutes    int      `json:"durationMinutes,omitempty"`
	Difficulty         string   `json:"difficulty,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Language           string   `json:"language,omitempty"`
	LearningObjectives []string `json:"learningObjectives,omitempty"`
}

// SceneScoreRequirement is a minimum percentage on one scene.
type SceneScoreRequirement struct {
	SceneID string  `json:"sceneId"`
	Percent float64 `json:"percent"`
}

// AchievementRequirements lists the conditions that must all hold for an
// achievement to unlock.
type AchievementRequirements struct {
	ScenesCompleted []string                `json:"scenesCompleted,omitempty"`
	MinScores       []SceneScoreRequirement `json:"minScores,omitempty"`
	ChoicesMade     []string                `json:"choicesMade,omitempty"`
}

// AchievementDef declares an unlockable achievement.
type AchievementDef struct {
	AchievementID string                  `json:"achievementId"`
	Title         string                  `json:"title"`
	Description   string                  `json:"description,omitempty"`
	Requirements  AchievementRequirements `json:"requirements"`
}

// CompetencyConfig optionally overrides the level boundaries for competency
// accumulators. Keys are level names, values the minimum accumulator value.
type CompetencyConfig struct {
	Levels map[string]float64 `json:"levels,omitempty"`
}

// GameManifest is the root declarative document for one experience. It is
// immutable once loaded; all components share it read-only.
type GameManifest struct {
	SchemaVersion string   `json:"schemaVersion"`
	GameID        string   `json:"gameId"`
	Metadata      Metadata `json:"metadata"`
	StartScene    string   `json:"startScene"`
	Scenes        map[string]*Scene
	SceneOrder    []string // declaration order, drives deterministic validation
	Achievements  []AchievementDef
	Competencies  CompetencyConfig

	// Extra preserves unknown top-level fields (renderer-only concerns like
	// theme) so a round-trip does not lose them.
	Extra map[string]json.RawMessage
}

// Scene returns the scene with the given id.
func (m *GameManifest) Scene(id string) (*Scene, bool) {
	s, ok := m.Scenes[id]
	return s, ok
}

// RequiredScenes returns the ids of every required scene in declaration order.
func (m *GameManifest) RequiredScenes() []string {
	out := make([]string, 0, len(m.SceneOrder))
	for _, id := range m.SceneOrder {
		if m.Scenes[id].Required {
			out = append(out, id)
		}
	}
	return out
}

// rawManifest mirrors the wire document before scene normalization.
type rawManifest struct {
	SchemaVersion string           `json:"schemaVersion"`
	GameID        string           `json:"gameId"`
	Metadata      Metadata         `json:"metadata"`
	StartScene    string           `json:"startScene"`
	Scenes        json.RawMessage  `json:"scenes"`
	Achievements  []AchievementDef `json:"achievements"`
	Competencies  CompetencyConfig `json:"competencies"`
}

// knownManifestFields are stripped from the Extra map during decoding.
var knownManifestFields = map[string]bool{
	"schemaVersion": true,
	"gameId":        true,
	"metadata":      true,
	"startScene":    true,
	"scenes":        true,
	"achievements":  true,
	"competencies":  true,
}

// ParseManifest decodes, normalizes and validates a manifest document.
// The scenes collection may be a JSON array or an id-keyed object; both are
// normalized to id-keyed. A manifest is returned only when validation found
// no fatal errors; warnings are returned alongside a usable manifest.
func ParseManifest(raw []byte) (*GameManifest, ValidationErrors) {
	var doc rawManifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ValidationErrors{{
			Code:    "malformed_json",
			Message: fmt.Sprintf("manifest is not valid JSON: %v", err),
		}}
	}

	m := &GameManifest{
		SchemaVersion: doc.SchemaVersion,
		GameID:        doc.GameID,
		Metadata:      doc.Metadata,
		StartScene:    doc.StartScene,
		Achievements:  doc.Achievements,
		Competencies:  doc.Competencies,
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for key, val := range fields {
			if knownManifestFields[key] {
				continue
			}
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[key] = val
		}
	}

	if errs := normalizeScenes(m, doc.Scenes); len(errs) > 0 {
		return nil, errs
	}
	applyDefaults(m)

	errs := Validate(m)
	if errs.HasFatal() {
		return nil, errs
	}
	return m, errs.Warnings()
}

// normalizeScenes accepts either a scene array or an id-keyed scene object
// and fills Scenes plus a deterministic SceneOrder.
func normalizeScenes(m *GameManifest, raw json.RawMessage) ValidationErrors {
	if len(raw) == 0 {
		return ValidationErrors{{Code: "no_scenes", Message: "manifest declares no scenes"}}
	}

	m.Scenes = make(map[string]*Scene)

	var list []*Scene
	if err := json.Unmarshal(raw, &list); err == nil {
		var errs ValidationErrors
		for i, scene := range list {
			if scene == nil {
				continue
			}
			if scene.SceneID == "" {
				errs = append(errs, ValidationError{
					Code:    "empty_scene_id",
					Message: fmt.Sprintf("scene at position %d has no sceneId", i),
				})
				continue
			}
			if _, dup := m.Scenes[scene.SceneID]; dup {
				errs = append(errs, ValidationError{
					Code:    "duplicate_scene_id",
					SceneID: scene.SceneID,
					Message: "scene id declared more than once",
				})
				continue
			}
			m.Scenes[scene.SceneID] = scene
			m.SceneOrder = append(m.SceneOrder, scene.SceneID)
		}
		return errs
	}

	var keyed map[string]*Scene
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return ValidationErrors{{
			Code:    "malformed_scenes",
			Message: fmt.Sprintf("scenes must be an array or an id-keyed object: %v", err),
		}}
	}
	keys := make([]string, 0, len(keyed))
	for id := range keyed {
		keys = append(keys, id)
	}
	sort.Strings(keys) // object keys carry no order; sort for determinism
	var errs ValidationErrors
	for _, id := range keys {
		scene := keyed[id]
		if scene == nil {
			continue
		}
		if id == "" {
			errs = append(errs, ValidationError{
				Code:    "empty_scene_id",
				Message: "scene keyed by empty id",
			})
			continue
		}
		// The map key is authoritative; an embedded sceneId must agree.
		if scene.SceneID == "" {
			scene.SceneID = id
		} else if scene.SceneID != id {
			errs = append(errs, ValidationError{
				Code:    "scene_id_mismatch",
				SceneID: id,
				Ref:     scene.SceneID,
				Message: "scene key and embedded sceneId disagree",
			})
			continue
		}
		m.Scenes[id] = scene
		m.SceneOrder = append(m.SceneOrder, id)
	}
	return errs
}

// applyDefaults fills zero values the wire format allows to be omitted.
func applyDefaults(m *GameManifest) {
	for _, scene := range m.Scenes {
		for i := range scene.Questions {
			if scene.Questions[i].Points == 0 {
				scene.Questions[i].Points = 1
			}
		}
	}
}
