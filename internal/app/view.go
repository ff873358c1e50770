package app

import "atlas-game-engine/internal/domain"

// ChoiceView is a dialogue branch as shown to the learner.
type ChoiceView struct {
	ChoiceID string `json:"choiceId"`
	Text     string `json:"text"`
}

// OptionView is an answer option with the correctness flags stripped: the
// presentation layer must never learn the answer key.
type OptionView struct {
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
}

// QuestionView is a question as shown to the learner, including whether the
// current attempt has already scored it.
type QuestionView struct {
	QuestionID string              `json:"questionId"`
	Kind       domain.QuestionKind `json:"kind"`
	Prompt     string              `json:"prompt"`
	Options    []OptionView        `json:"options"`
	Points     int                 `json:"points"`
	Answered   bool                `json:"answered"`
	Selected   []string            `json:"selected,omitempty"`
}

// SceneView is what the engine hands a presentation layer after every
// accepted operation: the current scene's renderable payload plus the
// navigation affordances that are legal from here.
type SceneView struct {
	SessionID string               `json:"sessionId"`
	GameID    string               `json:"gameId"`
	Status    domain.SessionStatus `json:"status"`
	Terminal  bool                 `json:"terminal,omitempty"`

	SceneID   string           `json:"sceneId,omitempty"`
	Type      domain.SceneType `json:"type,omitempty"`
	Title     string           `json:"title,omitempty"`
	Required  bool             `json:"required,omitempty"`
	Completed bool             `json:"completed,omitempty"`
	CanGoBack bool             `json:"canGoBack,omitempty"`
	CanSkip   bool             `json:"canSkip,omitempty"`

	// dialogue
	Lines           []domain.DialogueLine `json:"lines,omitempty"`
	Choices         []ChoiceView          `json:"choices,omitempty"`
	AutoProgress    bool                  `json:"autoProgress,omitempty"`
	ProgressDelayMs int                   `json:"progressDelayMs,omitempty"`

	// quiz / assessment
	Questions        []QuestionView     `json:"questions,omitempty"`
	Attempt          int                `json:"attempt,omitempty"`
	MaxAttempts      int                `json:"maxAttempts,omitempty"`
	AttemptSubmitted bool               `json:"attemptSubmitted,omitempty"`
	CanRetry         bool               `json:"canRetry,omitempty"`
	PassingScore     float64            `json:"passingScore,omitempty"`
	TimeLimitSeconds int                `json:"timeLimitSeconds,omitempty"`
	LatestScore      *domain.SceneScore `json:"latestScore,omitempty"`

	// resource / introduction / summary
	Body  string                `json:"body,omitempty"`
	Links []domain.ResourceLink `json:"links,omitempty"`

	CompletionPercent float64 `json:"completionPercent"`
	TotalScore        float64 `json:"totalScore"`
}

func (s *Session) viewLocked() SceneView {
	state := s.state
	view := SceneView{
		SessionID:         s.id,
		GameID:            s.manifest.GameID,
		Status:            state.Status,
		Terminal:          state.Terminal,
		CompletionPercent: state.CompletionPercent(s.manifest),
		TotalScore:        state.TotalEarnedPoints(),
	}
	if !state.Started() {
		return view
	}

	scene := s.manifest.Scenes[state.CurrentSceneID]
	view.SceneID = scene.SceneID
	view.Type = scene.Type
	view.Title = scene.Title
	view.Required = scene.Required
	view.Completed = state.Completed(scene.SceneID)
	view.CanGoBack = !state.Terminal && (scene.Navigation.Previous != "" || len(state.HistoryStack) > 1)
	view.CanSkip = !state.Terminal && scene.Skippable()

	switch {
	case scene.Type == domain.SceneDialogue:
		view.Lines = scene.Lines
		view.AutoProgress = scene.AutoProgress
		view.ProgressDelayMs = scene.ProgressDelayMs
		for _, c := range scene.Choices {
			view.Choices = append(view.Choices, ChoiceView{ChoiceID: c.ChoiceID, Text: c.Text})
		}
	case scene.Type.Scored():
		attempt := state.Attempts[scene.SceneID]
		view.MaxAttempts = scene.MaxAttempts()
		view.PassingScore = scene.Scoring.PassingScore
		view.TimeLimitSeconds = scene.Scoring.TimeLimitSeconds
		if attempt != nil {
			view.Attempt = attempt.Attempt
			view.AttemptSubmitted = attempt.Submitted
			view.CanRetry = attempt.Submitted && !state.Terminal &&
				(view.MaxAttempts == 0 || attempt.Attempt < view.MaxAttempts)
		}
		for _, q := range scene.Questions {
			qv := QuestionView{
				QuestionID: q.QuestionID,
				Kind:       q.Kind,
				Prompt:     q.Prompt,
				Points:     q.Points,
			}
			for _, opt := range q.Options {
				qv.Options = append(qv.Options, OptionView{OptionID: opt.OptionID, Text: opt.Text})
			}
			if attempt != nil && attempt.Scored(q.QuestionID) {
				qv.Answered = true
				qv.Selected = append([]string(nil), state.Answers[q.QuestionID]...)
			}
			view.Questions = append(view.Questions, qv)
		}
		if latest, ok := state.LatestScore(scene.SceneID); ok {
			view.LatestScore = &latest
		}
	default:
		view.Body = scene.Body
		view.Links = scene.Links
	}
	return view
}
