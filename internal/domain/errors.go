package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrManifestNotFound indicates the manifest content could not be loaded.
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrSnapshotNotFound indicates no snapshot exists for the session.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSessionNotFound is returned when a session handle has not been registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotStarted is returned for navigation before Start.
	ErrSessionNotStarted = errors.New("session has not been started")
	// ErrSessionAlreadyStarted rejects a second Start.
	ErrSessionAlreadyStarted = errors.New("session has already been started")
	// ErrSessionFinished is returned for navigation after the terminal scene.
	ErrSessionFinished = errors.New("session already reached its terminal scene")
	// ErrSessionAbandoned is returned for navigation after abandonment.
	ErrSessionAbandoned = errors.New("session has been abandoned")
	// ErrSessionClosed is returned when operating on a torn-down session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSceneNotSkippable rejects Skip on a required scene.
	ErrSceneNotSkippable = errors.New("scene is required and cannot be skipped")
	// ErrNoPreviousScene rejects GoBack when there is nothing to return to.
	ErrNoPreviousScene = errors.New("no previous scene to return to")
	// ErrNotAScoredScene rejects answer submission outside quiz/assessment scenes.
	ErrNotAScoredScene = errors.New("current scene does not accept answers")
	// ErrChoiceNotApplicable rejects a choice on a scene without choices.
	ErrChoiceNotApplicable = errors.New("current scene does not accept choices")
	// ErrChoiceNotFound indicates the submitted choice id is not declared on the scene.
	ErrChoiceNotFound = errors.New("choice not found in current scene")
	// ErrQuestionNotFound indicates the submitted question id is not part of the scene.
	ErrQuestionNotFound = errors.New("question not found in current scene")
	// ErrQuestionAlreadyScored rejects re-answering within the same attempt.
	ErrQuestionAlreadyScored = errors.New("question already scored for this attempt")
	// ErrAttemptSubmitted rejects answers on a submitted attempt; the scene is
	// review-only until Retry opens a fresh attempt.
	ErrAttemptSubmitted = errors.New("attempt already submitted; scene is in review mode")
	// ErrAttemptIncomplete blocks leaving a quiz before every question is scored.
	ErrAttemptIncomplete = errors.New("unanswered questions remain in the current attempt")
	// ErrRequiredIncomplete blocks finishing while required scenes are uncompleted.
	ErrRequiredIncomplete = errors.New("required scenes have not been completed")
	// ErrRetryNotAllowed rejects retries on scenes that forbid them.
	ErrRetryNotAllowed = errors.New("scene does not allow another attempt")
	// ErrHubNotFound is returned when a hub session has not been registered.
	ErrHubNotFound = errors.New("hub session not found")
	// ErrWorldNotFound indicates the world index is not declared in the hub.
	ErrWorldNotFound = errors.New("world not found in hub")
	// ErrWorldLocked rejects opening a world whose prerequisites are incomplete.
	ErrWorldLocked = errors.New("world is locked by incomplete prerequisites")
	// ErrWorldCompleted rejects reopening a world that already reported its terminal score.
	ErrWorldCompleted = errors.New("world has already been completed")
	// ErrHubExpired rejects operations on a hub past its expiry.
	ErrHubExpired = errors.New("hub session has expired")
)

// NavigationError reports a runtime policy violation. The session state is
// guaranteed unchanged when one is returned.
type NavigationError struct {
	Op  string // the rejected operation: "start", "advance", "back", "skip", "answer", "retry"
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// PersistenceWarning reports a failed snapshot write. The in-memory session
// stays authoritative; the host may retry or warn the user.
type PersistenceWarning struct {
	SessionID string
	Err       error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("snapshot write for session %s failed: %v", w.SessionID, w.Err)
}

func (w *PersistenceWarning) Unwrap() error { return w.Err }

// StaleSessionError reports a snapshot that no longer matches the manifest it
// is being restored against.
type StaleSessionError struct {
	GameID  string
	SceneID string
	Reason  string
}

func (e *StaleSessionError) Error() string {
	if e.SceneID != "" {
		return fmt.Sprintf("stale session for game %q: scene %q: %s", e.GameID, e.SceneID, e.Reason)
	}
	return fmt.Sprintf("stale session for game %q: %s", e.GameID, e.Reason)
}

// ValidationError describes a single manifest defect found at load time.
// Fatal entries prevent a session from starting; warnings are advisory.
type ValidationError struct {
	Code    string `json:"code"`
	SceneID string `json:"sceneId,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.Warning {
		b.WriteString("warning: ")
	}
	b.WriteString(e.Code)
	if e.SceneID != "" {
		b.WriteString(" scene=" + e.SceneID)
	}
	if e.Ref != "" {
		b.WriteString(" ref=" + e.Ref)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// ValidationErrors aggregates every defect found in one validation pass.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasFatal reports whether any entry prevents the manifest from being used.
func (v ValidationErrors) HasFatal() bool {
	for _, e := range v {
		if !e.Warning {
			return true
		}
	}
	return false
}

// Fatal returns the entries that prevent a session from starting.
func (v ValidationErrors) Fatal() ValidationErrors {
	out := make(ValidationErrors, 0, len(v))
	for _, e := range v {
		if !e.Warning {
			out = append(out, e)
		}
	}
	return out
}

// Warnings returns the advisory entries.
func (v ValidationErrors) Warnings() ValidationErrors {
	out := make(ValidationErrors, 0, len(v))
	for _, e := range v {
		if e.Warning {
			out = append(out, e)
		}
	}
	return out
}
