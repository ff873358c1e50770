package app

import (
	"log"
	"sync"
	"time"

	"atlas-game-engine/internal/domain"
)

// SessionOption customizes a session runtime at construction time.
type SessionOption func(*Session)

// WithSessionClock injects the time source. Tests pin it for deterministic
// timestamps and timer arithmetic.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithSessionStore enables asynchronous snapshot persistence after every
// accepted mutation.
func WithSessionStore(store SnapshotStore) SessionOption {
	return func(s *Session) {
		s.persist = newSnapshotWriter(store, func(err error) { s.warn(err) })
	}
}

// WithSessionWarn routes non-fatal runtime failures (snapshot writes,
// rejected auto-advances) somewhere other than the default logger.
func WithSessionWarn(fn func(error)) SessionOption {
	return func(s *Session) { s.warn = fn }
}

// withSessionHub attaches the hub state provider for worlds opened through a
// hub, so snapshots carry the surrounding hub progress. The provider is
// called with the session lock held and must not call back into the session.
func withSessionHub(fn func() *domain.WorldHubState) SessionOption {
	return func(s *Session) { s.hubState = fn }
}

// Session is the runtime for one learner traversing one manifest. All
// mutations are serialized through a single mutex, so an operation either
// fully applies or is rejected with the state untouched. Reads hand out deep
// copies and never block mutations for long.
type Session struct {
	id       string
	manifest *domain.GameManifest
	now      func() time.Time
	warn     func(error)
	persist  *snapshotWriter
	hubState func() *domain.WorldHubState

	mu           sync.Mutex
	state        *domain.SessionState
	achievements domain.AchievementState
	subscribers  map[chan domain.Event]struct{}
	// timer is whichever delayed action the current scene armed. timerGen
	// invalidates in-flight callbacks: they re-check it under the lock, so
	// navigation that wins the race turns a late fire into a no-op.
	timer    *time.Timer
	timerGen uint64
	closed   bool
}

// NewSession builds a session runtime over a parsed manifest. The manifest
// must have passed validation; the runtime relies on its referential
// integrity and does not re-check it.
func NewSession(id string, m *domain.GameManifest, opts ...SessionOption) *Session {
	s := &Session{
		id:          id,
		manifest:    m,
		now:         time.Now,
		subscribers: make(map[chan domain.Event]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.warn == nil {
		s.warn = func(err error) { log.Printf("session %s: %v", id, err) }
	}
	s.state = domain.NewSessionState(id, m.GameID, s.now())
	s.achievements = domain.NewAchievementState()
	return s
}

// NewSessionFromSnapshot rebuilds a runtime from a snapshot. Scene timers are
// re-armed: a timed attempt resumes with whatever time it has left, and one
// that expired while suspended is submitted right away.
func NewSessionFromSnapshot(snap domain.Snapshot, m *domain.GameManifest, opts ...SessionOption) (*Session, error) {
	state, achievements, err := snap.RestoreSession(m)
	if err != nil {
		return nil, err
	}
	s := NewSession(state.SessionID, m, opts...)
	s.mu.Lock()
	s.state = state
	s.achievements = achievements
	if state.Status == domain.StatusInProgress && state.Started() {
		s.armTimersLocked(s.currentSceneLocked())
	}
	s.mu.Unlock()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// GameID returns the id of the manifest this session runs.
func (s *Session) GameID() string { return s.manifest.GameID }

// Manifest returns the shared, read-only manifest.
func (s *Session) Manifest() *domain.GameManifest { return s.manifest }

// State returns a deep copy of the current session state.
func (s *Session) State() *domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Achievements returns a deep copy of the derived achievement state.
func (s *Session) Achievements() domain.AchievementState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.achievements.Clone()
}

// CompetencyLevels maps every tracked competency onto its current level name.
func (s *Session) CompetencyLevels() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.achievements.Levels(s.manifest.Competencies)
}

// Totals reports the best-attempt score sum and the completion percentage.
func (s *Session) Totals() (score, completionPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TotalEarnedPoints(), s.state.CompletionPercent(s.manifest)
}

// View returns the current scene as the presentation layer should see it.
func (s *Session) View() SceneView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Snapshot captures the full resumption state at this instant.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers an event feed. The returned cancel func must be called
// exactly once; a consumer that falls a full buffer behind loses its oldest
// events rather than slowing navigation down.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Start moves the session onto the manifest's start scene.
func (s *Session) Start() (SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked("start"); err != nil {
		return SceneView{}, err
	}
	if s.state.Started() {
		return SceneView{}, &domain.NavigationError{Op: "start", Err: domain.ErrSessionAlreadyStarted}
	}
	var evts []domain.Event
	s.enterLocked(s.manifest.StartScene, &evts)
	s.finalizeLocked(evts)
	return s.viewLocked(), nil
}

// Advance leaves the current scene forward. choiceID selects a dialogue
// branch and must be empty everywhere else. Advancing past a scene whose
// forward edge is empty finishes the session, provided every required scene
// has been completed; a rejection leaves the state untouched.
func (s *Session) Advance(choiceID string) (SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.advanceLocked("advance", choiceID); err != nil {
		return SceneView{}, err
	}
	return s.viewLocked(), nil
}

func (s *Session) advanceLocked(op, choiceID string) error {
	if err := s.guardLocked(op); err != nil {
		return err
	}
	if !s.state.Started() {
		return &domain.NavigationError{Op: op, Err: domain.ErrSessionNotStarted}
	}
	scene := s.currentSceneLocked()
	if scene.Type.Scored() {
		attempt := s.state.Attempts[scene.SceneID]
		if attempt == nil || !attempt.Submitted {
			return &domain.NavigationError{Op: op, Err: domain.ErrAttemptIncomplete}
		}
	}
	var choice *domain.Choice
	if choiceID != "" {
		if len(scene.Choices) == 0 {
			return &domain.NavigationError{Op: op, Err: domain.ErrChoiceNotApplicable}
		}
		c, ok := scene.Choice(choiceID)
		if !ok {
			return &domain.NavigationError{Op: op, Err: domain.ErrChoiceNotFound}
		}
		choice = c
	}
	target := scene.Navigation.Next
	if choice != nil {
		target = choice.Target
	}
	if target == "" {
		if len(s.missingRequiredLocked(scene.SceneID)) > 0 {
			return &domain.NavigationError{Op: op, Err: domain.ErrRequiredIncomplete}
		}
	}

	var evts []domain.Event
	if choice != nil {
		s.state.ChoiceLog = append(s.state.ChoiceLog, choice.ChoiceID)
		evts = append(evts, domain.Event{
			Type:     domain.EventChoiceMade,
			SceneID:  scene.SceneID,
			ChoiceID: choice.ChoiceID,
		})
	}
	s.completeLocked(scene, &evts)
	if target == "" {
		s.finishLocked(&evts)
	} else {
		s.enterLocked(target, &evts)
	}
	s.finalizeLocked(evts)
	return nil
}

// GoBack returns to the previous scene: the scene's explicit previous edge if
// it declares one, otherwise the scene visited before this one. The scene
// being left is not completed by going back.
func (s *Session) GoBack() (SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked("back"); err != nil {
		return SceneView{}, err
	}
	if !s.state.Started() {
		return SceneView{}, &domain.NavigationError{Op: "back", Err: domain.ErrSessionNotStarted}
	}
	scene := s.currentSceneLocked()
	dest := scene.Navigation.Previous
	hist := s.state.HistoryStack
	if dest == "" && len(hist) < 2 {
		return SceneView{}, &domain.NavigationError{Op: "back", Err: domain.ErrNoPreviousScene}
	}
	hist = hist[:len(hist)-1] // pop the scene being left
	if dest == "" {
		dest = hist[len(hist)-1]
	}
	s.state.HistoryStack = hist

	var evts []domain.Event
	s.enterLocked(dest, &evts)
	s.finalizeLocked(evts)
	return s.viewLocked(), nil
}

// Skip leaves the current scene without completing it. Required scenes and
// scenes declaring canSkip=false reject it; skipping a scored scene abandons
// the open attempt without recording an aggregate.
func (s *Session) Skip() (SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked("skip"); err != nil {
		return SceneView{}, err
	}
	if !s.state.Started() {
		return SceneView{}, &domain.NavigationError{Op: "skip", Err: domain.ErrSessionNotStarted}
	}
	scene := s.currentSceneLocked()
	if !scene.Skippable() {
		return SceneView{}, &domain.NavigationError{Op: "skip", Err: domain.ErrSceneNotSkippable}
	}
	target := scene.Navigation.Next
	if target == "" && len(s.missingRequiredLocked("")) > 0 {
		return SceneView{}, &domain.NavigationError{Op: "skip", Err: domain.ErrRequiredIncomplete}
	}
	if !s.state.Skipped(scene.SceneID) {
		s.state.SkippedScenes = append(s.state.SkippedScenes, scene.SceneID)
	}
	var evts []domain.Event
	if target == "" {
		s.finishLocked(&evts)
	} else {
		s.enterLocked(target, &evts)
	}
	s.finalizeLocked(evts)
	return s.viewLocked(), nil
}

// SubmitAnswer scores one question within the current attempt. Once every
// question of the scene is scored the attempt is submitted and its aggregate
// recorded.
func (s *Session) SubmitAnswer(questionID string, optionIDs []string) (domain.QuestionScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked("answer"); err != nil {
		return domain.QuestionScore{}, err
	}
	if !s.state.Started() {
		return domain.QuestionScore{}, &domain.NavigationError{Op: "answer", Err: domain.ErrSessionNotStarted}
	}
	scene := s.currentSceneLocked()
	if !scene.Type.Scored() {
		return domain.QuestionScore{}, &domain.NavigationError{Op: "answer", Err: domain.ErrNotAScoredScene}
	}
	attempt := s.ensureAttemptLocked(scene)
	if attempt.Submitted {
		return domain.QuestionScore{}, &domain.NavigationError{Op: "answer", Err: domain.ErrAttemptSubmitted}
	}
	q, ok := scene.Question(questionID)
	if !ok {
		return domain.QuestionScore{}, &domain.NavigationError{Op: "answer", Err: domain.ErrQuestionNotFound}
	}
	if attempt.Scored(questionID) {
		return domain.QuestionScore{}, &domain.NavigationError{Op: "answer", Err: domain.ErrQuestionAlreadyScored}
	}

	qs := domain.ScoreQuestion(q, optionIDs)
	attempt.Questions[questionID] = qs
	s.state.Answers[questionID] = append([]string(nil), optionIDs...)

	evts := []domain.Event{{
		Type:       domain.EventQuestionScored,
		SceneID:    scene.SceneID,
		QuestionID: questionID,
		Attempt:    attempt.Attempt,
		Score:      &qs,
	}}
	if len(attempt.Questions) == len(scene.Questions) {
		s.submitAttemptLocked(scene, attempt, &evts)
	}
	s.finalizeLocked(evts)
	return qs, nil
}

// Retry opens a fresh attempt at the current scored scene. The submitted
// attempt's record stays; only the working answers are cleared.
func (s *Session) Retry() (SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked("retry"); err != nil {
		return SceneView{}, err
	}
	if !s.state.Started() {
		return SceneView{}, &domain.NavigationError{Op: "retry", Err: domain.ErrSessionNotStarted}
	}
	scene := s.currentSceneLocked()
	if !scene.Type.Scored() {
		return SceneView{}, &domain.NavigationError{Op: "retry", Err: domain.ErrNotAScoredScene}
	}
	attempt := s.ensureAttemptLocked(scene)
	if !attempt.Submitted {
		return SceneView{}, &domain.NavigationError{Op: "retry", Err: domain.ErrAttemptIncomplete}
	}
	if max := scene.MaxAttempts(); max > 0 && attempt.Attempt >= max {
		return SceneView{}, &domain.NavigationError{Op: "retry", Err: domain.ErrRetryNotAllowed}
	}

	s.state.Attempts[scene.SceneID] = &domain.SceneAttempt{
		Attempt:   attempt.Attempt + 1,
		Questions: make(map[string]domain.QuestionScore),
		StartedAt: s.now(),
	}
	for _, q := range scene.Questions {
		delete(s.state.Answers, q.QuestionID)
	}
	s.armTimersLocked(scene)
	s.finalizeLocked(nil)
	return s.viewLocked(), nil
}

// Abandon marks the session abandoned. Scores and achievements earned so far
// are kept; only further navigation is rejected. Abandoning twice is a no-op.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.NavigationError{Op: "abandon", Err: domain.ErrSessionClosed}
	}
	switch s.state.Status {
	case domain.StatusAbandoned:
		return nil
	case domain.StatusCompleted:
		return &domain.NavigationError{Op: "abandon", Err: domain.ErrSessionFinished}
	}
	s.state.Status = domain.StatusAbandoned
	s.cancelTimerLocked()
	s.finalizeLocked(nil)
	return nil
}

// Close tears the runtime down: timers stop, subscriber channels close and
// every later operation is rejected. It does not change the session status.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelTimerLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) guardLocked(op string) error {
	if s.closed {
		return &domain.NavigationError{Op: op, Err: domain.ErrSessionClosed}
	}
	switch s.state.Status {
	case domain.StatusCompleted:
		return &domain.NavigationError{Op: op, Err: domain.ErrSessionFinished}
	case domain.StatusAbandoned:
		return &domain.NavigationError{Op: op, Err: domain.ErrSessionAbandoned}
	}
	return nil
}

func (s *Session) currentSceneLocked() *domain.Scene {
	return s.manifest.Scenes[s.state.CurrentSceneID]
}

func (s *Session) ensureAttemptLocked(scene *domain.Scene) *domain.SceneAttempt {
	attempt := s.state.Attempts[scene.SceneID]
	if attempt == nil {
		attempt = &domain.SceneAttempt{
			Attempt:   1,
			Questions: make(map[string]domain.QuestionScore),
			StartedAt: s.now(),
		}
		s.state.Attempts[scene.SceneID] = attempt
	}
	return attempt
}

// missingRequiredLocked returns the required scenes still incomplete.
// leaving names the scene the current operation is about to complete, if any.
func (s *Session) missingRequiredLocked(leaving string) []string {
	var missing []string
	for _, id := range s.manifest.RequiredScenes() {
		if id == leaving || s.state.Completed(id) {
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

// enterLocked makes the scene current, pushes it onto the history unless it
// already sits on top, opens the first attempt for scored scenes and arms
// whatever timer the scene declares.
func (s *Session) enterLocked(sceneID string, evts *[]domain.Event) {
	scene := s.manifest.Scenes[sceneID]
	if n := len(s.state.HistoryStack); n == 0 || s.state.HistoryStack[n-1] != sceneID {
		s.state.HistoryStack = append(s.state.HistoryStack, sceneID)
	}
	s.state.CurrentSceneID = sceneID

	evt := domain.Event{
		Type:      domain.EventSceneEntered,
		SceneID:   sceneID,
		SceneType: scene.Type,
	}
	if scene.Type.Scored() {
		evt.Attempt = s.ensureAttemptLocked(scene).Attempt
	}
	*evts = append(*evts, evt)
	s.armTimersLocked(scene)
}

// completeLocked records the scene's first completion and emits the event,
// with the aggregate attached for scored scenes. Later traversals of an
// already-completed scene change nothing.
func (s *Session) completeLocked(scene *domain.Scene, evts *[]domain.Event) {
	if s.state.Completed(scene.SceneID) {
		return
	}
	s.state.CompletedScenes = append(s.state.CompletedScenes, scene.SceneID)
	evt := domain.Event{
		Type:      domain.EventSceneCompleted,
		SceneID:   scene.SceneID,
		SceneType: scene.Type,
	}
	if latest, ok := s.state.LatestScore(scene.SceneID); ok {
		evt.Attempt = latest.Attempt
		evt.Result = &latest
	}
	*evts = append(*evts, evt)
}

// submitAttemptLocked aggregates the attempt, appends the score record and
// completes the scene. Score records are append-only; a later attempt never
// rewrites an earlier one.
func (s *Session) submitAttemptLocked(scene *domain.Scene, attempt *domain.SceneAttempt, evts *[]domain.Event) {
	scores := make([]domain.QuestionScore, 0, len(scene.Questions))
	for _, q := range scene.Questions {
		scores = append(scores, attempt.Questions[q.QuestionID])
	}
	agg := domain.AggregateScores(scores, scene.Scoring, attempt.Attempt)
	agg.SceneID = scene.SceneID
	agg.ScoredAt = s.now()
	s.state.Scores[scene.SceneID] = append(s.state.Scores[scene.SceneID], agg)
	attempt.Submitted = true
	s.cancelTimerLocked()
	s.completeLocked(scene, evts)
}

// finishLocked moves the session into the absorbing terminal state. The
// current scene keeps pointing at the last real scene for display and resume.
func (s *Session) finishLocked(evts *[]domain.Event) {
	s.state.Terminal = true
	s.state.Status = domain.StatusCompleted
	s.cancelTimerLocked()
	*evts = append(*evts, domain.Event{
		Type:       domain.EventSessionCompleted,
		TotalScore: s.state.TotalEarnedPoints(),
	})
}

// armTimersLocked cancels any armed timer and arms the one the current scene
// asks for. Timed attempts count down from the attempt's start, so leaving
// and re-entering does not refill the clock.
func (s *Session) armTimersLocked(scene *domain.Scene) {
	s.cancelTimerLocked()
	switch {
	case scene.Type == domain.SceneDialogue && scene.AutoProgress && scene.ProgressDelayMs > 0:
		gen := s.timerGen
		delay := time.Duration(scene.ProgressDelayMs) * time.Millisecond
		s.timer = time.AfterFunc(delay, func() { s.autoAdvance(gen) })
	case scene.Type.Scored() && scene.Scoring.TimeLimitSeconds > 0:
		attempt := s.state.Attempts[scene.SceneID]
		if attempt == nil || attempt.Submitted {
			return
		}
		gen := s.timerGen
		sceneID := scene.SceneID
		limit := time.Duration(scene.Scoring.TimeLimitSeconds) * time.Second
		remaining := attempt.StartedAt.Add(limit).Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		s.timer = time.AfterFunc(remaining, func() { s.autoSubmit(gen, sceneID) })
	}
}

func (s *Session) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// autoAdvance fires a dialogue's auto-progress. User navigation that won the
// race has already bumped the generation, turning this into a no-op.
func (s *Session) autoAdvance(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.timerGen || s.state.Status != domain.StatusInProgress {
		return
	}
	if err := s.advanceLocked("advance", ""); err != nil {
		s.warn(err)
	}
}

// autoSubmit fires when a timed attempt runs out: every unanswered question
// is scored as an empty selection and the attempt is submitted.
func (s *Session) autoSubmit(gen uint64, sceneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.timerGen || s.state.Status != domain.StatusInProgress {
		return
	}
	scene, ok := s.manifest.Scene(sceneID)
	if !ok {
		return
	}
	attempt := s.state.Attempts[sceneID]
	if attempt == nil || attempt.Submitted {
		return
	}

	var evts []domain.Event
	for i := range scene.Questions {
		q := &scene.Questions[i]
		if attempt.Scored(q.QuestionID) {
			continue
		}
		qs := domain.ScoreQuestion(q, nil)
		attempt.Questions[q.QuestionID] = qs
		evts = append(evts, domain.Event{
			Type:       domain.EventQuestionScored,
			SceneID:    sceneID,
			QuestionID: q.QuestionID,
			Attempt:    attempt.Attempt,
			Score:      &qs,
		})
	}
	s.submitAttemptLocked(scene, attempt, &evts)
	s.finalizeLocked(evts)
}

// finalizeLocked stamps and publishes the events of one accepted mutation,
// folding each into the achievement state as it goes. Unlocks surface as
// their own events directly after the event that triggered them. The new
// state is then offered to the snapshot writer.
func (s *Session) finalizeLocked(evts []domain.Event) {
	ts := s.now()
	s.state.LastActiveAt = ts
	for _, evt := range evts {
		evt.SessionID = s.id
		evt.GameID = s.manifest.GameID
		evt.At = ts
		before := len(s.achievements.Unlocked)
		s.achievements = domain.ReduceAchievements(s.manifest, s.achievements, evt, s.state)
		s.broadcastLocked(evt)
		for _, id := range s.achievements.Unlocked[before:] {
			s.broadcastLocked(domain.Event{
				Type:          domain.EventAchievementUnlocked,
				SessionID:     s.id,
				GameID:        s.manifest.GameID,
				AchievementID: id,
				At:            ts,
			})
		}
	}
	s.offerSnapshotLocked()
}

// broadcastLocked fans an event out to every subscriber. A full channel
// drops its oldest event first, so a stalled consumer can never block the
// session.
func (s *Session) broadcastLocked(evt domain.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	var hub *domain.WorldHubState
	if s.hubState != nil {
		hub = s.hubState()
	}
	return domain.NewSnapshot(s.state, s.achievements, hub, s.now())
}

func (s *Session) offerSnapshotLocked() {
	if s.persist == nil {
		return
	}
	s.persist.Offer(s.snapshotLocked())
}
