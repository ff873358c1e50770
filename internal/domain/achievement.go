package domain

// Default competency level thresholds, overridable per manifest through
// CompetencyConfig.Levels. A level is reached once the accumulator meets its
// minimum, so identical totals always map to identical levels.
var defaultCompetencyLevels = map[string]float64{
	"novice":     0,
	"competent":  10,
	"proficient": 25,
	"expert":     50,
	"master":     100,
}

// AchievementState is derived state: unlocked achievements plus competency
// accumulators. It is only ever produced by ReduceAchievements, never edited
// directly.
type AchievementState struct {
	Unlocked     []string           `json:"unlocked"`
	Competencies map[string]float64 `json:"competencies"`
}

// NewAchievementState returns the empty derived state.
func NewAchievementState() AchievementState {
	return AchievementState{
		Unlocked:     []string{},
		Competencies: make(map[string]float64),
	}
}

// HasUnlocked reports whether the achievement has been unlocked.
func (s AchievementState) HasUnlocked(achievementID string) bool {
	for _, id := range s.Unlocked {
		if id == achievementID {
			return true
		}
	}
	return false
}

// Level maps one competency's accumulator onto its level name.
func (s AchievementState) Level(competency string, cfg CompetencyConfig) string {
	return levelFor(s.Competencies[competency], cfg)
}

// Levels maps every tracked competency onto its level name.
func (s AchievementState) Levels(cfg CompetencyConfig) map[string]string {
	out := make(map[string]string, len(s.Competencies))
	for name, value := range s.Competencies {
		out[name] = levelFor(value, cfg)
	}
	return out
}

// Clone returns a deep copy.
func (s AchievementState) Clone() AchievementState {
	out := AchievementState{
		Unlocked:     append([]string(nil), s.Unlocked...),
		Competencies: make(map[string]float64, len(s.Competencies)),
	}
	for name, value := range s.Competencies {
		out.Competencies[name] = value
	}
	return out
}

func levelFor(value float64, cfg CompetencyConfig) string {
	thresholds := cfg.Levels
	if len(thresholds) == 0 {
		thresholds = defaultCompetencyLevels
	}
	level := competencyLevelOrder[0]
	for _, name := range competencyLevelOrder {
		if value >= thresholds[name] {
			level = name
		}
	}
	return level
}

// ReduceAchievements folds one normalized event into the derived state. It is
// pure: inputs are never mutated and identical inputs yield identical output.
// Unlocks are monotonic; nothing ever removes an entry from Unlocked.
//
// Question-scored events feed the competency accumulators: each competency
// tagged on the question gains weight x earned points. Every event triggers a
// re-evaluation of locked achievements against the cumulative session state.
func ReduceAchievements(m *GameManifest, prior AchievementState, evt Event, session *SessionState) AchievementState {
	next := prior.Clone()

	if evt.Type == EventQuestionScored && evt.Score != nil {
		if scene, ok := m.Scene(evt.SceneID); ok {
			if q, ok := scene.Question(evt.QuestionID); ok {
				for competency, weight := range q.Competencies {
					next.Competencies[competency] += weight * evt.Score.Earned
				}
			}
		}
	}

	for _, def := range m.Achievements {
		if next.HasUnlocked(def.AchievementID) {
			continue
		}
		if requirementsMet(def.Requirements, session) {
			next.Unlocked = append(next.Unlocked, def.AchievementID)
		}
	}
	return next
}

func requirementsMet(req AchievementRequirements, session *SessionState) bool {
	for _, sceneID := range req.ScenesCompleted {
		if !session.Completed(sceneID) {
			return false
		}
	}
	for _, minScore := range req.MinScores {
		best, ok := session.BestScore(minScore.SceneID)
		if !ok || best.Percentage < minScore.Percent {
			return false
		}
	}
	for _, choiceID := range req.ChoicesMade {
		if !session.Chose(choiceID) {
			return false
		}
	}
	return true
}
