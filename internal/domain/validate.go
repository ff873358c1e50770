package domain

import (
	"fmt"
	"regexp"
	"sort"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// competencyLevelOrder is the fixed progression of competency levels, lowest
// first. Custom threshold overrides must cover exactly these names.
var competencyLevelOrder = []string{"novice", "competent", "proficient", "expert", "master"}

// Validate checks the structural integrity of a manifest. It never mutates
// the manifest and returns its findings in a deterministic order, so
// validating the same document twice yields identical results.
//
// Fatal findings (dangling references, duplicate ids, malformed structure)
// mean no session may start against this manifest. Unreachable scenes are
// reported as warnings: resource and summary scenes may be intentional
// orphan entry points for a hub.
func Validate(m *GameManifest) ValidationErrors {
	var errs ValidationErrors

	if m.SchemaVersion == "" {
		errs = append(errs, ValidationError{Code: "missing_schema_version", Message: "schemaVersion is required"})
	} else if !semverPattern.MatchString(m.SchemaVersion) {
		errs = append(errs, ValidationError{
			Code:    "invalid_schema_version",
			Ref:     m.SchemaVersion,
			Message: "schemaVersion must be a semver string like 0.1.0",
		})
	}
	if m.GameID == "" {
		errs = append(errs, ValidationError{Code: "missing_game_id", Message: "gameId is required"})
	}
	if len(m.Scenes) == 0 {
		errs = append(errs, ValidationError{Code: "no_scenes", Message: "manifest declares no scenes"})
		return errs
	}

	if m.StartScene == "" {
		errs = append(errs, ValidationError{Code: "missing_start_scene", Message: "startScene is required"})
	} else if _, ok := m.Scenes[m.StartScene]; !ok {
		errs = append(errs, ValidationError{
			Code:    "dangling_start_scene",
			Ref:     m.StartScene,
			Message: "startScene does not exist in the scene map",
		})
	}

	for _, id := range m.SceneOrder {
		errs = append(errs, validateScene(m, m.Scenes[id])...)
	}

	errs = append(errs, validateAchievements(m)...)
	errs = append(errs, validateCompetencyLevels(m.Competencies)...)
	errs = append(errs, unreachableSceneWarnings(m)...)

	return errs
}

func validateScene(m *GameManifest, s *Scene) ValidationErrors {
	var errs ValidationErrors
	fail := func(code, ref, msg string) {
		errs = append(errs, ValidationError{Code: code, SceneID: s.SceneID, Ref: ref, Message: msg})
	}

	if !s.Type.Valid() {
		fail("invalid_scene_type", string(s.Type), "unknown scene type")
		return errs
	}

	checkTarget := func(code, target string) {
		if target == "" {
			return
		}
		if target == s.SceneID {
			fail("self_navigation", target, "scene navigates to itself")
			return
		}
		if _, ok := m.Scenes[target]; !ok {
			fail(code, target, "navigation target does not exist")
		}
	}
	checkTarget("dangling_next", s.Navigation.Next)
	checkTarget("dangling_previous", s.Navigation.Previous)

	seenChoices := make(map[string]bool)
	for _, c := range s.Choices {
		if c.ChoiceID == "" {
			fail("empty_choice_id", "", "choice has no choiceId")
			continue
		}
		if seenChoices[c.ChoiceID] {
			fail("duplicate_choice_id", c.ChoiceID, "choice id declared more than once in scene")
			continue
		}
		seenChoices[c.ChoiceID] = true
		if c.Target == "" {
			fail("missing_choice_target", c.ChoiceID, "choice has no target scene")
			continue
		}
		checkTarget("dangling_choice_target", c.Target)
	}

	if len(s.Choices) > 0 && s.Type != SceneDialogue {
		fail("choices_outside_dialogue", "", "only dialogue scenes may declare choices")
	}
	if s.AutoProgress {
		if s.Type != SceneDialogue {
			fail("auto_progress_outside_dialogue", "", "only dialogue scenes may auto-progress")
		} else if s.ProgressDelayMs <= 0 {
			fail("invalid_progress_delay", "", "autoProgress requires a positive progressDelayMs")
		}
	}

	if s.Type.Scored() {
		errs = append(errs, validateScoredScene(s)...)
	} else if len(s.Questions) > 0 {
		fail("questions_outside_quiz", "", "only quiz and assessment scenes may declare questions")
	}

	return errs
}

func validateScoredScene(s *Scene) ValidationErrors {
	var errs ValidationErrors
	fail := func(code, ref, msg string) {
		errs = append(errs, ValidationError{Code: code, SceneID: s.SceneID, Ref: ref, Message: msg})
	}

	if len(s.Questions) == 0 {
		fail("no_questions", "", "scored scene declares no questions")
	}
	if s.Scoring.PassingScore < 0 || s.Scoring.PassingScore > 100 {
		fail("invalid_passing_score", "", "passingScore must be between 0 and 100")
	}
	if s.Scoring.PenaltyPerRetry < 0 {
		fail("invalid_retry_penalty", "", "penaltyPerRetry must not be negative")
	}
	if s.Scoring.MaxAttempts < 0 {
		fail("invalid_max_attempts", "", "maxAttempts must not be negative")
	}
	if s.Scoring.TimeLimitSeconds < 0 {
		fail("invalid_time_limit", "", "timeLimitSeconds must not be negative")
	}

	seenQuestions := make(map[string]bool)
	for _, q := range s.Questions {
		if q.QuestionID == "" {
			fail("empty_question_id", "", "question has no questionId")
			continue
		}
		if seenQuestions[q.QuestionID] {
			fail("duplicate_question_id", q.QuestionID, "question id declared more than once in scene")
			continue
		}
		seenQuestions[q.QuestionID] = true

		if !q.Kind.Valid() {
			fail("invalid_question_kind", q.QuestionID, fmt.Sprintf("unknown question kind %q", q.Kind))
			continue
		}
		if len(q.Options) == 0 {
			fail("no_options", q.QuestionID, "question declares no options")
			continue
		}

		seenOptions := make(map[string]bool)
		correct := 0
		partial := false
		for _, o := range q.Options {
			if o.OptionID == "" {
				fail("empty_option_id", q.QuestionID, "option has no optionId")
				continue
			}
			if seenOptions[o.OptionID] {
				fail("duplicate_option_id", q.QuestionID+"/"+o.OptionID, "option id declared more than once in question")
				continue
			}
			seenOptions[o.OptionID] = true
			if o.Correct {
				correct++
			}
			if o.PartialCredit > 0 {
				partial = true
			}
			if o.PartialCredit < 0 {
				fail("invalid_partial_credit", q.QuestionID+"/"+o.OptionID, "partialCredit must not be negative")
			}
		}

		switch {
		case q.Kind.SingleSelect() && correct != 1:
			fail("invalid_correct_count", q.QuestionID, "single-select questions need exactly one correct option")
		case q.Kind == QuestionMultipleSelect && correct == 0 && !partial:
			fail("no_correct_option", q.QuestionID, "multiple-select questions need a correct option or partial-credit weights")
		}
		if q.Kind == QuestionTrueFalse && len(q.Options) != 2 {
			fail("invalid_true_false", q.QuestionID, "true-false questions need exactly two options")
		}
	}

	return errs
}

func validateAchievements(m *GameManifest) ValidationErrors {
	var errs ValidationErrors

	choiceIDs := make(map[string]bool)
	for _, id := range m.SceneOrder {
		for _, c := range m.Scenes[id].Choices {
			choiceIDs[c.ChoiceID] = true
		}
	}

	seen := make(map[string]bool)
	for _, def := range m.Achievements {
		fail := func(code, ref, msg string, warning bool) {
			errs = append(errs, ValidationError{Code: code, Ref: ref, Message: msg, Warning: warning})
		}
		if def.AchievementID == "" {
			fail("empty_achievement_id", "", "achievement has no achievementId", false)
			continue
		}
		if seen[def.AchievementID] {
			fail("duplicate_achievement_id", def.AchievementID, "achievement id declared more than once", false)
			continue
		}
		seen[def.AchievementID] = true

		for _, sceneID := range def.Requirements.ScenesCompleted {
			if _, ok := m.Scenes[sceneID]; !ok {
				fail("dangling_achievement_scene", def.AchievementID+"/"+sceneID, "achievement references a scene that does not exist", false)
			}
		}
		for _, req := range def.Requirements.MinScores {
			scene, ok := m.Scenes[req.SceneID]
			if !ok {
				fail("dangling_achievement_scene", def.AchievementID+"/"+req.SceneID, "achievement references a scene that does not exist", false)
				continue
			}
			if req.Percent < 0 || req.Percent > 100 {
				fail("invalid_achievement_percent", def.AchievementID+"/"+req.SceneID, "minimum score percent must be between 0 and 100", false)
			}
			if !scene.Type.Scored() {
				fail("unscored_achievement_scene", def.AchievementID+"/"+req.SceneID, "score requirement targets a scene that is never scored", true)
			}
		}
		for _, choiceID := range def.Requirements.ChoicesMade {
			if !choiceIDs[choiceID] {
				fail("dangling_achievement_choice", def.AchievementID+"/"+choiceID, "achievement references a choice that does not exist", false)
			}
		}
	}

	return errs
}

func validateCompetencyLevels(cfg CompetencyConfig) ValidationErrors {
	if len(cfg.Levels) == 0 {
		return nil
	}
	var errs ValidationErrors
	if len(cfg.Levels) != len(competencyLevelOrder) {
		return ValidationErrors{{
			Code:    "invalid_competency_levels",
			Message: "competency level overrides must cover novice, competent, proficient, expert and master",
		}}
	}
	prev := -1.0
	for _, name := range competencyLevelOrder {
		min, ok := cfg.Levels[name]
		if !ok {
			return ValidationErrors{{
				Code:    "invalid_competency_levels",
				Ref:     name,
				Message: "competency level overrides must cover novice, competent, proficient, expert and master",
			}}
		}
		if min < 0 {
			errs = append(errs, ValidationError{
				Code:    "invalid_competency_threshold",
				Ref:     name,
				Message: "competency thresholds must not be negative",
			})
		}
		if min <= prev {
			errs = append(errs, ValidationError{
				Code:    "invalid_competency_threshold",
				Ref:     name,
				Message: "competency thresholds must be strictly increasing",
			})
		}
		prev = min
	}
	return errs
}

// unreachableSceneWarnings walks forward edges (next and choice targets) from
// startScene and reports scenes the walk never visits.
func unreachableSceneWarnings(m *GameManifest) ValidationErrors {
	if _, ok := m.Scenes[m.StartScene]; !ok {
		return nil // start errors already reported; reachability is meaningless
	}

	visited := make(map[string]bool)
	queue := []string{m.StartScene}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		scene, ok := m.Scenes[id]
		if !ok {
			continue
		}
		if scene.Navigation.Next != "" {
			queue = append(queue, scene.Navigation.Next)
		}
		for _, c := range scene.Choices {
			if c.Target != "" {
				queue = append(queue, c.Target)
			}
		}
	}

	var unreachable []string
	for _, id := range m.SceneOrder {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)

	errs := make(ValidationErrors, 0, len(unreachable))
	for _, id := range unreachable {
		errs = append(errs, ValidationError{
			Code:    "unreachable_scene",
			SceneID: id,
			Message: "scene cannot be reached from startScene via forward edges",
			Warning: true,
		})
	}
	return errs
}
