package domain

import "time"

// QuestionScore is the outcome of scoring one question within one attempt.
type QuestionScore struct {
	QuestionID string  `json:"questionId"`
	Earned     float64 `json:"earned"`
	Possible   float64 `json:"possible"`
	Correct    bool    `json:"correct"`
}

// SceneScore aggregates the question scores of one attempt at a scored scene.
// Percentage already has the retry penalty subtracted; Penalty records how
// much was taken off so hosts can display the raw result.
type SceneScore struct {
	SceneID      string    `json:"sceneId"`
	Attempt      int       `json:"attempt"`
	EarnedPoints float64   `json:"earnedPoints"`
	TotalPoints  float64   `json:"totalPoints"`
	Percentage   float64   `json:"percentage"`
	Penalty      float64   `json:"penalty,omitempty"`
	Passed       bool      `json:"passed"`
	ScoredAt     time.Time `json:"scoredAt,omitempty"`
}

// ScoreQuestion scores a selection against one question. It never fails: an
// empty selection, a selection referencing unknown option ids, or a selection
// of the wrong arity all degrade to zero credit, so a confused client cannot
// desynchronize scoring.
func ScoreQuestion(q *Question, selectedOptionIDs []string) QuestionScore {
	points := q.Points
	if points == 0 {
		points = 1
	}
	score := QuestionScore{QuestionID: q.QuestionID, Possible: float64(points)}

	selected := dedupe(selectedOptionIDs)
	if len(selected) == 0 {
		return score
	}
	for _, id := range selected {
		if _, ok := q.Option(id); !ok {
			return score
		}
	}

	if q.Kind.SingleSelect() {
		if len(selected) != 1 {
			return score
		}
		opt, _ := q.Option(selected[0])
		if opt.Correct {
			score.Earned = score.Possible
			score.Correct = true
		}
		return score
	}

	// multiple-select: exact set match earns full credit; partial credit is
	// opt-in through per-option weights and only ever counts correct picks.
	correctSet := make(map[string]bool)
	for _, opt := range q.Options {
		if opt.Correct {
			correctSet[opt.OptionID] = true
		}
	}
	exact := len(selected) == len(correctSet)
	partial := 0.0
	partialMode := false
	for _, opt := range q.Options {
		if opt.PartialCredit > 0 {
			partialMode = true
		}
	}
	for _, id := range selected {
		if !correctSet[id] {
			exact = false
			continue
		}
		opt, _ := q.Option(id)
		partial += opt.PartialCredit
	}

	switch {
	case exact:
		score.Earned = score.Possible
		score.Correct = true
	case partialMode:
		if partial > score.Possible {
			partial = score.Possible
		}
		score.Earned = partial
	}
	return score
}

// AggregateScores folds the question scores of one attempt into a scene
// result. The retry penalty applies to this attempt's percentage only; prior
// attempts keep the percentage they were recorded with. The caller stamps
// SceneID and ScoredAt.
func AggregateScores(scores []QuestionScore, cfg ScoringConfig, attempt int) SceneScore {
	result := SceneScore{Attempt: attempt}
	for _, qs := range scores {
		result.EarnedPoints += qs.Earned
		result.TotalPoints += qs.Possible
	}

	pct := 0.0
	if result.TotalPoints > 0 {
		pct = result.EarnedPoints / result.TotalPoints * 100
	}
	if attempt > 1 && cfg.PenaltyPerRetry > 0 {
		result.Penalty = cfg.PenaltyPerRetry * float64(attempt-1)
		pct -= result.Penalty
	}
	if pct < 0 {
		pct = 0
	}
	result.Percentage = pct
	result.Passed = pct >= cfg.PassingScore
	return result
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
