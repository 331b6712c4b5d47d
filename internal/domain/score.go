package domain

// QuestionScore is the scoring outcome for a single question.
type QuestionScore struct {
	QuestionID    string `json:"questionId"`
	UserAnswer    string `json:"userAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Answered      bool   `json:"answered"`
	Correct       bool   `json:"correct"`
	// NeedsGrading marks free-text answers that await a manual pass; the
	// automatic scorer always awards them 0.
	NeedsGrading bool `json:"needsGrading,omitempty"`
	MarksAwarded int  `json:"marksAwarded"`
	MaxMarks     int  `json:"maxMarks"`
}

// ScoreSummary is the aggregate persisted onto a finished attempt.
type ScoreSummary struct {
	Score      int  `json:"score"`
	MaxScore   int  `json:"maxScore"`
	Percentage int  `json:"percentage"`
	Passed     bool `json:"passed"`
}

// ScoreResult is the full scoring output: per-question breakdown plus the
// aggregate. Derived data only; it is never stored apart from its attempt.
type ScoreResult struct {
	Questions  []QuestionScore `json:"questions"`
	Score      int             `json:"score"`
	MaxScore   int             `json:"maxScore"`
	Percentage int             `json:"percentage"`
	Passed     bool            `json:"passed"`
}

// Summary returns the aggregate portion of the result.
func (r ScoreResult) Summary() ScoreSummary {
	return ScoreSummary{
		Score:      r.Score,
		MaxScore:   r.MaxScore,
		Percentage: r.Percentage,
		Passed:     r.Passed,
	}
}
