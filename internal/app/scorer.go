package app

import (
	"math"

	"testprep-attempt-service/internal/domain"
)

// Score grades a completed answer set against a test definition. It is a pure
// function: no clock, no randomness, no I/O. Questions are walked in
// definition order so identical inputs always produce identical output, which
// is what lets the submission coordinator retry persistence safely.
func Score(def domain.TestDefinition, answers map[string]domain.AnswerEntry) domain.ScoreResult {
	result := domain.ScoreResult{
		Questions: make([]domain.QuestionScore, 0, len(def.Questions)),
	}

	for _, question := range def.Questions {
		qs := domain.QuestionScore{
			QuestionID:    question.ID,
			CorrectAnswer: question.CorrectAnswer,
			MaxMarks:      question.Marks,
		}
		if entry, ok := answers[question.ID]; ok {
			qs.Answered = true
			qs.UserAnswer = entry.Value
		}

		switch question.Kind {
		case domain.QuestionText:
			// Free-text answers go through a separate manual grading pass.
			qs.NeedsGrading = true
		default:
			qs.Correct = qs.Answered && qs.UserAnswer == question.CorrectAnswer
		}

		if qs.Correct {
			qs.MarksAwarded = question.Marks
		}
		result.Score += qs.MarksAwarded
		result.MaxScore += question.Marks
		result.Questions = append(result.Questions, qs)
	}

	if result.MaxScore > 0 {
		result.Percentage = int(math.Round(100 * float64(result.Score) / float64(result.MaxScore)))
		result.Passed = result.Percentage >= def.PassingThreshold
	}
	return result
}
