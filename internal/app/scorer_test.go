package app_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"testprep-attempt-service/internal/app"
	"testprep-attempt-service/internal/domain"
)

func TestScoreGradesInDefinitionOrder(t *testing.T) {
	def := scorerTestDef()
	answers := map[string]domain.AnswerEntry{
		"q2": {QuestionID: "q2", Value: "C"},
		"q1": {QuestionID: "q1", Value: "A"},
	}

	result := app.Score(def, answers)
	if result.Score != 1 || result.MaxScore != 2 {
		t.Fatalf("expected 1/2, got %d/%d", result.Score, result.MaxScore)
	}
	if result.Percentage != 50 || !result.Passed {
		t.Fatalf("expected 50%% passed, got %d%% passed=%v", result.Percentage, result.Passed)
	}
	if result.Questions[0].QuestionID != "q1" || result.Questions[1].QuestionID != "q2" {
		t.Fatalf("expected definition order, got %+v", result.Questions)
	}
	if !result.Questions[0].Correct || result.Questions[1].Correct {
		t.Fatalf("expected q1 correct and q2 wrong, got %+v", result.Questions)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	def := scorerTestDef()
	answers := map[string]domain.AnswerEntry{
		"q1": {QuestionID: "q1", Value: "A", UpdatedAt: time.Unix(100, 0)},
		"q2": {QuestionID: "q2", Value: "B", UpdatedAt: time.Unix(200, 0)},
	}

	first, err := json.Marshal(app.Score(def, answers))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(app.Score(def, answers))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical results:\n%s\n%s", first, second)
	}
}

func TestScoreUnansweredNeverCorrect(t *testing.T) {
	result := app.Score(scorerTestDef(), nil)
	if result.Score != 0 {
		t.Fatalf("expected 0 for empty answers, got %d", result.Score)
	}
	for _, qs := range result.Questions {
		if qs.Answered || qs.Correct {
			t.Fatalf("expected unanswered and incorrect, got %+v", qs)
		}
	}
}

func TestScoreZeroMarksYieldsZeroPercentNotFailure(t *testing.T) {
	def := domain.TestDefinition{
		ID:               "test-empty",
		PassingThreshold: 0,
		Questions: []domain.QuestionRef{
			{ID: "q1", Kind: domain.QuestionChoice, CorrectAnswer: "A", Marks: 0},
		},
	}
	result := app.Score(def, map[string]domain.AnswerEntry{
		"q1": {QuestionID: "q1", Value: "A"},
	})
	if result.Percentage != 0 || result.Passed {
		t.Fatalf("expected 0%% and not passed on zero total marks, got %d%% passed=%v", result.Percentage, result.Passed)
	}
}

func TestScoreFreeTextAwaitsManualGrading(t *testing.T) {
	def := domain.TestDefinition{
		ID:               "test-essay",
		PassingThreshold: 50,
		Questions: []domain.QuestionRef{
			{ID: "q1", Kind: domain.QuestionText, Marks: 5},
			{ID: "q2", Kind: domain.QuestionChoice, CorrectAnswer: "B", Marks: 5},
		},
	}
	result := app.Score(def, map[string]domain.AnswerEntry{
		"q1": {QuestionID: "q1", Value: "a long essay"},
		"q2": {QuestionID: "q2", Value: "B"},
	})
	if !result.Questions[0].NeedsGrading || result.Questions[0].Correct || result.Questions[0].MarksAwarded != 0 {
		t.Fatalf("expected free text to need grading and score 0, got %+v", result.Questions[0])
	}
	if result.Score != 5 || result.MaxScore != 10 {
		t.Fatalf("expected 5/10, got %d/%d", result.Score, result.MaxScore)
	}
}

func scorerTestDef() domain.TestDefinition {
	return domain.TestDefinition{
		ID:               "test-1",
		SubjectID:        "math",
		DurationMinutes:  30,
		PassingThreshold: 50,
		Questions: []domain.QuestionRef{
			{ID: "q1", Kind: domain.QuestionChoice, CorrectAnswer: "A", Marks: 1},
			{ID: "q2", Kind: domain.QuestionChoice, CorrectAnswer: "B", Marks: 1},
		},
	}
}
