package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"testprep-attempt-service/internal/app"
	"testprep-attempt-service/internal/domain"
	"testprep-attempt-service/internal/infra/memory"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestStartCreatesAttemptWithFullWindow(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	result, err := service.Start(ctx, "u1", "test-1", baseTime)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Attempt.State != domain.AttemptInProgress {
		t.Fatalf("expected in_progress, got %s", result.Attempt.State)
	}
	if result.TimeLeft != 30*time.Minute {
		t.Fatalf("expected 30m left, got %s", result.TimeLeft)
	}
	if result.Resumed {
		t.Fatalf("expected a fresh attempt")
	}
}

func TestStartResumesExistingAttempt(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	first, err := service.Start(ctx, "u1", "test-1", baseTime)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := service.Start(ctx, "u1", "test-1", baseTime.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Attempt.ID != first.Attempt.ID {
		t.Fatalf("expected same attempt on resume, got %s and %s", first.Attempt.ID, second.Attempt.ID)
	}
	if !second.Resumed {
		t.Fatalf("expected resumed flag")
	}
	if second.TimeLeft != 25*time.Minute {
		t.Fatalf("expected 25m left after 5m, got %s", second.TimeLeft)
	}
}

func TestStartEnforcesAttemptLimit(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	started, err := service.Start(ctx, "u1", "test-1", baseTime)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = service.Start(ctx, "u1", "test-1", baseTime.Add(2*time.Minute))
	if !errors.Is(err, domain.ErrAttemptLimitExceeded) {
		t.Fatalf("expected attempt limit error, got %v", err)
	}
}

func TestStartAllowsRetakesWhenPermitted(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	started, err := service.Start(ctx, "u1", "test-multi", baseTime)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	again, err := service.Start(ctx, "u1", "test-multi", baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("expected retake allowed, got %v", err)
	}
	if again.Attempt.ID == started.Attempt.ID {
		t.Fatalf("expected a new attempt for the retake")
	}
}

func TestStartRequiresPaymentAccess(t *testing.T) {
	ctx := context.Background()
	service, access := newTestService(t)

	_, err := service.Start(ctx, "u1", "test-paid", baseTime)
	if !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment error, got %v", err)
	}

	access.Grant("u1", "test-paid")
	if _, err := service.Start(ctx, "u1", "test-paid", baseTime); err != nil {
		t.Fatalf("expected start after grant, got %v", err)
	}
}

func TestStartUnknownTest(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.Start(ctx, "u1", "no-such-test", baseTime)
	if !errors.Is(err, domain.ErrTestNotFound) {
		t.Fatalf("expected test not found, got %v", err)
	}
}

func TestSaveAnswersIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	entry := domain.AnswerEntry{QuestionID: "q1", Value: "A", UpdatedAt: baseTime.Add(time.Minute)}
	first, err := service.SaveAnswers(ctx, started.Attempt.ID, []domain.AnswerEntry{entry}, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := service.SaveAnswers(ctx, started.Attempt.ID, []domain.AnswerEntry{entry}, baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one answer, got %d then %d", len(first), len(second))
	}
	if second["q1"] != first["q1"] {
		t.Fatalf("expected identical state after duplicate apply: %+v vs %+v", first["q1"], second["q1"])
	}
}

func TestSaveAnswersLastWriteWins(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	newer := domain.AnswerEntry{QuestionID: "q1", Value: "A", UpdatedAt: baseTime.Add(10 * time.Second)}
	older := domain.AnswerEntry{QuestionID: "q1", Value: "B", UpdatedAt: baseTime.Add(5 * time.Second)}

	if _, err := service.SaveAnswers(ctx, started.Attempt.ID, []domain.AnswerEntry{newer}, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	merged, err := service.SaveAnswers(ctx, started.Attempt.ID, []domain.AnswerEntry{older}, baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	if merged["q1"].Value != "A" {
		t.Fatalf("expected older write discarded, got %q", merged["q1"].Value)
	}
}

func TestSaveAnswersRejectsExpired(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	late := baseTime.Add(31 * time.Minute)
	_, err := service.SaveAnswers(ctx, started.Attempt.ID, []domain.AnswerEntry{
		{QuestionID: "q1", Value: "A", UpdatedAt: late},
	}, late)
	if !errors.Is(err, domain.ErrAttemptExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}

	attempt, err := service.GetAttempt(ctx, started.Attempt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(attempt.Answers) != 0 {
		t.Fatalf("expected answers untouched by rejected write, got %+v", attempt.Answers)
	}
}

func TestSaveAnswersUnknownAttempt(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.SaveAnswers(ctx, "missing", []domain.AnswerEntry{
		{QuestionID: "q1", Value: "A", UpdatedAt: baseTime},
	}, baseTime)
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitScoresAndFinalizes(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	saveAnswer(t, service, started.Attempt.ID, "q1", "A", baseTime.Add(time.Minute))
	saveAnswer(t, service, started.Attempt.ID, "q2", "C", baseTime.Add(2*time.Minute))

	result, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Attempt.State != domain.AttemptSubmitted {
		t.Fatalf("expected submitted, got %s", result.Attempt.State)
	}
	if result.Score.Score != 1 || result.Score.MaxScore != 2 || result.Score.Percentage != 50 || !result.Score.Passed {
		t.Fatalf("expected 1/2 50%% passed, got %+v", result.Score)
	}
	if result.Attempt.Result == nil || result.Attempt.Result.Score != 1 {
		t.Fatalf("expected persisted score, got %+v", result.Attempt.Result)
	}
}

func TestSubmitAfterDeadlineScoresSavedWorkAsExpired(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	saveAnswer(t, service, started.Attempt.ID, "q1", "A", baseTime.Add(time.Minute))

	result, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(2000*time.Second))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Attempt.State != domain.AttemptExpired {
		t.Fatalf("expected expired, got %s", result.Attempt.State)
	}
	if result.Score.Score != 1 {
		t.Fatalf("expected saved answers still scored, got %d", result.Score.Score)
	}
}

func TestSubmitTwiceFailsSecondCall(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")

	if _, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(2*time.Minute))
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
}

func TestConcurrentSubmitsScoreExactlyOnce(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	started := mustStart(t, service, "u1", "test-1")
	saveAnswer(t, service, started.Attempt.ID, "q1", "A", baseTime.Add(time.Minute))

	const submitters = 8
	errs := make(chan error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(2*time.Minute))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, alreadySubmitted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrAlreadySubmitted):
			alreadySubmitted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || alreadySubmitted != submitters-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", succeeded, alreadySubmitted)
	}
}

func TestSubmitFeedsLeaderboard(t *testing.T) {
	ctx := context.Background()
	service, leaderboard := newTestServiceWithLeaderboard(t)
	started := mustStart(t, service, "u1", "test-1")
	saveAnswer(t, service, started.Attempt.ID, "q1", "A", baseTime.Add(time.Minute))

	if _, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	subject, err := leaderboard.Leaderboard(ctx, "math", 10, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(subject) != 1 || subject[0].TotalScore != 1 {
		t.Fatalf("expected subject total 1, got %+v", subject)
	}
	overall, err := leaderboard.Leaderboard(ctx, domain.OverallScope, 10, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(overall) != 1 || overall[0].TotalScore != 1 {
		t.Fatalf("expected overall total 1, got %+v", overall)
	}
}

func TestLeaderboardFailureDoesNotFailSubmit(t *testing.T) {
	ctx := context.Background()
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(testCatalog()), 5*time.Minute)
	service := app.NewAttemptService(tests, memory.NewAttemptStore(), memory.NewAllowAllAccess(), failingRecorder{}, nil)

	started := mustStart(t, service, "u1", "test-1")
	result, err := service.Submit(ctx, started.Attempt.ID, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("expected submit to survive leaderboard failure, got %v", err)
	}
	if result.Attempt.State != domain.AttemptSubmitted {
		t.Fatalf("expected submitted, got %s", result.Attempt.State)
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordScore(context.Context, string, string, int, time.Time) error {
	return errors.New("leaderboard unavailable")
}

func mustStart(t *testing.T, service *app.AttemptService, userID, testID string) app.StartResult {
	t.Helper()
	result, err := service.Start(context.Background(), userID, testID, baseTime)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return result
}

func saveAnswer(t *testing.T, service *app.AttemptService, attemptID, questionID, value string, at time.Time) {
	t.Helper()
	_, err := service.SaveAnswers(context.Background(), attemptID, []domain.AnswerEntry{
		{QuestionID: questionID, Value: value, UpdatedAt: at},
	}, at)
	if err != nil {
		t.Fatalf("save answer %s: %v", questionID, err)
	}
}

func newTestService(t *testing.T) (*app.AttemptService, *memory.AccessChecker) {
	t.Helper()
	service, _, access := buildService()
	return service, access
}

func newTestServiceWithLeaderboard(t *testing.T) (*app.AttemptService, *app.LeaderboardAggregator) {
	t.Helper()
	service, leaderboard, _ := buildService()
	return service, leaderboard
}

func buildService() (*app.AttemptService, *app.LeaderboardAggregator, *memory.AccessChecker) {
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(testCatalog()), 5*time.Minute)
	leaderboard := app.NewLeaderboardAggregator(memory.NewLeaderboardStore())
	access := memory.NewAccessChecker()
	service := app.NewAttemptService(tests, memory.NewAttemptStore(), access, leaderboard, nil)
	return service, leaderboard, access
}

func testCatalog() map[string]domain.TestDefinition {
	questions := []domain.QuestionRef{
		{ID: "q1", Kind: domain.QuestionChoice, CorrectAnswer: "A", Marks: 1},
		{ID: "q2", Kind: domain.QuestionChoice, CorrectAnswer: "B", Marks: 1},
	}
	return map[string]domain.TestDefinition{
		"test-1": {
			ID: "test-1", SubjectID: "math", DurationMinutes: 30, PassingThreshold: 50,
			Questions: questions,
		},
		"test-multi": {
			ID: "test-multi", SubjectID: "math", DurationMinutes: 30, PassingThreshold: 50,
			Questions: questions, AllowMultipleAttempts: true,
		},
		"test-paid": {
			ID: "test-paid", SubjectID: "physics", DurationMinutes: 30, PassingThreshold: 50,
			Questions: questions, RequiresPayment: true,
		},
	}
}
