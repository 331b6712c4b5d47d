package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"testprep-attempt-service/internal/domain"
)

// TestRepository loads test definitions (from cache/backing store).
type TestRepository interface {
	GetTest(ctx context.Context, testID string) (domain.TestDefinition, error)
}

// AttemptStore persists attempts (in-memory, Postgres, etc).
type AttemptStore interface {
	// CreateActive stores attempt unless an in-progress attempt already
	// exists for the same (user, test); in that case the existing attempt is
	// returned with created=false. The check-and-create must be atomic so
	// two racing starts cannot both create.
	CreateActive(ctx context.Context, attempt domain.Attempt) (stored domain.Attempt, created bool, err error)
	// ActiveFor returns the in-progress attempt for (user, test), if any.
	ActiveFor(ctx context.Context, userID, testID string) (domain.Attempt, bool, error)
	// HasTerminal reports whether a finished attempt exists for (user, test).
	HasTerminal(ctx context.Context, userID, testID string) (bool, error)
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	// MergeAnswers upserts entries last-write-wins and stamps the attempt's
	// last-saved time. Returns the merged answer set.
	MergeAnswers(ctx context.Context, attemptID string, entries []domain.AnswerEntry, savedAt time.Time) (map[string]domain.AnswerEntry, error)
	// Finalize moves the attempt to a terminal state and writes the score
	// fields, exactly once: it fails with ErrAlreadySubmitted if the attempt
	// is already terminal.
	Finalize(ctx context.Context, attemptID string, state domain.AttemptState, summary domain.ScoreSummary, finishedAt time.Time) (domain.Attempt, error)
}

// AccessChecker is the external payment/entitlement collaborator. The core
// only consumes its verdict for tests that require payment.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID, testID string) (bool, error)
}

// ScoreRecorder receives submitted scores for aggregation. Failures here
// never fail the submission itself.
type ScoreRecorder interface {
	RecordScore(ctx context.Context, userID, subjectID string, delta int, now time.Time) error
}

// ProgressNotifier mirrors attempt activity to observers (proctor view).
// Best-effort side channel only, never a source of truth for scoring.
type ProgressNotifier interface {
	AnswersSaved(attemptID string, entries []domain.AnswerEntry, savedAt time.Time)
	AttemptFinished(attemptID string, state domain.AttemptState, summary domain.ScoreSummary)
}

// NopNotifier discards all progress events.
type NopNotifier struct{}

func (NopNotifier) AnswersSaved(string, []domain.AnswerEntry, time.Time)             {}
func (NopNotifier) AttemptFinished(string, domain.AttemptState, domain.ScoreSummary) {}

// StartResult is returned by Start: the (possibly resumed) attempt and the
// remaining window.
type StartResult struct {
	Attempt  domain.Attempt
	TimeLeft time.Duration
	Resumed  bool
}

// SubmitResult pairs the scored breakdown with the finalized attempt.
type SubmitResult struct {
	Attempt domain.Attempt
	Score   domain.ScoreResult
}

// AttemptService drives the attempt lifecycle: start/resume, incremental
// answer saves, and the exactly-once terminal transition. All state-changing
// operations take an explicit now so behavior is deterministic under test.
type AttemptService struct {
	tests    TestRepository
	attempts AttemptStore
	access   AccessChecker
	scores   ScoreRecorder
	notifier ProgressNotifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAttemptService(tests TestRepository, attempts AttemptStore, access AccessChecker, scores ScoreRecorder, notifier ProgressNotifier) *AttemptService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AttemptService{
		tests:    tests,
		attempts: attempts,
		access:   access,
		scores:   scores,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Start opens a new attempt or resumes the in-progress one for (user, test).
func (s *AttemptService) Start(ctx context.Context, userID, testID string, now time.Time) (StartResult, error) {
	def, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return StartResult{}, err
	}

	if def.RequiresPayment {
		ok, err := s.access.HasAccess(ctx, userID, testID)
		if err != nil {
			return StartResult{}, err
		}
		if !ok {
			return StartResult{}, domain.ErrPaymentRequired
		}
	}

	if existing, ok, err := s.attempts.ActiveFor(ctx, userID, testID); err != nil {
		return StartResult{}, err
	} else if ok {
		return StartResult{Attempt: existing, TimeLeft: existing.TimeLeft(now), Resumed: true}, nil
	}

	if !def.AllowMultipleAttempts {
		finished, err := s.attempts.HasTerminal(ctx, userID, testID)
		if err != nil {
			return StartResult{}, err
		}
		if finished {
			return StartResult{}, domain.ErrAttemptLimitExceeded
		}
	}

	attempt := domain.Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		TestID:    testID,
		SubjectID: def.SubjectID,
		State:     domain.AttemptInProgress,
		StartedAt: now,
		Deadline:  now.Add(def.Duration()),
		Answers:   make(map[string]domain.AnswerEntry),
	}

	stored, created, err := s.attempts.CreateActive(ctx, attempt)
	if err != nil {
		return StartResult{}, err
	}
	if created {
		log.Info().Str("attemptId", stored.ID).Str("userId", userID).Str("testId", testID).Msg("attempt started")
	}
	return StartResult{Attempt: stored, TimeLeft: stored.TimeLeft(now), Resumed: !created}, nil
}

// SaveAnswers upserts partial answers for an in-progress attempt. Entries
// keep their client-supplied UpdatedAt for last-write-wins ordering; now only
// gates the deadline and stamps the attempt's last-saved time.
func (s *AttemptService) SaveAnswers(ctx context.Context, attemptID string, entries []domain.AnswerEntry, now time.Time) (map[string]domain.AnswerEntry, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.State.Terminal() {
		return nil, domain.ErrAlreadySubmitted
	}
	if attempt.Expired(now) {
		return nil, domain.ErrAttemptExpired
	}

	merged, err := s.attempts.MergeAnswers(ctx, attemptID, entries, now)
	if err != nil {
		return nil, err
	}
	s.notifier.AnswersSaved(attemptID, entries, now)
	return merged, nil
}

// Submit finalizes the attempt: scores the saved answers exactly once,
// persists the terminal state, then forwards the score to the leaderboard.
// A submit past the deadline still scores what was saved but records EXPIRED.
func (s *AttemptService) Submit(ctx context.Context, attemptID string, now time.Time) (SubmitResult, error) {
	result, err := s.finalize(ctx, attemptID, now)
	if err != nil {
		return SubmitResult{}, err
	}

	// Leaderboard update happens outside the per-attempt lock and is
	// fire-and-forget: the submission is the durable source of truth, the
	// leaderboard an eventually-consistent view.
	if err := s.scores.RecordScore(ctx, result.Attempt.UserID, result.Attempt.SubjectID, result.Score.Score, now); err != nil {
		log.Error().Err(err).Str("attemptId", attemptID).Msg("leaderboard update failed; submission unaffected")
	}
	s.notifier.AttemptFinished(attemptID, result.Attempt.State, result.Score.Summary())
	return result, nil
}

// finalize holds the per-attempt lock across the score+persist critical
// section so two racing submits cannot both score; the loser observes the
// terminal state and fails with ErrAlreadySubmitted.
func (s *AttemptService) finalize(ctx context.Context, attemptID string, now time.Time) (SubmitResult, error) {
	lock := s.attemptLock(attemptID)
	lock.Lock()
	defer lock.Unlock()

	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	if attempt.State.Terminal() {
		return SubmitResult{}, domain.ErrAlreadySubmitted
	}

	def, err := s.tests.GetTest(ctx, attempt.TestID)
	if err != nil {
		// No state was touched; the attempt stays in progress.
		return SubmitResult{}, err
	}

	score := Score(def, attempt.Answers)
	state := domain.AttemptSubmitted
	if attempt.Expired(now) {
		state = domain.AttemptExpired
	}

	stored, err := s.attempts.Finalize(ctx, attemptID, state, score.Summary(), now)
	if err != nil {
		return SubmitResult{}, err
	}
	log.Info().Str("attemptId", attemptID).Str("state", string(state)).Int("score", score.Score).Msg("attempt finalized")
	return SubmitResult{Attempt: stored, Score: score}, nil
}

// GetAttempt returns the attempt as stored; callers that hit
// ErrAlreadySubmitted on submit use this to fetch the existing result.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.attempts.Get(ctx, attemptID)
}

func (s *AttemptService) attemptLock(attemptID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[attemptID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[attemptID] = lock
	}
	return lock
}
