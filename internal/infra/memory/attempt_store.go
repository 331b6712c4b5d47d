package memory

import (
	"context"
	"sync"
	"time"

	"testprep-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. The
// mutex makes check-and-create atomic, which is what keeps two racing starts
// for a single-attempt test from both creating.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
	active   map[string]string // (userID, testID) -> attemptID while in progress
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*domain.Attempt),
		active:   make(map[string]string),
	}
}

func userTestKey(userID, testID string) string {
	return userID + "\x00" + testID
}

func (s *AttemptStore) CreateActive(_ context.Context, attempt domain.Attempt) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userTestKey(attempt.UserID, attempt.TestID)
	if existingID, ok := s.active[key]; ok {
		return s.attempts[existingID].Clone(), false, nil
	}

	stored := attempt.Clone()
	s.attempts[stored.ID] = &stored
	s.active[key] = stored.ID
	return stored.Clone(), true, nil
}

func (s *AttemptStore) ActiveFor(_ context.Context, userID, testID string) (domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[userTestKey(userID, testID)]
	if !ok {
		return domain.Attempt{}, false, nil
	}
	return s.attempts[id].Clone(), true, nil
}

func (s *AttemptStore) HasTerminal(_ context.Context, userID, testID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, attempt := range s.attempts {
		if attempt.UserID == userID && attempt.TestID == testID && attempt.State.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt.Clone(), nil
}

func (s *AttemptStore) MergeAnswers(_ context.Context, attemptID string, entries []domain.AnswerEntry, savedAt time.Time) (map[string]domain.AnswerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.State.Terminal() {
		return nil, domain.ErrAlreadySubmitted
	}

	domain.MergeAnswers(attempt.Answers, entries)
	attempt.LastSaved = savedAt

	merged := make(map[string]domain.AnswerEntry, len(attempt.Answers))
	for id, entry := range attempt.Answers {
		merged[id] = entry
	}
	return merged, nil
}

func (s *AttemptStore) Finalize(_ context.Context, attemptID string, state domain.AttemptState, summary domain.ScoreSummary, finishedAt time.Time) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if attempt.State.Terminal() {
		return domain.Attempt{}, domain.ErrAlreadySubmitted
	}

	attempt.State = state
	attempt.FinishedAt = &finishedAt
	attempt.Result = &summary
	delete(s.active, userTestKey(attempt.UserID, attempt.TestID))
	return attempt.Clone(), nil
}
