package memory

import (
	"context"
	"sync"
	"time"

	"testprep-attempt-service/internal/domain"
)

// LeaderboardStore keeps score totals per scope in memory. Increments happen
// under the store lock, so concurrent submissions sharing the overall scope
// cannot lose updates.
type LeaderboardStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]domain.LeaderboardEntry
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{
		scopes: make(map[string]map[string]domain.LeaderboardEntry),
	}
}

func (s *LeaderboardStore) Increment(_ context.Context, scope, userID string, delta int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.scopes[scope]
	if !ok {
		users = make(map[string]domain.LeaderboardEntry)
		s.scopes[scope] = users
	}

	entry := users[userID]
	entry.UserID = userID
	entry.SubjectID = scope
	entry.TotalScore += delta
	entry.LastUpdated = now
	users[userID] = entry
	return nil
}

func (s *LeaderboardStore) Entries(_ context.Context, scope string) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.scopes[scope]
	entries := make([]domain.LeaderboardEntry, 0, len(users))
	for _, entry := range users {
		entries = append(entries, entry)
	}
	return entries, nil
}
