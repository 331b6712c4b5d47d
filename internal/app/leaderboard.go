package app

import (
	"context"
	"sort"
	"time"

	"testprep-attempt-service/internal/domain"
)

// LeaderboardStore holds per-(user, scope) score totals. Increment must be
// atomic at the store level so concurrent submissions touching the shared
// overall row cannot lose updates.
type LeaderboardStore interface {
	Increment(ctx context.Context, scope, userID string, delta int, now time.Time) error
	Entries(ctx context.Context, scope string) ([]domain.LeaderboardEntry, error)
}

// LeaderboardAggregator maintains ranked score totals per subject plus an
// overall scope, derived solely from submitted attempts.
type LeaderboardAggregator struct {
	store LeaderboardStore
}

func NewLeaderboardAggregator(store LeaderboardStore) *LeaderboardAggregator {
	return &LeaderboardAggregator{store: store}
}

// RecordScore adds delta to the user's subject total and then to the overall
// total. The subject row is always written first; a crash between the two
// writes leaves the overall row behind by one delta until the retry, which is
// the documented inconsistency window.
func (a *LeaderboardAggregator) RecordScore(ctx context.Context, userID, subjectID string, delta int, now time.Time) error {
	if subjectID != domain.OverallScope {
		if err := a.store.Increment(ctx, subjectID, userID, delta, now); err != nil {
			return err
		}
	}
	return a.store.Increment(ctx, domain.OverallScope, userID, delta, now)
}

// Leaderboard returns the ranked entries for a scope, paginated. Ranks are
// recomputed on every read: totalScore desc, then the earlier LastUpdated
// (first to reach a score ranks higher).
func (a *LeaderboardAggregator) Leaderboard(ctx context.Context, subjectID string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	entries, err := a.store.Entries(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	rankEntries(entries)

	if offset >= len(entries) {
		return []domain.LeaderboardEntry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func rankEntries(entries []domain.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if !entries[i].LastUpdated.Equal(entries[j].LastUpdated) {
			return entries[i].LastUpdated.Before(entries[j].LastUpdated)
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
