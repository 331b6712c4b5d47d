package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"testprep-attempt-service/internal/domain"
)

// LeaderboardStore keeps score totals in Redis, one pair of hashes per scope:
//
//	HINCRBY leaderboard:{scope}:scores  {userID} {delta}
//	HSET    leaderboard:{scope}:updated {userID} {unix nanos}
//
// HINCRBY gives the atomic increment required for concurrent submissions
// sharing the overall scope. Ranks are not stored; the aggregator derives
// them on read.
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

func (s *LeaderboardStore) Increment(ctx context.Context, scope, userID string, delta int, now time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, s.scoresKey(scope), userID, int64(delta))
	pipe.HSet(ctx, s.updatedKey(scope), userID, now.UnixNano())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *LeaderboardStore) Entries(ctx context.Context, scope string) ([]domain.LeaderboardEntry, error) {
	scores, err := s.client.HGetAll(ctx, s.scoresKey(scope)).Result()
	if err != nil {
		return nil, err
	}
	updated, err := s.client.HGetAll(ctx, s.updatedKey(scope)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for userID, rawScore := range scores {
		total, err := strconv.Atoi(rawScore)
		if err != nil {
			continue
		}
		entry := domain.LeaderboardEntry{
			UserID:     userID,
			SubjectID:  scope,
			TotalScore: total,
		}
		if rawTS, ok := updated[userID]; ok {
			if nanos, err := strconv.ParseInt(rawTS, 10, 64); err == nil {
				entry.LastUpdated = time.Unix(0, nanos).UTC()
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *LeaderboardStore) scoresKey(scope string) string {
	return "leaderboard:" + scopeKey(scope) + ":scores"
}

func (s *LeaderboardStore) updatedKey(scope string) string {
	return "leaderboard:" + scopeKey(scope) + ":updated"
}

func scopeKey(scope string) string {
	if scope == domain.OverallScope {
		return "overall"
	}
	return scope
}
