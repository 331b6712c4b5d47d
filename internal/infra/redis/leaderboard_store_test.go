package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"testprep-attempt-service/internal/domain"
)

func TestLeaderboardStoreIncrementsAtomically(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewLeaderboardStore(newClient(mr))
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Increment(ctx, "math", "u1", 10, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.Increment(ctx, "math", "u1", 5, now.Add(time.Minute)); err != nil {
		t.Fatalf("increment: %v", err)
	}

	entries, err := store.Entries(ctx, "math")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].TotalScore != 15 {
		t.Fatalf("expected accumulated total 15, got %d", entries[0].TotalScore)
	}
	if !entries[0].LastUpdated.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected last-updated refreshed, got %s", entries[0].LastUpdated)
	}
}

func TestLeaderboardStoreScopesAreIsolated(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewLeaderboardStore(newClient(mr))
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Increment(ctx, "math", "u1", 10, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.Increment(ctx, domain.OverallScope, "u1", 10, now); err != nil {
		t.Fatalf("increment overall: %v", err)
	}

	if !mr.Exists("leaderboard:math:scores") || !mr.Exists("leaderboard:overall:scores") {
		t.Fatalf("expected both scope keys in redis")
	}

	overall, err := store.Entries(ctx, domain.OverallScope)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(overall) != 1 || overall[0].TotalScore != 10 {
		t.Fatalf("expected overall total 10, got %+v", overall)
	}
}
