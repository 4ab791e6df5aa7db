package leaderboard

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestLeaderboardRanking(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	for _, u := range []struct {
		id     string
		points int
	}{
		{"alice", 300},
		{"bob", 900},
		{"carol", 600},
	} {
		if err := b.UpdateUser(ctx, u.id, u.points); err != nil {
			t.Fatalf("update %s: %v", u.id, err)
		}
	}

	top, err := b.Top(ctx, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("top returned %d entries", len(top))
	}
	if top[0].UserID != "bob" || top[0].Rank != 1 || top[0].Points != 900 {
		t.Fatalf("top[0] = %+v", top[0])
	}
	if top[1].UserID != "carol" || top[1].Rank != 2 {
		t.Fatalf("top[1] = %+v", top[1])
	}

	entry, err := b.Rank(ctx, "alice")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if entry.Rank != 3 || entry.Points != 300 {
		t.Fatalf("alice = %+v", entry)
	}
}

func TestLeaderboardUpdateOverwrites(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	if err := b.UpdateUser(ctx, "alice", 100); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := b.UpdateUser(ctx, "alice", 700); err != nil {
		t.Fatalf("update: %v", err)
	}

	entry, err := b.Rank(ctx, "alice")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if entry.Points != 700 {
		t.Fatalf("points = %d, want the latest total", entry.Points)
	}
}

func TestLeaderboardUnrankedUser(t *testing.T) {
	b := newTestBoard(t)
	if _, err := b.Rank(context.Background(), "ghost"); !errors.Is(err, ErrNotRanked) {
		t.Fatalf("err = %v, want ErrNotRanked", err)
	}
}

func TestLeaderboardRemoveUser(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	if err := b.UpdateUser(ctx, "alice", 100); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := b.RemoveUser(ctx, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := b.Rank(ctx, "alice"); !errors.Is(err, ErrNotRanked) {
		t.Fatalf("err = %v, want ErrNotRanked after removal", err)
	}
}
