// Package leaderboard keeps a points ranking in a Redis sorted set. It is a
// projection of the stats table: losing it costs a re-sync, never data.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const pointsKey = "bioquest:leaderboard:points"

// ErrNotRanked is returned when a user has no leaderboard entry yet.
var ErrNotRanked = errors.New("user not on leaderboard")

// Entry is one ranked user. Rank is 1-based.
type Entry struct {
	UserID string `json:"userId"`
	Points int    `json:"points"`
	Rank   int64  `json:"rank"`
}

type Board struct {
	client *redis.Client
}

func New(client *redis.Client) *Board {
	return &Board{client: client}
}

// UpdateUser writes the user's current point total.
func (b *Board) UpdateUser(ctx context.Context, userID string, totalPoints int) error {
	if err := b.client.ZAdd(ctx, pointsKey, redis.Z{
		Score:  float64(totalPoints),
		Member: userID,
	}).Err(); err != nil {
		return fmt.Errorf("leaderboard update: %w", err)
	}
	return nil
}

// Top returns the highest-scoring users, best first.
func (b *Board) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	zs, err := b.client.ZRevRangeWithScores(ctx, pointsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{
			UserID: member,
			Points: int(z.Score),
			Rank:   int64(i + 1),
		})
	}
	return entries, nil
}

// Rank returns the user's entry, including their 1-based rank.
func (b *Board) Rank(ctx context.Context, userID string) (Entry, error) {
	rank, err := b.client.ZRevRank(ctx, pointsKey, userID).Result()
	if err == redis.Nil {
		return Entry{}, ErrNotRanked
	}
	if err != nil {
		return Entry{}, fmt.Errorf("leaderboard rank: %w", err)
	}
	score, err := b.client.ZScore(ctx, pointsKey, userID).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("leaderboard score: %w", err)
	}
	return Entry{UserID: userID, Points: int(score), Rank: rank + 1}, nil
}

// RemoveUser drops the user from the ranking.
func (b *Board) RemoveUser(ctx context.Context, userID string) error {
	return b.client.ZRem(ctx, pointsKey, userID).Err()
}
