package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSyncInProgress is returned when another sync already holds the guard
// for the same user.
var ErrSyncInProgress = errors.New("sync already in progress for user")

const (
	guardKeyPrefix = "bioquest:sync:guard:"
	// guardTTL bounds how long a crashed sync can block the next one.
	guardTTL = 10 * time.Minute
)

// Guard serializes syncs per user with a Redis lock. Acquire is atomic
// (SET NX); Release is best-effort since the TTL reclaims stale locks.
type Guard struct {
	client *redis.Client
}

func NewGuard(client *redis.Client) *Guard {
	return &Guard{client: client}
}

// Acquire takes the per-user sync lock. Returns ErrSyncInProgress when a
// concurrent sync holds it.
func (g *Guard) Acquire(ctx context.Context, userID string) error {
	ok, err := g.client.SetNX(ctx, guardKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), guardTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire sync guard: %w", err)
	}
	if !ok {
		return ErrSyncInProgress
	}
	return nil
}

// Release drops the lock so the next sync can start without waiting out
// the TTL.
func (g *Guard) Release(ctx context.Context, userID string) {
	g.client.Del(ctx, guardKeyPrefix+userID)
}
