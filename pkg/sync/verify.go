package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bioquest/pkg/domain"
	"bioquest/pkg/gamification"
	"bioquest/pkg/store"
)

// verifyWindow is how recently a full sync must have finished for its
// completeness claim to be re-checked against the remote total.
const verifyWindow = 24 * time.Hour

// Verifier cross-checks local sync state against the remote API: a local
// count below the remote total means the backlog flag was lost; a local
// count above it means rows were deleted upstream and need reconciling.
type Verifier struct {
	store  *store.Store
	source Source
	log    *slog.Logger
	now    func() time.Time
}

func NewVerifier(st *store.Store, source Source, log *slog.Logger) *Verifier {
	return &Verifier{store: st, source: source, log: log, now: time.Now}
}

// ShouldVerify reports whether the user's sync state warrants a remote
// cross-check: either the user has never completed a sync, or a sync claimed
// completeness recently enough that drift would be surprising.
func ShouldVerify(stats domain.UserStats, found bool, now time.Time) bool {
	if !found || (stats.LastSyncedAt == nil && stats.SyncCursor == nil) {
		return true
	}
	if stats.HasMoreToSync {
		return false
	}
	return stats.LastSyncedAt != nil && now.Sub(*stats.LastSyncedAt) < verifyWindow
}

// Verify compares local and remote observation counts and corrects the
// hasMoreToSync flag. A remote failure never blocks: the local flag is
// trusted as-is. Pending reconciliation jobs are drained first so their
// deletions are reflected in the count being verified.
func (v *Verifier) Verify(ctx context.Context, userID string) (*domain.VerifyResult, error) {
	user, found, err := v.store.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return nil, ErrUserNotFound
	}

	stats, statsFound, err := v.store.GetUserStats(userID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	result := &domain.VerifyResult{HasMoreToSync: stats.HasMoreToSync}

	replayed, err := v.ProcessReconciliationJobs(ctx, userID)
	if err != nil {
		v.log.Warn("reconciliation replay failed", "userId", userID, "error", err)
	}
	result.ReconciliationsReplay = replayed

	localCount, err := v.store.CountObservations(userID)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	result.LocalCount = localCount

	if !ShouldVerify(stats, statsFound, v.now()) {
		return result, nil
	}

	remoteTotal, err := v.source.GetUserObservationTotal(ctx, user.INatUsername)
	if err != nil {
		v.log.Warn("remote total unavailable, trusting local state",
			"userId", userID, "error", err)
		return result, nil
	}
	result.RemoteTotal = remoteTotal

	switch {
	case localCount < remoteTotal:
		if !stats.HasMoreToSync {
			if err := v.store.SetHasMoreToSync(userID, true); err != nil {
				return nil, fmt.Errorf("flag backlog: %w", err)
			}
			result.Corrected = true
		}
		result.HasMoreToSync = true

	case localCount > remoteTotal:
		reason := fmt.Sprintf("local count %d exceeds remote total %d", localCount, remoteTotal)
		if _, err := v.store.QueueReconciliation(userID, reason); err != nil {
			return nil, fmt.Errorf("queue reconciliation: %w", err)
		}
		result.ReconciliationQueued = true

	default:
		if stats.HasMoreToSync {
			if err := v.store.SetHasMoreToSync(userID, false); err != nil {
				return nil, fmt.Errorf("clear backlog flag: %w", err)
			}
			result.Corrected = true
		}
		result.HasMoreToSync = false
	}
	return result, nil
}

// ProcessReconciliationJobs drains every pending reconciliation job for the
// user. Each job fetches the full remote ID set, deletes local rows the
// remote no longer has, and rebuilds the affected totals.
func (v *Verifier) ProcessReconciliationJobs(ctx context.Context, userID string) (int, error) {
	jobs, err := v.store.PendingReconciliationJobs(userID)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	user, found, err := v.store.GetUser(userID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrUserNotFound
	}

	fetcher := NewFetcher(v.source)
	processed := 0
	for _, job := range jobs {
		if err := v.reconcile(ctx, fetcher, user, job); err != nil {
			return processed, fmt.Errorf("reconcile job %s: %w", job.ID, err)
		}
		processed++
	}
	return processed, nil
}

func (v *Verifier) reconcile(ctx context.Context, fetcher *Fetcher, user domain.User, job domain.ReconciliationJob) error {
	remoteIDs, err := fetcher.FetchAllIDs(ctx, user.INatUsername)
	if err != nil {
		return Classify("reconcile", err)
	}
	remote := make(map[int64]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = true
	}

	localIDs, err := v.store.ObservationIDs(user.ID)
	if err != nil {
		return err
	}
	var orphans []int64
	for _, id := range localIDs {
		if !remote[id] {
			orphans = append(orphans, id)
		}
	}

	return v.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		if len(orphans) > 0 {
			deleted, err := uow.DeleteObservations(user.ID, orphans)
			if err != nil {
				return err
			}
			v.log.Info("removed observations deleted upstream",
				"userId", user.ID, "count", deleted)
		}

		stats, _, err := uow.GetUserStatsTx(user.ID)
		if err != nil {
			return err
		}
		stats.UserID = user.ID

		count, points, err := uow.TotalsForUser(user.ID)
		if err != nil {
			return err
		}
		stats.TotalObservations = int(count)
		stats.TotalPoints = int(points)
		stats.Level, stats.PointsToNextLevel = gamification.LevelForPoints(stats.TotalPoints)
		stats.UpdatedAt = v.now()
		if err := uow.UpsertUserStats(stats); err != nil {
			return err
		}

		return uow.CompleteReconciliationJob(job.ID)
	})
}
