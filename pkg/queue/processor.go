// Package queue drains the rarity-classification backlog: taxa the sync
// pipeline could not classify inline are worked off here, item by item, with
// compare-and-set completion so concurrent workers never double-apply points.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bioquest/pkg/domain"
	"bioquest/pkg/gamification"
	"bioquest/pkg/inat"
	"bioquest/pkg/store"
	syncpkg "bioquest/pkg/sync"
)

const (
	// DefaultBatchSize is how many queue items one pass claims.
	DefaultBatchSize = 20
	// maxPasses bounds one ProcessUserQueue call so a huge backlog cannot
	// starve other users.
	maxPasses = 50
	// MaxAttempts is how often an item may fail before the batch query
	// stops offering it.
	MaxAttempts = 3
)

// Processor classifies queued taxa and applies the results to the user's
// observations and aggregates.
type Processor struct {
	store      *store.Store
	classifier syncpkg.Classifier
	log        *slog.Logger
	batchSize  int
}

func NewProcessor(st *store.Store, classifier syncpkg.Classifier, log *slog.Logger) *Processor {
	return &Processor{
		store:      st,
		classifier: classifier,
		log:        log,
		batchSize:  DefaultBatchSize,
	}
}

// ProcessUserQueue works through the user's pending queue in batches until
// the backlog is empty, the pass budget runs out, or a fatal error stops all
// further API calls. Individual item failures are recorded on the item and
// do not stop the run.
func (p *Processor) ProcessUserQueue(ctx context.Context, userID string) (domain.ProcessResult, error) {
	var result domain.ProcessResult

	user, found, err := p.store.GetUser(userID)
	if err != nil {
		return result, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return result, syncpkg.ErrUserNotFound
	}
	placeID := syncpkg.PlaceIDForRegion(user.Region)

	for pass := 0; pass < maxPasses; pass++ {
		batch, err := p.store.PendingQueueBatch(userID, p.batchSize, MaxAttempts)
		if err != nil {
			return result, fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			return result, nil
		}

		for _, item := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			ok, err := p.processItem(ctx, item, placeID)
			if err != nil {
				if inat.IsAuthError(err) {
					// every remaining lookup would fail the
					// same way
					return result, err
				}
				result.Processed++
				result.Failed++
				continue
			}
			if ok {
				result.Processed++
				result.Succeeded++
			}
		}
	}

	p.log.Warn("queue pass budget exhausted with work remaining", "userId", userID)
	return result, nil
}

// processItem classifies one taxon and applies the outcome. Returns
// (false, nil) when another worker completed the item first.
func (p *Processor) processItem(ctx context.Context, item domain.QueueItem, placeID *int64) (bool, error) {
	classification, err := p.classifier.ClassifyTaxon(ctx, item.TaxonID, placeID)
	if err != nil {
		transient := isTransient(err)
		if ferr := p.store.FailQueueItem(item.ID, err.Error(), transient); ferr != nil {
			p.log.Error("failed to record queue item failure", "itemId", item.ID, "error", ferr)
		}
		p.log.Warn("taxon classification failed",
			"itemId", item.ID, "taxonId", item.TaxonID, "transient", transient, "error", err)
		return false, err
	}

	err = p.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		// claim first: losing the race rolls back everything below
		if err := uow.CompleteQueueItem(item.ID); err != nil {
			return err
		}
		return p.applyClassification(uow, item, classification)
	})
	if errors.Is(err, store.ErrAlreadyCompleted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// applyClassification writes the taxon's rarity onto every still-pending
// observation of it and folds the resulting point corrections into the
// user's aggregates. Stored per-observation points never include the
// new-species bonus, so the recomputation here matches what the sync
// pipeline awarded.
func (p *Processor) applyClassification(uow *store.UnitOfWork, item domain.QueueItem, c gamification.Classification) error {
	pending, err := uow.PendingObservationsByTaxon(item.UserID, item.TaxonID)
	if err != nil {
		return err
	}

	pointsDelta := 0
	rareDelta, legendaryDelta := 0, 0
	for _, obs := range pending {
		calc := gamification.ObservationPoints(obs.QualityGrade, obs.PhotosCount, false, c.BonusPoints)
		if err := uow.ApplyClassification(obs.ID, c.Rarity, c.GlobalCount, c.RegionalCount,
			c.IsFirstGlobal, c.IsFirstRegional, calc.Total); err != nil {
			return err
		}
		pointsDelta += calc.Total - obs.PointsAwarded
		if c.Rarity.Tracked() && !obs.Rarity.Tracked() {
			rareDelta++
		}
		if (c.Rarity == domain.RarityLegendary || c.Rarity == domain.RarityMythic) &&
			obs.Rarity != domain.RarityLegendary && obs.Rarity != domain.RarityMythic {
			legendaryDelta++
		}
	}
	if pointsDelta == 0 && rareDelta == 0 && legendaryDelta == 0 {
		return nil
	}

	stats, _, err := uow.GetUserStatsTx(item.UserID)
	if err != nil {
		return err
	}
	stats.UserID = item.UserID
	stats.TotalPoints += pointsDelta
	stats.RareObservations += rareDelta
	stats.LegendaryObservations += legendaryDelta
	stats.Level, stats.PointsToNextLevel = gamification.LevelForPoints(stats.TotalPoints)
	return uow.UpsertUserStats(stats)
}

// isTransient reports whether a classification failure is worth retrying:
// rate limits, timeouts, server errors and network failures are; client
// errors are terminal.
func isTransient(err error) bool {
	switch status := inat.StatusOf(err); {
	case status == 429 || status == 408 || status >= 500:
		return true
	case status == 0:
		// no HTTP status means the request never completed
		return true
	default:
		return false
	}
}
