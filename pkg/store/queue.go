package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bioquest/internal/util"
	"bioquest/pkg/domain"
)

// ErrAlreadyCompleted reports that a queue item was completed by a
// concurrent processor between fetch and completion.
var ErrAlreadyCompleted = errors.New("queue item already completed")

// EnqueueTaxa upserts one pending queue row per taxon. A pair that already
// has a row is reset to pending with a fresh attempt budget, so completed or
// exhausted items revive when their taxon is observed again.
func (s *Store) EnqueueTaxa(userID string, taxa []domain.TaxonRef) error {
	if len(taxa) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]RarityQueueModel, 0, len(taxa))
	for _, t := range taxa {
		models = append(models, RarityQueueModel{
			ID:        util.NewID(),
			UserID:    userID,
			TaxonID:   t.TaxonID,
			TaxonName: t.TaxonName,
			Priority:  t.Priority,
			Status:    string(domain.QueueStatusPending),
			CreatedAt: now,
		})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "taxon_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":     string(domain.QueueStatusPending),
			"attempts":   0,
			"last_error": "",
			"priority":   gorm.Expr("excluded.priority"),
		}),
	}).Create(&models).Error
}

// PendingQueueBatch fetches up to batchSize pending items for the user,
// highest priority first, then insertion order. Items that exhausted their
// attempts are skipped.
func (s *Store) PendingQueueBatch(userID string, batchSize, maxAttempts int) ([]domain.QueueItem, error) {
	if batchSize <= 0 {
		batchSize = 20
	}
	var models []RarityQueueModel
	if err := s.db.Where(
		"user_id = ? AND status = ? AND attempts < ?",
		userID, string(domain.QueueStatusPending), maxAttempts,
	).Order("priority DESC").Order("created_at ASC").
		Limit(batchSize).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.QueueItem, 0, len(models))
	for _, m := range models {
		items = append(items, queueItemFromModel(m))
	}
	return items, nil
}

// CompleteQueueItem marks an item completed, but only if it is still
// pending. The conditional write is what makes concurrent processors safe:
// whichever transaction wins the update completes the item, the loser gets
// ErrAlreadyCompleted and must roll back its side effects.
func (u *UnitOfWork) CompleteQueueItem(itemID string) error {
	now := time.Now().UTC()
	res := u.tx.Model(&RarityQueueModel{}).
		Where("id = ? AND status = ?", itemID, string(domain.QueueStatusPending)).
		Updates(map[string]any{
			"status":          string(domain.QueueStatusCompleted),
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// FailQueueItem records a classification failure. Transient failures leave
// the item pending for a later retry; terminal ones park it as failed.
func (s *Store) FailQueueItem(itemID string, errMsg string, transient bool) error {
	status := domain.QueueStatusFailed
	if transient {
		status = domain.QueueStatusPending
	}
	now := time.Now().UTC()
	return s.db.Model(&RarityQueueModel{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":          string(status),
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      errMsg,
			"last_attempt_at": now,
		}).Error
}

// QueueStatus aggregates the user's queue by status.
func (s *Store) QueueStatus(userID string) (domain.QueueStatusSummary, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := s.db.Model(&RarityQueueModel{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return domain.QueueStatusSummary{}, err
	}

	summary := domain.QueueStatusSummary{UserID: userID}
	for _, r := range rows {
		switch domain.QueueItemStatus(r.Status) {
		case domain.QueueStatusPending:
			summary.Pending = r.N
		case domain.QueueStatusCompleted:
			summary.Completed = r.N
		case domain.QueueStatusFailed:
			summary.Failed = r.N
		}
		summary.Total += r.N
	}
	if summary.Total > 0 {
		summary.PercentComplete = int(summary.Completed * 100 / summary.Total)
	} else {
		summary.PercentComplete = 100
	}
	return summary, nil
}

// UsersWithPendingWork returns the users holding workable pending items. The
// worker sweep uses it to pick up backlogs whose wake-up message was lost.
func (s *Store) UsersWithPendingWork(maxAttempts int) ([]string, error) {
	var ids []string
	err := s.db.Model(&RarityQueueModel{}).
		Distinct("user_id").
		Where("status = ? AND attempts < ?", string(domain.QueueStatusPending), maxAttempts).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ClearCompletedQueueItems deletes completed rows, for periodic cleanup.
func (s *Store) ClearCompletedQueueItems(userID string) (int64, error) {
	res := s.db.Where(
		"user_id = ? AND status = ?", userID, string(domain.QueueStatusCompleted),
	).Delete(&RarityQueueModel{})
	return res.RowsAffected, res.Error
}

// RetryFailedQueueItems resets failed items to pending with a fresh attempt
// budget.
func (s *Store) RetryFailedQueueItems(userID string) (int64, error) {
	res := s.db.Model(&RarityQueueModel{}).
		Where("user_id = ? AND status = ?", userID, string(domain.QueueStatusFailed)).
		Updates(map[string]any{
			"status":     string(domain.QueueStatusPending),
			"attempts":   0,
			"last_error": "",
		})
	return res.RowsAffected, res.Error
}
