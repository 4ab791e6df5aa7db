package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"bioquest/pkg/domain"
)

// QueueReconciliation records that the user's local data is ahead of the
// remote source and needs a deferred correction pass. At most one pending
// job exists per user; re-queueing refreshes the reason.
func (s *Store) QueueReconciliation(userID, reason string) (string, error) {
	var existing ReconciliationJobModel
	err := s.db.Where(
		"user_id = ? AND status = ?", userID, domain.ReconciliationPending,
	).First(&existing).Error
	if err == nil {
		if reason != existing.Reason {
			if err := s.db.Model(&ReconciliationJobModel{}).
				Where("id = ?", existing.ID).
				Update("reason", reason).Error; err != nil {
				return "", err
			}
		}
		return existing.ID, nil
	}

	job := ReconciliationJobModel{
		ID:        uuid.NewString(),
		UserID:    userID,
		Reason:    reason,
		Status:    domain.ReconciliationPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error; err != nil {
		return "", err
	}
	return job.ID, nil
}

// PendingReconciliationJobs returns the user's unprocessed jobs, oldest
// first.
func (s *Store) PendingReconciliationJobs(userID string) ([]domain.ReconciliationJob, error) {
	var models []ReconciliationJobModel
	if err := s.db.Where(
		"user_id = ? AND status = ?", userID, domain.ReconciliationPending,
	).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.ReconciliationJob, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, reconciliationFromModel(m))
	}
	return jobs, nil
}

// CompleteReconciliationJob marks a job done.
func (u *UnitOfWork) CompleteReconciliationJob(jobID string) error {
	now := time.Now().UTC()
	return u.tx.Model(&ReconciliationJobModel{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       domain.ReconciliationCompleted,
			"completed_at": now,
		}).Error
}
