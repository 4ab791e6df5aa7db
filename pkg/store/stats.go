package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bioquest/pkg/domain"
)

// GetUserStats returns the user's aggregate row, reporting absence
// explicitly so callers can detect a first-ever sync.
func (s *Store) GetUserStats(userID string) (domain.UserStats, bool, error) {
	var model UserStatsModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.UserStats{}, false, nil
		}
		return domain.UserStats{}, false, err
	}
	return statsFromModel(model), true, nil
}

// GetUserStatsTx reads the stats row through an open transaction.
func (u *UnitOfWork) GetUserStatsTx(userID string) (domain.UserStats, bool, error) {
	var model UserStatsModel
	if err := u.tx.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.UserStats{}, false, nil
		}
		return domain.UserStats{}, false, err
	}
	return statsFromModel(model), true, nil
}

var statsUpdateColumns = []string{
	"total_observations", "total_species", "total_points", "level",
	"points_to_next_level", "rare_observations", "legendary_observations",
	"current_streak", "longest_streak", "last_observation_date",
	"current_rarity_streak", "longest_rarity_streak",
	"last_rare_observation_date", "last_synced_at", "sync_cursor",
	"has_more_to_sync", "updated_at",
}

// UpsertUserStats writes the whole aggregate row. The caller is responsible
// for the cursor invariant: exactly one of SyncCursor or LastSyncedAt is the
// active resume point, selected by HasMoreToSync.
func (u *UnitOfWork) UpsertUserStats(stats domain.UserStats) error {
	model := statsToModel(stats)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}
	return u.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(statsUpdateColumns),
	}).Create(&model).Error
}

// SetHasMoreToSync corrects the incomplete-sync flag outside a full stats
// write, used by the verifier.
func (s *Store) SetHasMoreToSync(userID string, hasMore bool) error {
	res := s.db.Model(&UserStatsModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"has_more_to_sync": hasMore,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		model := UserStatsModel{
			UserID:        userID,
			Level:         1,
			HasMoreToSync: hasMore,
			UpdatedAt:     time.Now().UTC(),
		}
		return s.db.Create(&model).Error
	}
	return nil
}
