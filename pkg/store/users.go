package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bioquest/pkg/domain"
)

// SaveUser registers or updates a user.
func (s *Store) SaveUser(u domain.User) error {
	model := UserModel{
		ID:           u.ID,
		INatUsername: u.INatUsername,
		Region:       u.Region,
		AccessToken:  u.AccessToken,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"inat_username", "region", "access_token", "updated_at"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *Store) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks a user up by their observation-API login.
func (s *Store) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("inat_username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		INatUsername: m.INatUsername,
		Region:       m.Region,
		AccessToken:  m.AccessToken,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
