package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bioquest/pkg/domain"
)

// observationUpdateColumns are the fields a re-synced observation may change.
// Rarity fields are only touched by classification, never by a plain re-sync
// upsert, so they are excluded here.
var observationUpdateColumns = []string{
	"species_guess", "taxon_id", "taxon_name", "taxon_rank", "common_name",
	"iconic_taxon", "observed_on", "quality_grade", "photos_count",
	"photo_urls", "latitude", "longitude", "location", "place_guess",
	"updated_at",
}

// ExistingObservationIDs reports which of the given external IDs are already
// stored for the user.
func (s *Store) ExistingObservationIDs(userID string, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	var found []int64
	if err := s.db.Model(&ObservationModel{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// CountObservations returns how many observations the user has on file.
func (s *Store) CountObservations(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&ObservationModel{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// GetObservation returns one observation by external ID.
func (s *Store) GetObservation(id int64) (domain.Observation, bool, error) {
	var model ObservationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Observation{}, false, nil
		}
		return domain.Observation{}, false, err
	}
	return observationFromModel(model), true, nil
}

// RecentObservations returns the user's observations observed on or after
// since, newest first.
func (s *Store) RecentObservations(userID string, since time.Time, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 500
	}
	var models []ObservationModel
	if err := s.db.Where("user_id = ? AND observed_on >= ?", userID, since).
		Order("observed_on DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	obs := make([]domain.Observation, 0, len(models))
	for _, m := range models {
		obs = append(obs, observationFromModel(m))
	}
	return obs, nil
}

// DistinctSpeciesCount counts the distinct taxa the user has observed.
func (s *Store) DistinctSpeciesCount(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&ObservationModel{}).
		Where("user_id = ? AND taxon_id IS NOT NULL", userID).
		Distinct("taxon_id").
		Count(&count).Error
	return count, err
}

// ObservationAggregates are the badge-criterion inputs derived from a user's
// stored observations.
type ObservationAggregates struct {
	SpeciesByTaxon     map[string]int
	RareByTier         map[domain.Rarity]int
	HasFirstGlobal     bool
	ResearchGradeCount int
	UniqueLocations    int
}

// AggregateObservations scans the user's observations and folds them into
// the aggregate shape badge criteria consume.
func (s *Store) AggregateObservations(userID string) (ObservationAggregates, error) {
	agg := ObservationAggregates{
		SpeciesByTaxon: make(map[string]int),
		RareByTier:     make(map[domain.Rarity]int),
	}

	type row struct {
		TaxonID       *int64
		IconicTaxon   string
		Rarity        string
		QualityGrade  string
		PlaceGuess    string
		IsFirstGlobal bool
	}
	var rows []row
	if err := s.db.Model(&ObservationModel{}).
		Select("taxon_id", "iconic_taxon", "rarity", "quality_grade", "place_guess", "is_first_global").
		Where("user_id = ?", userID).
		Scan(&rows).Error; err != nil {
		return agg, err
	}

	speciesSeen := make(map[string]map[int64]bool)
	places := make(map[string]bool)
	for _, r := range rows {
		if r.TaxonID != nil && r.IconicTaxon != "" {
			if speciesSeen[r.IconicTaxon] == nil {
				speciesSeen[r.IconicTaxon] = make(map[int64]bool)
			}
			speciesSeen[r.IconicTaxon][*r.TaxonID] = true
		}
		rarity := domain.Rarity(r.Rarity)
		if rarity.Tracked() {
			agg.RareByTier[rarity]++
		}
		if r.IsFirstGlobal {
			agg.HasFirstGlobal = true
		}
		if r.QualityGrade == domain.QualityResearch {
			agg.ResearchGradeCount++
		}
		if r.PlaceGuess != "" {
			places[r.PlaceGuess] = true
		}
	}
	for taxon, set := range speciesSeen {
		agg.SpeciesByTaxon[taxon] = len(set)
	}
	agg.UniqueLocations = len(places)
	return agg, nil
}

// KnownTaxonIDs returns the distinct taxa the user already has observations
// for. New-species detection diffs incoming observations against this set.
func (s *Store) KnownTaxonIDs(userID string) (map[int64]bool, error) {
	var ids []int64
	if err := s.db.Model(&ObservationModel{}).
		Distinct("taxon_id").
		Where("user_id = ? AND taxon_id IS NOT NULL", userID).
		Pluck("taxon_id", &ids).Error; err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

// ObservationIDs returns every stored external ID for the user. The
// reconciler diffs this against the remote ID set.
func (s *Store) ObservationIDs(userID string) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&ObservationModel{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error
	return ids, err
}

// RecentObservations reads the user's recent observations through an open
// transaction, so a sync sees the rows it just wrote.
func (u *UnitOfWork) RecentObservations(userID string, since time.Time, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 500
	}
	var models []ObservationModel
	if err := u.tx.Where("user_id = ? AND observed_on >= ?", userID, since).
		Order("observed_on DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	obs := make([]domain.Observation, 0, len(models))
	for _, m := range models {
		obs = append(obs, observationFromModel(m))
	}
	return obs, nil
}

// TotalsForUser recounts stored observations and their awarded points, used
// when a reconciliation pass rebuilds the aggregate row.
func (u *UnitOfWork) TotalsForUser(userID string) (count int64, points int64, err error) {
	type totals struct {
		N int64
		P int64
	}
	var t totals
	err = u.tx.Model(&ObservationModel{}).
		Select("COUNT(*) AS n, COALESCE(SUM(points_awarded), 0) AS p").
		Where("user_id = ?", userID).
		Scan(&t).Error
	return t.N, t.P, err
}

// CreateObservations batch-inserts new rows.
func (u *UnitOfWork) CreateObservations(obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	models := make([]ObservationModel, 0, len(obs))
	now := time.Now().UTC()
	for _, o := range obs {
		m := observationToModel(o)
		m.CreatedAt = now
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
		models = append(models, m)
	}
	return u.tx.CreateInBatches(&models, 200).Error
}

// UpsertObservations refreshes rows that already exist, keyed by external
// ID. Classification fields are preserved.
func (u *UnitOfWork) UpsertObservations(obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	models := make([]ObservationModel, 0, len(obs))
	now := time.Now().UTC()
	for _, o := range obs {
		m := observationToModel(o)
		m.UpdatedAt = now
		models = append(models, m)
	}
	return u.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(observationUpdateColumns),
	}).CreateInBatches(&models, 200).Error
}

// PendingObservationsByTaxon returns the user's still-unclassified
// observations of one taxon, read through the transaction.
func (u *UnitOfWork) PendingObservationsByTaxon(userID string, taxonID int64) ([]domain.Observation, error) {
	var models []ObservationModel
	if err := u.tx.Where(
		"user_id = ? AND taxon_id = ? AND rarity_status = ?",
		userID, taxonID, string(domain.RarityStatusPending),
	).Find(&models).Error; err != nil {
		return nil, err
	}
	obs := make([]domain.Observation, 0, len(models))
	for _, m := range models {
		obs = append(obs, observationFromModel(m))
	}
	return obs, nil
}

// ApplyClassification writes classification results and corrected points to
// one observation.
func (u *UnitOfWork) ApplyClassification(obsID int64, rarity domain.Rarity, globalCount int64, regionalCount *int64, isFirstGlobal, isFirstRegional bool, pointsAwarded int) error {
	return u.tx.Model(&ObservationModel{}).
		Where("id = ?", obsID).
		Updates(map[string]any{
			"rarity":            string(rarity),
			"rarity_status":     string(domain.RarityStatusClassified),
			"global_count":      globalCount,
			"regional_count":    regionalCount,
			"is_first_global":   isFirstGlobal,
			"is_first_regional": isFirstRegional,
			"points_awarded":    pointsAwarded,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// DeleteObservations removes rows by external ID, for reconciling remote
// deletions.
func (u *UnitOfWork) DeleteObservations(userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := u.tx.Where("user_id = ? AND id IN ?", userID, ids).Delete(&ObservationModel{})
	return res.RowsAffected, res.Error
}
