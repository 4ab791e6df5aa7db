// Package store persists users, observations, stats and the rarity work
// queue behind GORM. Mutating operations that must be atomic run inside a
// UnitOfWork so "runs in a transaction" is visible in the types.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bioquest/pkg/domain"
)

const migrateLockID int64 = 86428642

// Store wraps the database handle. Read paths hang off Store; writes that
// belong to a transaction hang off UnitOfWork.
type Store struct {
	db *gorm.DB
}

// NewStore opens Postgres and runs migrations under an advisory lock so
// concurrent service instances do not race schema changes.
func NewStore(dsn string) (*Store, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return migrate(tx)
	}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStoreWithDialector opens a store over any GORM dialector and migrates
// without the Postgres advisory lock. Tests use this with SQLite.
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&UserModel{},
		&UserStatsModel{},
		&ObservationModel{},
		&RarityQueueModel{},
		&ReconciliationJobModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// DB exposes the raw handle for connection tuning.
func (s *Store) DB() (*sql.DB, error) {
	return s.db.DB()
}

// UnitOfWork is a live transaction. Every method on it reads and writes
// through the same tx; the whole unit commits or rolls back together.
type UnitOfWork struct {
	tx *gorm.DB
}

// InTx runs fn inside one database transaction.
func (s *Store) InTx(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&UnitOfWork{tx: tx})
	})
}

func observationToModel(o domain.Observation) ObservationModel {
	var photoURLs datatypes.JSON
	if len(o.PhotoURLs) > 0 {
		raw, _ := json.Marshal(o.PhotoURLs)
		photoURLs = raw
	}
	return ObservationModel{
		ID:              o.ID,
		UserID:          o.UserID,
		SpeciesGuess:    o.SpeciesGuess,
		TaxonID:         o.TaxonID,
		TaxonName:       o.TaxonName,
		TaxonRank:       o.TaxonRank,
		CommonName:      o.CommonName,
		IconicTaxon:     o.IconicTaxon,
		ObservedOn:      o.ObservedOn,
		QualityGrade:    o.QualityGrade,
		PhotosCount:     o.PhotosCount,
		PhotoURLs:       photoURLs,
		Latitude:        o.Latitude,
		Longitude:       o.Longitude,
		Location:        o.Location,
		PlaceGuess:      o.PlaceGuess,
		Rarity:          string(o.Rarity),
		RarityStatus:    string(o.RarityStatus),
		GlobalCount:     o.GlobalCount,
		RegionalCount:   o.RegionalCount,
		IsFirstGlobal:   o.IsFirstGlobal,
		IsFirstRegional: o.IsFirstRegional,
		PointsAwarded:   o.PointsAwarded,
		UpdatedAt:       o.UpdatedAt,
	}
}

func observationFromModel(m ObservationModel) domain.Observation {
	var photoURLs []string
	if len(m.PhotoURLs) > 0 {
		_ = json.Unmarshal(m.PhotoURLs, &photoURLs)
	}
	rarityStatus := domain.RarityStatus(m.RarityStatus)
	if rarityStatus == "" {
		rarityStatus = domain.RarityStatusPending
	}
	return domain.Observation{
		ID:              m.ID,
		UserID:          m.UserID,
		SpeciesGuess:    m.SpeciesGuess,
		TaxonID:         m.TaxonID,
		TaxonName:       m.TaxonName,
		TaxonRank:       m.TaxonRank,
		CommonName:      m.CommonName,
		IconicTaxon:     m.IconicTaxon,
		ObservedOn:      m.ObservedOn,
		QualityGrade:    m.QualityGrade,
		PhotosCount:     m.PhotosCount,
		PhotoURLs:       photoURLs,
		Latitude:        m.Latitude,
		Longitude:       m.Longitude,
		Location:        m.Location,
		PlaceGuess:      m.PlaceGuess,
		Rarity:          domain.Rarity(m.Rarity),
		RarityStatus:    rarityStatus,
		GlobalCount:     m.GlobalCount,
		RegionalCount:   m.RegionalCount,
		IsFirstGlobal:   m.IsFirstGlobal,
		IsFirstRegional: m.IsFirstRegional,
		PointsAwarded:   m.PointsAwarded,
		UpdatedAt:       m.UpdatedAt,
	}
}

func statsToModel(s domain.UserStats) UserStatsModel {
	return UserStatsModel{
		UserID:                  s.UserID,
		TotalObservations:       s.TotalObservations,
		TotalSpecies:            s.TotalSpecies,
		TotalPoints:             s.TotalPoints,
		Level:                   s.Level,
		PointsToNextLevel:       s.PointsToNextLevel,
		RareObservations:        s.RareObservations,
		LegendaryObservations:   s.LegendaryObservations,
		CurrentStreak:           s.CurrentStreak,
		LongestStreak:           s.LongestStreak,
		LastObservationDate:     s.LastObservationDate,
		CurrentRarityStreak:     s.CurrentRarityStreak,
		LongestRarityStreak:     s.LongestRarityStreak,
		LastRareObservationDate: s.LastRareObservationDate,
		LastSyncedAt:            s.LastSyncedAt,
		SyncCursor:              s.SyncCursor,
		HasMoreToSync:           s.HasMoreToSync,
		UpdatedAt:               s.UpdatedAt,
	}
}

func statsFromModel(m UserStatsModel) domain.UserStats {
	return domain.UserStats{
		UserID:                  m.UserID,
		TotalObservations:       m.TotalObservations,
		TotalSpecies:            m.TotalSpecies,
		TotalPoints:             m.TotalPoints,
		Level:                   m.Level,
		PointsToNextLevel:       m.PointsToNextLevel,
		RareObservations:        m.RareObservations,
		LegendaryObservations:   m.LegendaryObservations,
		CurrentStreak:           m.CurrentStreak,
		LongestStreak:           m.LongestStreak,
		LastObservationDate:     m.LastObservationDate,
		CurrentRarityStreak:     m.CurrentRarityStreak,
		LongestRarityStreak:     m.LongestRarityStreak,
		LastRareObservationDate: m.LastRareObservationDate,
		LastSyncedAt:            m.LastSyncedAt,
		SyncCursor:              m.SyncCursor,
		HasMoreToSync:           m.HasMoreToSync,
		UpdatedAt:               m.UpdatedAt,
	}
}

func queueItemFromModel(m RarityQueueModel) domain.QueueItem {
	return domain.QueueItem{
		ID:            m.ID,
		UserID:        m.UserID,
		TaxonID:       m.TaxonID,
		TaxonName:     m.TaxonName,
		Priority:      m.Priority,
		Status:        domain.QueueItemStatus(m.Status),
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		LastAttemptAt: m.LastAttemptAt,
	}
}

func reconciliationFromModel(m ReconciliationJobModel) domain.ReconciliationJob {
	return domain.ReconciliationJob{
		ID:          m.ID,
		UserID:      m.UserID,
		Reason:      m.Reason,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}
