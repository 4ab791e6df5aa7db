package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	INatUsername string `gorm:"column:inat_username;uniqueIndex;not null"`
	Region       string
	AccessToken  string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type UserStatsModel struct {
	UserID                  string `gorm:"primaryKey"`
	TotalObservations       int    `gorm:"not null;default:0"`
	TotalSpecies            int    `gorm:"not null;default:0"`
	TotalPoints             int    `gorm:"not null;default:0"`
	Level                   int    `gorm:"not null;default:1"`
	PointsToNextLevel       int    `gorm:"not null;default:0"`
	RareObservations        int    `gorm:"not null;default:0"`
	LegendaryObservations   int    `gorm:"not null;default:0"`
	CurrentStreak           int    `gorm:"not null;default:0"`
	LongestStreak           int    `gorm:"not null;default:0"`
	LastObservationDate     *time.Time
	CurrentRarityStreak     int `gorm:"not null;default:0"`
	LongestRarityStreak     int `gorm:"not null;default:0"`
	LastRareObservationDate *time.Time
	LastSyncedAt            *time.Time
	SyncCursor              *time.Time
	HasMoreToSync           bool `gorm:"not null;default:false"`
	UpdatedAt               time.Time
}

// ObservationModel is keyed by the external observation ID, which makes the
// upsert idempotent by construction.
type ObservationModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID          string `gorm:"not null;index"`
	SpeciesGuess    string
	TaxonID         *int64 `gorm:"index"`
	TaxonName       string
	TaxonRank       string
	CommonName      string
	IconicTaxon     string
	ObservedOn      time.Time `gorm:"not null;index"`
	QualityGrade    string    `gorm:"not null"`
	PhotosCount     int       `gorm:"not null;default:0"`
	PhotoURLs       datatypes.JSON
	Latitude        *float64
	Longitude       *float64
	Location        string
	PlaceGuess      string
	Rarity          string `gorm:"not null;default:common"`
	RarityStatus    string `gorm:"not null;default:pending;index"`
	GlobalCount     *int64
	RegionalCount   *int64
	IsFirstGlobal   bool `gorm:"not null;default:false"`
	IsFirstRegional bool `gorm:"not null;default:false"`
	PointsAwarded   int  `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RarityQueueModel has at most one row per (user, taxon); re-enqueueing an
// existing pair resets it to pending with a fresh attempt budget.
type RarityQueueModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;uniqueIndex:idx_queue_user_taxon;index:idx_queue_user_status"`
	TaxonID       int64  `gorm:"not null;uniqueIndex:idx_queue_user_taxon"`
	TaxonName     string
	Priority      int    `gorm:"not null;default:0"`
	Status        string `gorm:"not null;default:pending;index:idx_queue_user_status"`
	Attempts      int    `gorm:"not null;default:0"`
	LastError     string
	CreatedAt     time.Time `gorm:"not null"`
	LastAttemptAt *time.Time
}

type ReconciliationJobModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	Reason      string
	Status      string    `gorm:"not null;default:pending"`
	CreatedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
}
