package domain

import "time"

// Rarity is the six-tier classification of how often a taxon has been
// observed globally.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
	RarityMythic    Rarity = "mythic"
)

var rarityOrder = map[Rarity]int{
	RarityCommon:    0,
	RarityUncommon:  1,
	RarityRare:      2,
	RarityEpic:      3,
	RarityLegendary: 4,
	RarityMythic:    5,
}

// Index returns the ordinal position of a rarity tier (common = 0).
// Unknown values sort below common.
func (r Rarity) Index() int {
	if idx, ok := rarityOrder[r]; ok {
		return idx
	}
	return -1
}

// Tracked reports whether the tier is above common/uncommon and therefore
// eligible for rare-find reporting.
func (r Rarity) Tracked() bool {
	return r.Index() >= RarityRare.Index()
}

// RarityStatus tracks whether an observation's rarity has been classified
// yet, or is awaiting the background queue.
type RarityStatus string

const (
	RarityStatusPending    RarityStatus = "pending"
	RarityStatusClassified RarityStatus = "classified"
)

const QualityResearch = "research"

type User struct {
	ID           string    `json:"id"`
	INatUsername string    `json:"inatUsername"`
	Region       string    `json:"region,omitempty"`
	AccessToken  string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserStats is the per-user aggregate row. SyncCursor and LastSyncedAt are
// mutually exclusive resume points: SyncCursor is non-nil only while
// HasMoreToSync is true, LastSyncedAt moves only when a sync completes fully.
type UserStats struct {
	UserID                  string     `json:"userId"`
	TotalObservations       int        `json:"totalObservations"`
	TotalSpecies            int        `json:"totalSpecies"`
	TotalPoints             int        `json:"totalPoints"`
	Level                   int        `json:"level"`
	PointsToNextLevel       int        `json:"pointsToNextLevel"`
	RareObservations        int        `json:"rareObservations"`
	LegendaryObservations   int        `json:"legendaryObservations"`
	CurrentStreak           int        `json:"currentStreak"`
	LongestStreak           int        `json:"longestStreak"`
	LastObservationDate     *time.Time `json:"lastObservationDate,omitempty"`
	CurrentRarityStreak     int        `json:"currentRarityStreak"`
	LongestRarityStreak     int        `json:"longestRarityStreak"`
	LastRareObservationDate *time.Time `json:"lastRareObservationDate,omitempty"`
	LastSyncedAt            *time.Time `json:"lastSyncedAt,omitempty"`
	SyncCursor              *time.Time `json:"syncCursor,omitempty"`
	HasMoreToSync           bool       `json:"hasMoreToSync"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// Observation is one stored nature observation, keyed by the source API's
// observation ID.
type Observation struct {
	ID              int64        `json:"id"`
	UserID          string       `json:"userId"`
	SpeciesGuess    string       `json:"speciesGuess,omitempty"`
	TaxonID         *int64       `json:"taxonId,omitempty"`
	TaxonName       string       `json:"taxonName,omitempty"`
	TaxonRank       string       `json:"taxonRank,omitempty"`
	CommonName      string       `json:"commonName,omitempty"`
	IconicTaxon     string       `json:"iconicTaxon,omitempty"`
	ObservedOn      time.Time    `json:"observedOn"`
	QualityGrade    string       `json:"qualityGrade"`
	PhotosCount     int          `json:"photosCount"`
	PhotoURLs       []string     `json:"photoUrls,omitempty"`
	Latitude        *float64     `json:"latitude,omitempty"`
	Longitude       *float64     `json:"longitude,omitempty"`
	Location        string       `json:"location,omitempty"`
	PlaceGuess      string       `json:"placeGuess,omitempty"`
	Rarity          Rarity       `json:"rarity"`
	RarityStatus    RarityStatus `json:"rarityStatus"`
	GlobalCount     *int64       `json:"globalCount,omitempty"`
	RegionalCount   *int64       `json:"regionalCount,omitempty"`
	IsFirstGlobal   bool         `json:"isFirstGlobal"`
	IsFirstRegional bool         `json:"isFirstRegional"`
	PointsAwarded   int          `json:"pointsAwarded"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// EnrichedObservation pairs a mapped observation with the point/rarity data
// computed during enrichment.
type EnrichedObservation struct {
	Observation     Observation
	Rarity          Rarity
	Points          int
	BonusPoints     int
	IsFirstGlobal   bool
	IsFirstRegional bool
}

// TaxonRef identifies a taxon queued for background classification.
// Priority is the observation count seen for that taxon this sync.
type TaxonRef struct {
	TaxonID   int64  `json:"taxonId"`
	TaxonName string `json:"taxonName,omitempty"`
	Priority  int    `json:"priority"`
}

// RareFind summarizes a tracked-tier observation for caller-side celebration.
// It is reported, never persisted.
type RareFind struct {
	ObservationID   int64  `json:"observationId"`
	TaxonName       string `json:"taxonName"`
	CommonName      string `json:"commonName,omitempty"`
	Rarity          Rarity `json:"rarity"`
	BonusPoints     int    `json:"bonusPoints"`
	IsFirstGlobal   bool   `json:"isFirstGlobal"`
	IsFirstRegional bool   `json:"isFirstRegional"`
}

// PointsBreakdown attributes the points earned in one sync, computed only
// from newly created observations.
type PointsBreakdown struct {
	Total         int `json:"total"`
	Base          int `json:"base"`
	NewSpecies    int `json:"newSpecies"`
	Rarity        int `json:"rarity"`
	ResearchGrade int `json:"researchGrade"`
	Photos        int `json:"photos"`
}

// StreakData reports streak state, the streak-at-risk window, and any
// milestone this sync crossed. Milestone bonus points are informational;
// they are not added to the stored total.
type StreakData struct {
	CurrentStreak   int     `json:"currentStreak"`
	LongestStreak   int     `json:"longestStreak"`
	StreakAtRisk    bool    `json:"streakAtRisk"`
	HoursUntilBreak float64 `json:"hoursUntilBreak"`
	MilestoneDays   int     `json:"milestoneDays,omitempty"`
	MilestoneTitle  string  `json:"milestoneTitle,omitempty"`
	MilestoneBonus  int     `json:"milestoneBonus,omitempty"`
}

// SyncResult is returned by one orchestrator invocation.
type SyncResult struct {
	NewObservations int              `json:"newObservations"`
	TotalSynced     int              `json:"totalSynced"`
	HasMore         bool             `json:"hasMore"`
	TotalAvailable  int64            `json:"totalAvailable"`
	LeveledUp       bool             `json:"leveledUp"`
	OldLevel        int              `json:"oldLevel"`
	NewLevel        int              `json:"newLevel,omitempty"`
	LevelTitle      string           `json:"levelTitle,omitempty"`
	NewBadges       []Badge          `json:"newBadges"`
	CompletedQuests []CompletedQuest `json:"completedQuests"`
	QuestProgress   []QuestProgress  `json:"questProgress,omitempty"`
	StreakData      StreakData       `json:"streakData"`
	RareFinds       []RareFind       `json:"rareFinds"`
	Breakdown       PointsBreakdown  `json:"pointsBreakdown"`
	DurationMs      int64            `json:"durationMs"`
}

// VerifyResult is returned by the sync status verifier.
type VerifyResult struct {
	HasMoreToSync         bool  `json:"hasMoreToSync"`
	LocalCount            int64 `json:"localCount"`
	RemoteTotal           int64 `json:"remoteTotal"`
	Corrected             bool  `json:"corrected"`
	ReconciliationQueued  bool  `json:"reconciliationQueued"`
	ReconciliationsReplay int   `json:"reconciliationsReplayed"`
}
