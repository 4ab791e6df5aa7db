// Package gamification holds the pure game-balance rules: points, levels,
// rarity tiers, streaks, badges and quests. Everything here is a function
// over plain values; persistence and API access live elsewhere.
package gamification

import "bioquest/pkg/domain"

// Points configuration.
const (
	BaseObservationPoints = 10
	NewSpeciesBonus       = 50
	ResearchGradeBonus    = 25
	PhotoPoints           = 5
	MaxPhotoBonus         = 3
)

// Global observation-count thresholds for each rarity tier. A taxon with
// fewer than ThresholdMythic sightings worldwide is mythic, and so on up.
// At or above ThresholdUncommon it is common.
const (
	ThresholdMythic    = 10
	ThresholdLegendary = 100
	ThresholdEpic      = 500
	ThresholdRare      = 2000
	ThresholdUncommon  = 10000
)

var rarityBonusPoints = map[domain.Rarity]int{
	domain.RarityMythic:    2000,
	domain.RarityLegendary: 500,
	domain.RarityEpic:      250,
	domain.RarityRare:      100,
	domain.RarityUncommon:  25,
	domain.RarityCommon:    0,
}

// First-sighting bonuses. A first regional bonus applies only when the
// observation is not also the first global one.
const (
	FirstGlobalBonus   = 5000
	FirstRegionalBonus = 1000
)

// Level progression: points needed for level L is floor(100 * L^1.5).
const (
	LevelBasePoints = 100
	LevelExponent   = 1.5
	StartingLevel   = 1
)

// Streak window and warning thresholds, in hours.
const (
	StreakWindowHours      = 24
	StreakUrgentWarningHrs = 6
)

// StreakMilestone is a reward granted the first time a streak reaches Days.
type StreakMilestone struct {
	Days        int
	Title       string
	BonusPoints int
	BadgeCode   string
}

var StreakMilestones = []StreakMilestone{
	{Days: 3, Title: "3-Day Streak", BonusPoints: 25},
	{Days: 7, Title: "Week Warrior", BonusPoints: 100, BadgeCode: "daily_naturalist"},
	{Days: 14, Title: "Fortnight Champion", BonusPoints: 200},
	{Days: 30, Title: "Monthly Master", BonusPoints: 500, BadgeCode: "dedicated_observer"},
	{Days: 60, Title: "2-Month Marvel", BonusPoints: 1000},
	{Days: 100, Title: "Centurion", BonusPoints: 2000},
	{Days: 365, Title: "Year-Long Legend", BonusPoints: 10000},
	{Days: 730, Title: "Two-Year Titan", BonusPoints: 25000},
	{Days: 1000, Title: "Millennium Naturalist", BonusPoints: 50000},
}
