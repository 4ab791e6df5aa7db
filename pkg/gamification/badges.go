package gamification

import (
	"time"

	"bioquest/pkg/domain"
)

// BadgeCatalog is the static badge definition set. The pipeline consumes it
// when deriving achievements after a sync; it never writes to it.
var BadgeCatalog = []domain.BadgeDef{
	{ID: "first_steps", Name: "First Steps", Description: "Made your first observation", Icon: "🌱",
		Criterion: domain.MinObservations{Count: 1}},
	{ID: "century_club", Name: "Century Club", Description: "Recorded 100 observations", Icon: "💯",
		Criterion: domain.MinObservations{Count: 100}},
	{ID: "thousand_eyes", Name: "Thousand Eyes", Description: "Recorded 1,000 observations", Icon: "👁️",
		Criterion: domain.MinObservations{Count: 1000}},
	{ID: "ten_thousand_strong", Name: "Ten Thousand Strong", Description: "Recorded 10,000 observations", Icon: "🏔️",
		Criterion: domain.MinObservations{Count: 10000}},

	{ID: "bird_watcher", Name: "Bird Watcher", Description: "Observed 50 bird species", Icon: "🐦",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Aves", Count: 50}},
	{ID: "ornithologist", Name: "Ornithologist", Description: "Observed 200 bird species", Icon: "🦅",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Aves", Count: 200}},
	{ID: "botanist", Name: "Botanist", Description: "Observed 100 plant species", Icon: "🌿",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Plantae", Count: 100}},
	{ID: "master_botanist", Name: "Master Botanist", Description: "Observed 500 plant species", Icon: "🌳",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Plantae", Count: 500}},
	{ID: "entomologist", Name: "Entomologist", Description: "Observed 100 insect species", Icon: "🐛",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Insecta", Count: 100}},
	{ID: "fungal_friend", Name: "Fungal Friend", Description: "Observed 50 fungi species", Icon: "🍄",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Fungi", Count: 50}},
	{ID: "mammal_tracker", Name: "Mammal Tracker", Description: "Observed 25 mammal species", Icon: "🦌",
		Criterion: domain.MinSpeciesInTaxon{IconicTaxon: "Mammalia", Count: 25}},

	{ID: "treasure_hunter", Name: "Treasure Hunter", Description: "Found your first rare species", Icon: "💎",
		Criterion: domain.MinRareObservations{Tier: domain.RarityRare, Count: 1}},
	{ID: "rare_collector", Name: "Rare Collector", Description: "Found 10 rare species", Icon: "🏆",
		Criterion: domain.MinRareObservations{Tier: domain.RarityRare, Count: 10}},
	{ID: "legendary_finder", Name: "Legendary Finder", Description: "Found a legendary species", Icon: "⭐",
		Criterion: domain.MinRareObservations{Tier: domain.RarityLegendary, Count: 1}},
	{ID: "first_contact", Name: "First Contact", Description: "Recorded the first global sighting of a species", Icon: "🌍",
		Criterion: domain.HasFirstGlobal{}},

	{ID: "daily_naturalist", Name: "Daily Naturalist", Description: "Kept a 7-day observation streak", Icon: "🔥",
		Criterion: domain.MinStreak{Days: 7}},
	{ID: "dedicated_observer", Name: "Dedicated Observer", Description: "Kept a 30-day observation streak", Icon: "📅",
		Criterion: domain.MinStreak{Days: 30}},

	{ID: "quality_seeker", Name: "Quality Seeker", Description: "Made 50 research-grade observations", Icon: "🔬",
		Criterion: domain.MinResearchGrade{Count: 50}},
	{ID: "explorer", Name: "Explorer", Description: "Observed in 10 different places", Icon: "🗺️",
		Criterion: domain.MinUniqueLocations{Count: 10}},
	{ID: "globetrotter", Name: "Globetrotter", Description: "Observed in 50 different places", Icon: "✈️",
		Criterion: domain.MinUniqueLocations{Count: 50}},
}

// BadgeInputs is the evidence a badge criterion is evaluated against: the
// post-sync stats plus aggregates derived from stored observations.
type BadgeInputs struct {
	Stats              domain.UserStats
	SpeciesByTaxon     map[string]int
	RareByTier         map[domain.Rarity]int
	HasFirstGlobal     bool
	ResearchGradeCount int
	UniqueLocations    int
}

// CriterionMet evaluates one badge criterion against the inputs.
func CriterionMet(c domain.Criterion, in BadgeInputs) bool {
	switch v := c.(type) {
	case domain.MinObservations:
		return in.Stats.TotalObservations >= v.Count
	case domain.MinSpecies:
		return in.Stats.TotalSpecies >= v.Count
	case domain.MinSpeciesInTaxon:
		return in.SpeciesByTaxon[v.IconicTaxon] >= v.Count
	case domain.MinRareObservations:
		count := 0
		for tier, n := range in.RareByTier {
			if tier.Index() >= v.Tier.Index() {
				count += n
			}
		}
		return count >= v.Count
	case domain.HasFirstGlobal:
		return in.HasFirstGlobal
	case domain.MinStreak:
		return in.Stats.LongestStreak >= v.Days
	case domain.MinResearchGrade:
		return in.ResearchGradeCount >= v.Count
	case domain.MinUniqueLocations:
		return in.UniqueLocations >= v.Count
	}
	return false
}

// NewlyUnlocked returns the catalog badges whose criteria are met and whose
// IDs are not already in held.
func NewlyUnlocked(in BadgeInputs, held map[string]bool, now time.Time) []domain.Badge {
	var unlocked []domain.Badge
	for _, def := range BadgeCatalog {
		if held[def.ID] {
			continue
		}
		if CriterionMet(def.Criterion, in) {
			unlocked = append(unlocked, domain.Badge{
				ID:          def.ID,
				Name:        def.Name,
				Description: def.Description,
				Icon:        def.Icon,
				AwardedAt:   now,
			})
		}
	}
	return unlocked
}
