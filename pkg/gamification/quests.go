package gamification

import (
	"time"

	"bioquest/pkg/domain"
)

// QuestDef is a static quest definition. Quests measure activity inside a
// rolling window ending now, so progress is a pure function over the
// observations in that window.
type QuestDef struct {
	ID           string
	Name         string
	Description  string
	DurationDays int
	Target       int
	Progress     func(obs []domain.Observation) int
	PointsReward int
}

func countWhere(obs []domain.Observation, pred func(domain.Observation) bool) int {
	n := 0
	for _, o := range obs {
		if pred(o) {
			n++
		}
	}
	return n
}

func taxonObservations(taxon string) func(obs []domain.Observation) int {
	return func(obs []domain.Observation) int {
		return countWhere(obs, func(o domain.Observation) bool { return o.IconicTaxon == taxon })
	}
}

func uniqueSpecies(obs []domain.Observation) int {
	seen := make(map[int64]bool)
	for _, o := range obs {
		if o.TaxonID != nil {
			seen[*o.TaxonID] = true
		}
	}
	return len(seen)
}

// QuestCatalog is the static quest set evaluated after each sync.
var QuestCatalog = []QuestDef{
	{
		ID: "daily_three_observations", Name: "Daily Observer",
		Description: "Record 3 observations today", DurationDays: 1, Target: 3,
		Progress:     func(obs []domain.Observation) int { return len(obs) },
		PointsReward: 50,
	},
	{
		ID: "daily_birds", Name: "Bird Watcher",
		Description: "Observe 2 birds today", DurationDays: 1, Target: 2,
		Progress:     taxonObservations("Aves"),
		PointsReward: 75,
	},
	{
		ID: "daily_plants", Name: "Botanist",
		Description: "Document 3 plants today", DurationDays: 1, Target: 3,
		Progress:     taxonObservations("Plantae"),
		PointsReward: 75,
	},
	{
		ID: "daily_quality", Name: "Quality Observer",
		Description: "Make 1 research-grade observation today", DurationDays: 1, Target: 1,
		Progress: func(obs []domain.Observation) int {
			return countWhere(obs, func(o domain.Observation) bool { return o.QualityGrade == domain.QualityResearch })
		},
		PointsReward: 100,
	},
	{
		ID: "weekly_species_hunt", Name: "Species Hunter",
		Description: "Observe 10 different species this week", DurationDays: 7, Target: 10,
		Progress:     uniqueSpecies,
		PointsReward: 300,
	},
	{
		ID: "weekly_rare_find", Name: "Treasure Seeker",
		Description: "Find a rare or better species this week", DurationDays: 7, Target: 1,
		Progress: func(obs []domain.Observation) int {
			return countWhere(obs, func(o domain.Observation) bool { return o.Rarity.Tracked() })
		},
		PointsReward: 250,
	},
	{
		ID: "weekly_twenty", Name: "Field Week",
		Description: "Record 20 observations this week", DurationDays: 7, Target: 20,
		Progress:     func(obs []domain.Observation) int { return len(obs) },
		PointsReward: 400,
	},
}

// EvaluateQuests computes progress for every quest over the user's recent
// observations. previouslyCompleted holds quest IDs already rewarded;
// newly completed quests are reported once.
func EvaluateQuests(recent []domain.Observation, previouslyCompleted map[string]bool, now time.Time) (progress []domain.QuestProgress, completed []domain.CompletedQuest) {
	for _, q := range QuestCatalog {
		cutoff := now.AddDate(0, 0, -q.DurationDays)
		var window []domain.Observation
		for _, o := range recent {
			if o.ObservedOn.After(cutoff) {
				window = append(window, o)
			}
		}

		p := q.Progress(window)
		if p > q.Target {
			p = q.Target
		}
		done := p >= q.Target
		progress = append(progress, domain.QuestProgress{
			QuestID:   q.ID,
			Name:      q.Name,
			Progress:  p,
			Target:    q.Target,
			Completed: done,
		})
		if done && !previouslyCompleted[q.ID] {
			completed = append(completed, domain.CompletedQuest{
				QuestID:      q.ID,
				Name:         q.Name,
				PointsReward: q.PointsReward,
			})
		}
	}
	return progress, completed
}
