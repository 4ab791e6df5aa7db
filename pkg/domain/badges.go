package domain

import "time"

// Badge is an awarded achievement as returned to callers.
type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	AwardedAt   time.Time `json:"awardedAt"`
}

// BadgeDef pairs a badge identity with the criterion that awards it.
type BadgeDef struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Criterion   Criterion
}

// Criterion is a closed set of badge award conditions. Each variant carries
// its threshold; evaluation happens in the gamification package against a
// stats snapshot.
type Criterion interface {
	criterion()
}

type MinObservations struct{ Count int }

type MinSpecies struct{ Count int }

type MinSpeciesInTaxon struct {
	IconicTaxon string
	Count       int
}

type MinRareObservations struct {
	Tier  Rarity
	Count int
}

type HasFirstGlobal struct{}

type MinStreak struct{ Days int }

type MinResearchGrade struct{ Count int }

type MinUniqueLocations struct{ Count int }

func (MinObservations) criterion()     {}
func (MinSpecies) criterion()          {}
func (MinSpeciesInTaxon) criterion()   {}
func (MinRareObservations) criterion() {}
func (HasFirstGlobal) criterion()      {}
func (MinStreak) criterion()           {}
func (MinResearchGrade) criterion()    {}
func (MinUniqueLocations) criterion()  {}

// Quest progress as reported after a sync.
type QuestProgress struct {
	QuestID   string `json:"questId"`
	Name      string `json:"name"`
	Progress  int    `json:"progress"`
	Target    int    `json:"target"`
	Completed bool   `json:"completed"`
}

type CompletedQuest struct {
	QuestID      string `json:"questId"`
	Name         string `json:"name"`
	PointsReward int    `json:"pointsReward"`
}
