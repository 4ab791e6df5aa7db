package gamification

import "bioquest/pkg/domain"

// PointsCalculation attributes the points for a single observation.
type PointsCalculation struct {
	Base          int
	NewSpecies    int
	Rarity        int
	ResearchGrade int
	Photos        int
	Total         int
}

// ObservationPoints computes the points for one observation. rarityBonus
// comes from the rarity classifier and already includes first-sighting
// bonuses; new-species detection is the caller's concern since it needs the
// user's species history.
func ObservationPoints(qualityGrade string, photosCount int, isNewSpecies bool, rarityBonus int) PointsCalculation {
	calc := PointsCalculation{
		Base:   BaseObservationPoints,
		Rarity: rarityBonus,
	}
	if isNewSpecies {
		calc.NewSpecies = NewSpeciesBonus
	}
	if qualityGrade == domain.QualityResearch {
		calc.ResearchGrade = ResearchGradeBonus
	}
	photos := photosCount
	if photos > MaxPhotoBonus {
		photos = MaxPhotoBonus
	}
	calc.Photos = photos * PhotoPoints
	calc.Total = calc.Base + calc.NewSpecies + calc.Rarity + calc.ResearchGrade + calc.Photos
	return calc
}

// RarityBonus returns the flat bonus for a rarity tier.
func RarityBonus(r domain.Rarity) int {
	return rarityBonusPoints[r]
}
