package gamification

import "bioquest/pkg/domain"

// Classification is the outcome of classifying one taxon's rarity.
type Classification struct {
	Rarity          domain.Rarity
	GlobalCount     int64
	RegionalCount   *int64
	IsFirstGlobal   bool
	IsFirstRegional bool
	BonusPoints     int
}

// TierForCount maps a global observation count to a rarity tier.
func TierForCount(count int64) domain.Rarity {
	switch {
	case count < ThresholdMythic:
		return domain.RarityMythic
	case count < ThresholdLegendary:
		return domain.RarityLegendary
	case count < ThresholdEpic:
		return domain.RarityEpic
	case count < ThresholdRare:
		return domain.RarityRare
	case count < ThresholdUncommon:
		return domain.RarityUncommon
	default:
		return domain.RarityCommon
	}
}

// Classify determines a taxon's rarity from its global count and, when the
// user has a home region, its regional count. The regional tier wins when it
// is rarer than the global one. A count of exactly one means the observation
// being classified is itself the first sighting.
func Classify(globalCount int64, regionalCount *int64) Classification {
	c := Classification{
		Rarity:        TierForCount(globalCount),
		GlobalCount:   globalCount,
		RegionalCount: regionalCount,
		IsFirstGlobal: globalCount == 1,
	}
	if regionalCount != nil {
		regional := TierForCount(*regionalCount)
		if regional.Index() > c.Rarity.Index() {
			c.Rarity = regional
		}
		c.IsFirstRegional = *regionalCount == 1
	}
	c.BonusPoints = bonusWithFirsts(c.Rarity, c.IsFirstGlobal, c.IsFirstRegional)
	return c
}

func bonusWithFirsts(r domain.Rarity, firstGlobal, firstRegional bool) int {
	bonus := RarityBonus(r)
	if firstGlobal && bonus < FirstGlobalBonus {
		bonus = FirstGlobalBonus
	}
	if firstRegional && !firstGlobal && bonus < FirstRegionalBonus {
		bonus = FirstRegionalBonus
	}
	return bonus
}
