package gamification

import (
	"testing"

	"bioquest/pkg/domain"
)

func TestTierForCount(t *testing.T) {
	cases := []struct {
		count int64
		want  domain.Rarity
	}{
		{0, domain.RarityMythic},
		{9, domain.RarityMythic},
		{10, domain.RarityLegendary},
		{99, domain.RarityLegendary},
		{100, domain.RarityEpic},
		{499, domain.RarityEpic},
		{500, domain.RarityRare},
		{1999, domain.RarityRare},
		{2000, domain.RarityUncommon},
		{9999, domain.RarityUncommon},
		{10000, domain.RarityCommon},
		{5000000, domain.RarityCommon},
	}
	for _, c := range cases {
		if got := TierForCount(c.count); got != c.want {
			t.Errorf("TierForCount(%d) = %s, want %s", c.count, got, c.want)
		}
	}
}

func TestClassifyFirstGlobal(t *testing.T) {
	c := Classify(1, nil)
	if !c.IsFirstGlobal {
		t.Fatal("count of 1 should be a first global sighting")
	}
	if c.Rarity != domain.RarityMythic {
		t.Errorf("rarity = %s, want mythic", c.Rarity)
	}
	if c.BonusPoints != FirstGlobalBonus {
		t.Errorf("bonus = %d, want %d", c.BonusPoints, FirstGlobalBonus)
	}
}

func TestClassifyFirstRegionalNotGlobal(t *testing.T) {
	regional := int64(1)
	c := Classify(50000, &regional)
	if c.IsFirstGlobal {
		t.Fatal("should not be first global")
	}
	if !c.IsFirstRegional {
		t.Fatal("regional count of 1 should be first regional")
	}
	// a regional count of 1 is mythic, and the mythic bonus outweighs the
	// first-regional floor
	if want := RarityBonus(domain.RarityMythic); c.BonusPoints != want {
		t.Errorf("bonus = %d, want %d", c.BonusPoints, want)
	}
	if c.BonusPoints < FirstRegionalBonus {
		t.Errorf("bonus = %d, below the first-regional floor %d", c.BonusPoints, FirstRegionalBonus)
	}
}

func TestClassifyRegionalRarerWins(t *testing.T) {
	regional := int64(300)
	c := Classify(50000, &regional)
	if c.Rarity != domain.RarityEpic {
		t.Errorf("rarity = %s, want epic (regional tier)", c.Rarity)
	}
	if c.BonusPoints != RarityBonus(domain.RarityEpic) {
		t.Errorf("bonus = %d, want %d", c.BonusPoints, RarityBonus(domain.RarityEpic))
	}
}

func TestClassifyGlobalRarerThanRegional(t *testing.T) {
	regional := int64(1500)
	c := Classify(80, &regional)
	if c.Rarity != domain.RarityLegendary {
		t.Errorf("rarity = %s, want legendary (global tier)", c.Rarity)
	}
}

func TestRarityTracked(t *testing.T) {
	for _, r := range []domain.Rarity{domain.RarityRare, domain.RarityEpic, domain.RarityLegendary, domain.RarityMythic} {
		if !r.Tracked() {
			t.Errorf("%s should be tracked", r)
		}
	}
	for _, r := range []domain.Rarity{domain.RarityCommon, domain.RarityUncommon} {
		if r.Tracked() {
			t.Errorf("%s should not be tracked", r)
		}
	}
}
