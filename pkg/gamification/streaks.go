package gamification

import (
	"sort"
	"time"

	"bioquest/pkg/domain"
)

// StreakResult is the outcome of recomputing a user's daily streak.
type StreakResult struct {
	CurrentStreak       int
	LongestStreak       int
	LastObservationDate time.Time
	StreakAtRisk        bool
	HoursUntilBreak     float64
	MilestoneReached    *StreakMilestone
	BonusPoints         int
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// CalculateStreak recomputes the daily observation streak from a set of
// observation dates. The streak counts consecutive calendar days ending today
// or yesterday; anything older means the streak is broken. now anchors
// "today" so callers and tests control the clock.
func CalculateStreak(dates []time.Time, previousStreak, previousLongest int, now time.Time) StreakResult {
	if len(dates) == 0 {
		return StreakResult{LongestStreak: previousLongest}
	}

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })
	last := sorted[0]

	seen := make(map[string]bool, len(sorted))
	var days []time.Time
	for _, d := range sorted {
		key := dayKey(d)
		if !seen[key] {
			seen[key] = true
			days = append(days, d)
		}
	}

	yesterday := now.AddDate(0, 0, -1)
	if !sameDay(days[0], now) && !sameDay(days[0], yesterday) {
		longest := previousLongest
		if previousStreak > longest {
			longest = previousStreak
		}
		return StreakResult{LongestStreak: longest, LastObservationDate: last}
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if sameDay(days[i], days[i-1].AddDate(0, 0, -1)) {
			streak++
		} else {
			break
		}
	}

	atRisk := !sameDay(days[0], now)
	endOfToday := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	hoursLeft := endOfToday.Sub(now).Hours()
	if hoursLeft < 0 {
		hoursLeft = 0
	}

	longest := previousLongest
	if streak > longest {
		longest = streak
	}

	result := StreakResult{
		CurrentStreak:       streak,
		LongestStreak:       longest,
		LastObservationDate: last,
		StreakAtRisk:        atRisk,
		HoursUntilBreak:     hoursLeft,
	}

	prev := lastMilestoneReached(previousStreak)
	cur := lastMilestoneReached(streak)
	if cur != nil && cur != prev {
		result.MilestoneReached = cur
		result.BonusPoints = cur.BonusPoints
	}
	return result
}

func lastMilestoneReached(streak int) *StreakMilestone {
	var reached *StreakMilestone
	for i := range StreakMilestones {
		if StreakMilestones[i].Days <= streak {
			reached = &StreakMilestones[i]
		}
	}
	return reached
}

// RarityStreakState carries the consecutive rare-find streak fields.
type RarityStreakState struct {
	Current  int
	Longest  int
	LastDate *time.Time
}

// UpdateRarityStreak folds one observation into the rarity streak. Only
// tracked tiers extend it; a common or uncommon find on a new day breaks it.
func UpdateRarityStreak(state RarityStreakState, observedOn time.Time, rarity domain.Rarity) RarityStreakState {
	if !rarity.Tracked() {
		if state.LastDate != nil && !sameDay(observedOn, *state.LastDate) {
			state.Current = 0
		}
		return state
	}

	switch {
	case state.LastDate == nil:
		state.Current = 1
	case sameDay(observedOn, *state.LastDate):
		// same day, streak unchanged
	case sameDay(observedOn, state.LastDate.AddDate(0, 0, 1)):
		state.Current++
	default:
		state.Current = 1
	}
	if state.Current > state.Longest {
		state.Longest = state.Current
	}
	d := observedOn
	state.LastDate = &d
	return state
}
