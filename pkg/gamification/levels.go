package gamification

import "math"

// PointsForLevel returns the total points required to reach the given level.
func PointsForLevel(level int) int {
	if level <= StartingLevel {
		return 0
	}
	return int(math.Floor(LevelBasePoints * math.Pow(float64(level), LevelExponent)))
}

// LevelForPoints computes the level a point total corresponds to, plus the
// points still needed for the next level. The level is the largest L whose
// requirement does not exceed totalPoints.
func LevelForPoints(totalPoints int) (level, pointsToNext int) {
	level = StartingLevel
	for PointsForLevel(level+1) <= totalPoints {
		level++
	}
	pointsToNext = PointsForLevel(level+1) - totalPoints
	return level, pointsToNext
}

var levelTitles = []struct {
	minLevel int
	title    string
}{
	{40, "Legendary Naturalist"},
	{30, "Elite Naturalist"},
	{20, "Master Naturalist"},
	{15, "Expert Naturalist"},
	{10, "Field Naturalist"},
	{5, "Amateur Naturalist"},
	{0, "Novice Naturalist"},
}

// LevelTitle returns the display rank for a level.
func LevelTitle(level int) string {
	for _, t := range levelTitles {
		if level >= t.minLevel {
			return t.title
		}
	}
	return "Novice Naturalist"
}
