// Package scoring maps the number of moves a player needed onto a 1..100 score.
package scoring

import "math"

const (
	MaxScore = 100
	MinScore = 1
)

// Score returns MaxScore when actual <= minMoves, MinScore when actual >= maxMoves,
// and a linear interpolation rounded to the nearest integer in between.
func Score(minMoves, maxMoves, actual int) int {
	if actual <= minMoves {
		return MaxScore
	}
	if actual >= maxMoves {
		return MinScore
	}
	span := float64(maxMoves - minMoves)
	used := float64(actual - minMoves)
	raw := float64(MaxScore) - float64(MaxScore-MinScore)*used/span
	return clamp(int(math.Round(raw)))
}

func clamp(v int) int {
	if v > MaxScore {
		return MaxScore
	}
	if v < MinScore {
		return MinScore
	}
	return v
}
