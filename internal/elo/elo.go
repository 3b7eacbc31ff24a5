// Package elo implements the post-match rating adjustment named in spec
// §4.10/§9 (Open Question: "Elo adjustment"). Grounded on the standard
// K-factor formula, the first of the two code paths the spec describes.
package elo

import (
	"math"

	"github.com/headsoccer/matchserver/internal/domain"
)

const (
	K         = 32
	MinRating = 800
	MaxRating = 3000
)

// expected returns the win probability for a player rated `rating` against
// an opponent rated `opponent`.
func expected(rating, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-rating)/400.0))
}

// Adjust computes new ratings for both sides given the match winner,
// clamped to [MinRating, MaxRating]. Draws count as a 0.5 score each.
func Adjust(leftRating, rightRating int, winner domain.Winner) (newLeft, newRight int) {
	var leftScore, rightScore float64
	switch winner {
	case domain.WinnerLeft:
		leftScore, rightScore = 1, 0
	case domain.WinnerRight:
		leftScore, rightScore = 0, 1
	default: // draw or unresolved: split evenly
		leftScore, rightScore = 0.5, 0.5
	}

	leftExpected := expected(leftRating, rightRating)
	rightExpected := expected(rightRating, leftRating)

	newLeft = clamp(leftRating + round(K*(leftScore-leftExpected)))
	newRight = clamp(rightRating + round(K*(rightScore-rightExpected)))
	return newLeft, newRight
}

func round(v float64) int {
	if v < 0 {
		return -int(math.Floor(-v + 0.5))
	}
	return int(math.Floor(v + 0.5))
}

func clamp(rating int) int {
	if rating < MinRating {
		return MinRating
	}
	if rating > MaxRating {
		return MaxRating
	}
	return rating
}
