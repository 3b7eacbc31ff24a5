package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/headsoccer/matchserver/internal/domain"
)

func TestAdjustEqualRatingsWinLoss(t *testing.T) {
	left, right := Adjust(1200, 1200, domain.WinnerLeft)
	assert.Equal(t, 1216, left, "expected winner to gain half the K-factor at equal ratings")
	assert.Equal(t, 1184, right, "expected loser to lose half the K-factor at equal ratings")
}

func TestAdjustDrawKeepsEqualRatingsUnchanged(t *testing.T) {
	left, right := Adjust(1500, 1500, domain.WinnerDraw)
	assert.Equal(t, 1500, left, "a draw between equally rated players should not move ratings")
	assert.Equal(t, 1500, right, "a draw between equally rated players should not move ratings")
}

func TestAdjustUpsetGainsMoreThanExpectedWin(t *testing.T) {
	underdogBefore := 1000
	favoriteBefore := 1600
	newUnderdog, newFavorite := Adjust(underdogBefore, favoriteBefore, domain.WinnerLeft)
	assert.Greater(t, newUnderdog-underdogBefore, 16, "an upset win should gain close to the full K-factor")
	assert.Less(t, newFavorite, favoriteBefore, "the favorite should lose rating after an upset loss")
}

func TestAdjustClampsToRatingBand(t *testing.T) {
	left, right := Adjust(MinRating, MinRating, domain.WinnerRight)
	assert.GreaterOrEqual(t, left, MinRating, "rating should never drop below MinRating")
	assert.LessOrEqual(t, right, MaxRating, "rating should never exceed MaxRating")

	left, right = Adjust(MaxRating, MaxRating, domain.WinnerLeft)
	assert.LessOrEqual(t, left, MaxRating, "rating should never exceed MaxRating")
	assert.GreaterOrEqual(t, right, MinRating, "rating should never drop below MinRating")
}

func TestAdjustUnresolvedWinnerSplitsLikeDraw(t *testing.T) {
	left, right := Adjust(1400, 1400, domain.WinnerNone)
	assert.Equal(t, 1400, left)
	assert.Equal(t, 1400, right)
}
