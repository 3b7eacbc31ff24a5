package anticheat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/headsoccer/matchserver/internal/domain"
)

func TestValidateAcceptsPlausibleResult(t *testing.T) {
	v := Validate(Submission{
		PlayerID:       "p1",
		DeclaredWinner: domain.WinnerLeft,
		LeftScore:      5,
		RightScore:     2,
		Duration:       6 * time.Minute,
		SubmittedAt:    time.Now(),
	}, nil)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Flags)
}

func TestValidateFlagsScoreMismatch(t *testing.T) {
	v := Validate(Submission{
		PlayerID:       "p1",
		DeclaredWinner: domain.WinnerLeft,
		LeftScore:      2,
		RightScore:     5,
		Duration:       6 * time.Minute,
		SubmittedAt:    time.Now(),
	}, nil)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Flags, "RESULT_SCORE_MISMATCH")
}

func TestValidateFlagsImpossibleScoreTimeRatio(t *testing.T) {
	v := Validate(Submission{
		PlayerID:       "p1",
		DeclaredWinner: domain.WinnerLeft,
		LeftScore:      8,
		RightScore:     5,
		Duration:       60 * time.Second,
		SubmittedAt:    time.Now(),
	}, nil)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Flags, "IMPOSSIBLE_SCORE_TIME_RATIO")
}

func TestValidateFlagsGameTooShortAndTooLong(t *testing.T) {
	short := Validate(Submission{Duration: 10 * time.Second}, nil)
	assert.Contains(t, short.Flags, "GAME_TOO_SHORT")

	long := Validate(Submission{Duration: 2000 * time.Second}, nil)
	assert.Contains(t, long.Flags, "GAME_TOO_LONG")
}

func TestValidateSuspicionScoreCapsAtTen(t *testing.T) {
	v := Validate(Submission{
		PlayerID:       "p1",
		DeclaredWinner: domain.WinnerLeft,
		LeftScore:      30,
		RightScore:     1,
		Duration:       50 * time.Second,
		SubmittedAt:    time.Now(),
	}, nil)
	assert.LessOrEqual(t, v.SuspicionScore, 10.0)
	assert.False(t, v.Accepted)
}

type fakeHistory struct {
	prevSubmission  time.Time
	winStreak       int
	identicalCount  int
	winRateDelta    float64
}

func (h fakeHistory) PreviousSubmissionAt(string) time.Time       { return h.prevSubmission }
func (h fakeHistory) ConsecutiveWins24h(string) int               { return h.winStreak }
func (h fakeHistory) RecentIdenticalScorelines(string, int, int) int { return h.identicalCount }
func (h fakeHistory) WinRateDelta(string) float64                 { return h.winRateDelta }

func TestValidateFlagsRapidSubmissionFromHistory(t *testing.T) {
	h := fakeHistory{prevSubmission: time.Now().Add(-2 * time.Second)}
	v := Validate(Submission{Duration: 5 * time.Minute, SubmittedAt: time.Now()}, h)
	assert.Contains(t, v.Flags, "RAPID_SUBMISSION")
}

func TestValidateFlagsExcessiveWinStreakFromHistory(t *testing.T) {
	h := fakeHistory{winStreak: 51}
	v := Validate(Submission{Duration: 5 * time.Minute}, h)
	assert.Contains(t, v.Flags, "EXCESSIVE_WIN_STREAK")
}
