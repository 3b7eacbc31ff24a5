// Package anticheat implements the Anti-Cheat Validator (C2): statistical
// and temporal checks on submitted match results, grounded on the teacher's
// AntiCheat (stateless validator struct, tagged-result verdicts) but
// generalized from per-tick movement checks to the post-game rule table of
// spec §4.2.
package anticheat

import (
	"time"

	"github.com/headsoccer/matchserver/internal/domain"
)

// Flag severities (spec §4.2). Total severity >= RejectThreshold rejects.
const RejectThreshold = 4

var severities = map[string]float64{
	"RESULT_SCORE_MISMATCH":       4,
	"UNREALISTIC_SCORING_RATE":    4,
	"IMPOSSIBLE_SCORE_TIME_RATIO": 5,
	"GAME_TOO_SHORT":              2,
	"GAME_TOO_LONG":               2,
	"PLAYER_SCORE_TOO_HIGH":       3,
	"EXCESSIVE_SCORE_DIFFERENCE":  2,
	"RAPID_SUBMISSION":            3,
	"EXCESSIVE_WIN_STREAK":        4,
	"IDENTICAL_SCORE_PATTERN":     4,
	"UNREALISTIC_IMPROVEMENT":     4,
}

// Submission is a post-game result submission as received at the REST
// boundary or cross-checked against C10's own computed Result.
type Submission struct {
	PlayerID       string
	DeclaredWinner domain.Winner
	LeftScore      int
	RightScore     int
	Duration       time.Duration
	SubmittedAt    time.Time
}

// History supplies the recent-submission context needed by the streak/
// pattern/improvement rules. A thin interface so the validator has no
// storage dependency of its own.
type History interface {
	// PreviousSubmissionAt returns the time of the player's last submission,
	// or the zero Time if none exists.
	PreviousSubmissionAt(playerID string) time.Time
	// ConsecutiveWins24h returns the player's current win streak within the
	// last 24 hours.
	ConsecutiveWins24h(playerID string) int
	// RecentIdenticalScorelines counts how many of the player's recent
	// matches exactly match (leftScore, rightScore) in either order.
	RecentIdenticalScorelines(playerID string, left, right int) int
	// WinRateDelta returns (recent-5-game win rate) minus (prior-5-game win
	// rate) for the player.
	WinRateDelta(playerID string) float64
}

// Validate runs every rule in spec §4.2 and aggregates a suspicion score
// capped at 10. Severity sum >= RejectThreshold rejects the submission.
func Validate(s Submission, h History) domain.ValidationVerdict {
	var flags []string
	var total float64

	totalGoals := s.LeftScore + s.RightScore
	diff := s.LeftScore - s.RightScore
	if diff < 0 {
		diff = -diff
	}

	declaredContradicts := func() bool {
		switch s.DeclaredWinner {
		case domain.WinnerLeft:
			return s.LeftScore <= s.RightScore
		case domain.WinnerRight:
			return s.RightScore <= s.LeftScore
		case domain.WinnerDraw:
			return s.LeftScore != s.RightScore
		default:
			return false
		}
	}
	if declaredContradicts() {
		flags = append(flags, "RESULT_SCORE_MISMATCH")
	}

	durationMin := s.Duration.Minutes()
	if durationMin > 0 && float64(totalGoals)/durationMin > 2.0 {
		flags = append(flags, "UNREALISTIC_SCORING_RATE")
	}

	if s.Duration < 120*time.Second && totalGoals > 10 {
		flags = append(flags, "IMPOSSIBLE_SCORE_TIME_RATIO")
	}

	if s.Duration < 30*time.Second {
		flags = append(flags, "GAME_TOO_SHORT")
	}
	if s.Duration > 1800*time.Second {
		flags = append(flags, "GAME_TOO_LONG")
	}

	if s.LeftScore > 25 || s.RightScore > 25 {
		flags = append(flags, "PLAYER_SCORE_TOO_HIGH")
	}

	if diff > 20 {
		flags = append(flags, "EXCESSIVE_SCORE_DIFFERENCE")
	}

	if h != nil {
		if prev := h.PreviousSubmissionAt(s.PlayerID); !prev.IsZero() && s.SubmittedAt.Sub(prev) < 10*time.Second {
			flags = append(flags, "RAPID_SUBMISSION")
		}
		if h.ConsecutiveWins24h(s.PlayerID) > 50 {
			flags = append(flags, "EXCESSIVE_WIN_STREAK")
		}
		if h.RecentIdenticalScorelines(s.PlayerID, s.LeftScore, s.RightScore) > 3 {
			flags = append(flags, "IDENTICAL_SCORE_PATTERN")
		}
		if h.WinRateDelta(s.PlayerID) > 2.0 {
			flags = append(flags, "UNREALISTIC_IMPROVEMENT")
		}
	}

	for _, f := range flags {
		total += severities[f]
	}
	suspicion := total
	if suspicion > 10 {
		suspicion = 10
	}

	accepted := total < RejectThreshold
	reason := ""
	if !accepted {
		reason = "suspicion threshold exceeded"
	}

	return domain.ValidationVerdict{
		Accepted:       accepted,
		Reason:         reason,
		SuspicionScore: suspicion,
		Flags:          flags,
	}
}
