// Package domain holds the types shared across every component: roles,
// modes, room/player states, and the result/verdict value objects described
// in the data model.
package domain

import "time"

// Role identifies which side of the field a player occupies.
type Role string

const (
	RoleNone  Role = ""
	RoleLeft  Role = "left"
	RoleRight Role = "right"
)

// Opposite returns the other side.
func (r Role) Opposite() Role {
	switch r {
	case RoleLeft:
		return RoleRight
	case RoleRight:
		return RoleLeft
	default:
		return RoleNone
	}
}

// GameMode is the matchmaking/room mode.
type GameMode string

const (
	ModeCasual     GameMode = "casual"
	ModeRanked     GameMode = "ranked"
	ModeTournament GameMode = "tournament"
)

// PlayerStatus is C1's per-session state machine.
type PlayerStatus string

const (
	StatusIdle         PlayerStatus = "idle"
	StatusInQueue      PlayerStatus = "in_queue"
	StatusInRoom       PlayerStatus = "in_room"
	StatusInGame       PlayerStatus = "in_game"
	StatusDisconnected PlayerStatus = "disconnected"
)

// RoomState is C8's state machine.
type RoomState string

const (
	RoomWaiting  RoomState = "WAITING"
	RoomReady    RoomState = "READY"
	RoomPlaying  RoomState = "PLAYING"
	RoomPaused   RoomState = "PAUSED"
	RoomFinished RoomState = "FINISHED"
)

// EndReason is why a match ended.
type EndReason string

const (
	ReasonScoreLimit      EndReason = "score_limit"
	ReasonTimeLimit       EndReason = "time_limit"
	ReasonForfeit         EndReason = "forfeit"
	ReasonDisconnect      EndReason = "disconnect"
	ReasonForced          EndReason = "forced"
	ReasonMutualAgreement EndReason = "mutual_agreement"
)

// ResultType classifies the per-match outcome the way C10 computes it.
type ResultType string

const (
	ResultWin           ResultType = "win"
	ResultLoss          ResultType = "loss"
	ResultDraw          ResultType = "draw"
	ResultDoubleForfeit ResultType = "double_forfeit"
)

// Winner identifies the winning side, or DRAW.
type Winner string

const (
	WinnerLeft  Winner = "left"
	WinnerRight Winner = "right"
	WinnerDraw  Winner = "DRAW"
	WinnerNone  Winner = "" // only valid for double_forfeit
)

// Score is a componentwise left/right goal tally. Scores only ever
// increase, never decrease (spec §8 invariant).
type Score struct {
	Left  int
	Right int
}

// PlayerResult is one side's final per-player stats for a completed match.
type PlayerResult struct {
	PlayerID       string
	FinalScore     int
	Outcome        ResultType
	ConnectedAtEnd bool
	RatingBefore   int
	RatingAfter    int
}

// Result is the full outcome of a completed match (spec §3).
type Result struct {
	RoomID        string
	Mode          GameMode
	Start         time.Time
	End           time.Time
	Duration      time.Duration
	Reason        EndReason
	Winner        Winner
	Players       [2]PlayerResult
	TotalGoals    int
	GoalDiff      int
	AverageElo    float64
	EloDifference float64
	AntiCheat     ValidationVerdict
}

// ValidationVerdict is the outcome of any validation pass — movement, goal,
// or anti-cheat result review. Tagged-result style per spec §9: validators
// never use exceptions for control flow.
type ValidationVerdict struct {
	Accepted         bool
	Reason           string
	CorrectedPayload any
	SuspicionScore   float64 // 0..10, only meaningful for result submissions
	Flags            []string
}
