package room

import (
	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
)

// Vec2 mirrors validate.Vec2 locally to keep this package free of a
// dependency on the per-tick validator; both shapes serialize identically.
type Vec2 struct{ X, Y float64 }

// PlayerBody is one side's authoritative physics state within a WorldState.
type PlayerBody struct {
	Position      Vec2
	Velocity      Vec2
	OnGround      bool
	KickCooldown  int // frames remaining before another kick can register
	IsKicking     bool
	LastInput     Input
	LastSequence  uint64
}

// Input is the latest merged control state for a player (spec §4.8 step 1:
// "latest input wins; older inputs since last tick are discarded").
type Input struct {
	Left, Right, Jump, Kick bool
	SequenceID              uint64
}

// BallBody is the authoritative ball physics state.
type BallBody struct {
	Position Vec2
	Velocity Vec2
}

// WorldState is the authoritative per-room snapshot (spec §3).
type WorldState struct {
	Left  PlayerBody
	Right PlayerBody
	Ball  BallBody
	Score domain.Score
	Tick  uint64

	// GoalCooldownTicks counts down after a goal; physics still runs during
	// the cooldown but further goals do not count (spec §4.8 step 5).
	GoalCooldownTicks int

	// LastToucher is the side whose body most recently collided with the
	// ball, used to cross-check a client's goal_attempt claim (spec §4.3).
	LastToucher domain.Role
}

// NewWorldState builds the starting layout: players at their kickoff x
// positions, ball centered, everyone on the ground.
func NewWorldState() *WorldState {
	w := &WorldState{}
	w.resetPositions()
	return w
}

func (w *WorldState) resetPositions() {
	groundY := config.FieldHeight - config.GroundGap - config.PlayerHeight
	w.Left = PlayerBody{
		Position: Vec2{X: config.FieldWidth * 0.25, Y: groundY},
		OnGround: true,
	}
	w.Right = PlayerBody{
		Position: Vec2{X: config.FieldWidth * 0.75, Y: groundY},
		OnGround: true,
	}
	w.Ball = BallBody{
		Position: Vec2{X: config.FieldWidth / 2, Y: config.FieldHeight / 2},
	}
	w.LastToucher = domain.RoleNone
}

// Snapshot is the read-only projection broadcast to clients (spec §3
// glossary: "Snapshot").
type Snapshot struct {
	Tick  uint64       `json:"tick"`
	Left  BodySnapshot `json:"left"`
	Right BodySnapshot `json:"right"`
	Ball  Vec2         `json:"ball"`
	Score domain.Score `json:"score"`
}

// BodySnapshot is the wire-shape subset of a PlayerBody clients need.
type BodySnapshot struct {
	Position  Vec2 `json:"position"`
	Velocity  Vec2 `json:"velocity"`
	OnGround  bool `json:"onGround"`
	IsKicking bool `json:"isKicking"`
}

// ToSnapshot copies the current state into the broadcastable shape. Called
// with the room lock held.
func (w *WorldState) ToSnapshot() Snapshot {
	return Snapshot{
		Tick: w.Tick,
		Left: BodySnapshot{
			Position: w.Left.Position, Velocity: w.Left.Velocity,
			OnGround: w.Left.OnGround, IsKicking: w.Left.IsKicking,
		},
		Right: BodySnapshot{
			Position: w.Right.Position, Velocity: w.Right.Velocity,
			OnGround: w.Right.OnGround, IsKicking: w.Right.IsKicking,
		},
		Ball:  w.Ball.Position,
		Score: w.Score,
	}
}

func (w *WorldState) bodyFor(r domain.Role) *PlayerBody {
	switch r {
	case domain.RoleLeft:
		return &w.Left
	case domain.RoleRight:
		return &w.Right
	default:
		return nil
	}
}
