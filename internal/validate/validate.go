// Package validate implements the Game-State Validator (C3): per-tick
// input/physics validity plus the lag-compensation hint, grounded on the
// teacher's anticheat.go (rubberband-or-kick verdicts against a maximum
// plausible distance) but generalized from a single speed-hack check to
// the full movement/goal contract of spec §4.3.
package validate

import (
	"math"
	"time"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
)

// Vec2 is a 2D point/vector, matching the wire payload shape
// {x: float, y: float}.
type Vec2 struct{ X, Y float64 }

// MovementClaim is what a player submits for player_movement.
type MovementClaim struct {
	Position      Vec2
	Velocity      Vec2
	ClientTime    int64
	SequenceID    uint64
	LatencyMillis float64 // 0 if unknown
}

// LastAccepted is the server's record of the last accepted movement for a
// player, used to bound plausible deltas.
type LastAccepted struct {
	Position   Vec2
	Time       time.Time
	SequenceID uint64
}

const speedCap = config.PlayerSpeed * 3 // generous cap: max run speed plus kick/collision impulse headroom

// maxLatencyCompensated bounds how much latency the server will compensate
// for, in milliseconds; a client claiming more is clamped to this ceiling
// both when judging movement tolerance and when lag-compensating position.
const maxLatencyCompensated = 150.0

// ValidatePlayerMovement checks position bounds, velocity magnitude, and
// that the claimed delta is consistent with velocity × elapsed within a
// latency-proportional tolerance (spec §4.3). A movement whose
// SequenceID matches the last accepted one is a no-op (spec §8
// idempotence property).
func ValidatePlayerMovement(claim MovementClaim, last LastAccepted) domain.ValidationVerdict {
	if last.SequenceID != 0 && claim.SequenceID == last.SequenceID {
		return domain.ValidationVerdict{Accepted: true, Reason: "duplicate_sequence_noop"}
	}

	if claim.Position.X < 0 || claim.Position.X > config.FieldWidth ||
		claim.Position.Y < 0 || claim.Position.Y > config.FieldHeight {
		return rejectWithCorrection(last, "OUT_OF_BOUNDS")
	}

	speed := math.Hypot(claim.Velocity.X, claim.Velocity.Y)
	if speed > speedCap {
		return rejectWithCorrection(last, "VELOCITY_TOO_HIGH")
	}

	if !last.Time.IsZero() {
		elapsed := time.Since(last.Time).Seconds()
		if elapsed <= 0 {
			elapsed = 1.0 / config.PhysicsTickRate
		}
		maxDelta := speed*elapsed + 5 // small fixed slack for integration error
		latencyMillis := claim.LatencyMillis
		if latencyMillis > 0 {
			// Tolerance grows with latency: a laggy client's claimed state is
			// further from the server's own record even when honest.
			tolerance := math.Min(latencyMillis, maxLatencyCompensated) / 1000.0
			maxDelta += speed * tolerance
		}
		actualDelta := math.Hypot(claim.Position.X-last.Position.X, claim.Position.Y-last.Position.Y)
		if actualDelta > maxDelta*1.5 {
			return rejectWithCorrection(last, "IMPLAUSIBLE_DELTA")
		}
	}

	return domain.ValidationVerdict{Accepted: true}
}

func rejectWithCorrection(last LastAccepted, reason string) domain.ValidationVerdict {
	return domain.ValidationVerdict{
		Accepted:         false,
		Reason:           reason,
		CorrectedPayload: map[string]any{"x": last.Position.X, "y": last.Position.Y},
	}
}

// GoalClaim is what a client-originated goal_attempt carries; the server
// always re-derives the authoritative goal from its own ball body, this is
// only used to cross-check plausibility and attribute the last toucher.
type GoalClaim struct {
	BallPosition Vec2
	AttackingSide domain.Role
	LastToucher   domain.Role
}

// ValidateGoal checks that the ball center sits inside the opposing side's
// goal mouth and that the claimed last toucher is plausible (spec §4.3).
func ValidateGoal(claim GoalClaim) domain.ValidationVerdict {
	opponentSide := claim.AttackingSide.Opposite()
	if opponentSide == domain.RoleNone {
		return domain.ValidationVerdict{Accepted: false, Reason: "NO_ATTACKING_SIDE"}
	}

	goalTop := (config.FieldHeight - config.GoalMouthHeight) / 2
	goalBottom := goalTop + config.GoalMouthHeight

	var atGoalLine bool
	if opponentSide == domain.RoleLeft {
		atGoalLine = claim.BallPosition.X-config.BallRadius <= 0
	} else {
		atGoalLine = claim.BallPosition.X+config.BallRadius >= config.FieldWidth
	}
	inMouth := claim.BallPosition.Y >= goalTop && claim.BallPosition.Y <= goalBottom

	if !atGoalLine || !inMouth {
		return domain.ValidationVerdict{Accepted: false, Reason: "BALL_NOT_IN_GOAL_MOUTH"}
	}

	// An own-goal (last toucher on the opposing side) still counts, so the
	// toucher only rejects the claim when nobody has touched the ball at all.
	if claim.LastToucher == domain.RoleNone {
		return domain.ValidationVerdict{Accepted: false, Reason: "NO_RECORDED_TOUCH"}
	}

	return domain.ValidationVerdict{Accepted: true}
}

// LagCompensate extrapolates a claimed position forward by
// velocity × min(latency, 150ms) before it is applied authoritatively
// (spec §4.3), returning the adjusted position and the hint attached to
// the outgoing event.
func LagCompensate(claim MovementClaim) (Vec2, map[string]any) {
	if claim.LatencyMillis <= 0 {
		return claim.Position, nil
	}
	dt := math.Min(claim.LatencyMillis, maxLatencyCompensated) / 1000.0
	adjusted := Vec2{
		X: claim.Position.X + claim.Velocity.X*dt,
		Y: claim.Position.Y + claim.Velocity.Y*dt,
	}
	hint := map[string]any{
		"latencyMillis": claim.LatencyMillis,
		"compensatedMs": math.Min(claim.LatencyMillis, maxLatencyCompensated),
		"originalX":     claim.Position.X,
		"originalY":     claim.Position.Y,
	}
	return adjusted, hint
}
