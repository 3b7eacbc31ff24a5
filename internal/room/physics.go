package room

import (
	"math"
	"math/rand"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
)

// tick runs one authoritative physics step (spec §4.8). Caller holds the
// room lock.
func (w *WorldState) tick() {
	w.Tick++
	w.updatePlayer(&w.Left)
	w.updatePlayer(&w.Right)
	w.updateBall()
	w.resolveBallCollision(&w.Left, domain.RoleLeft)
	w.resolveBallCollision(&w.Right, domain.RoleRight)

	if w.GoalCooldownTicks > 0 {
		w.GoalCooldownTicks--
		if w.GoalCooldownTicks == 0 {
			w.resetPositions()
			w.Ball.Velocity = Vec2{}
		}
	}
}

const groundY = config.FieldHeight - config.GroundGap - config.PlayerHeight

// updatePlayer applies input, friction, gravity, and bounds clamping to one
// side's body (spec §4.8 step 2).
func (w *WorldState) updatePlayer(b *PlayerBody) {
	in := b.LastInput

	switch {
	case in.Left && !in.Right:
		b.Velocity.X = -config.PlayerSpeed
	case in.Right && !in.Left:
		b.Velocity.X = config.PlayerSpeed
	default:
		b.Velocity.X *= config.FrictionCoeff
	}

	if in.Jump && b.OnGround {
		b.Velocity.Y = -config.JumpImpulse
		b.OnGround = false
	}

	b.Velocity.Y += config.Gravity

	b.Position.X += b.Velocity.X
	b.Position.Y += b.Velocity.Y

	if b.Position.X < config.PlayerHalfW {
		b.Position.X = config.PlayerHalfW
		b.Velocity.X = 0
	}
	if b.Position.X > config.FieldWidth-config.PlayerHalfW {
		b.Position.X = config.FieldWidth - config.PlayerHalfW
		b.Velocity.X = 0
	}
	if b.Position.Y >= groundY {
		b.Position.Y = groundY
		b.Velocity.Y = 0
		b.OnGround = true
	} else {
		b.OnGround = false
	}

	b.IsKicking = in.Kick && b.KickCooldown == 0
	if b.IsKicking {
		b.KickCooldown = config.KickCooldownTicks
	} else if b.KickCooldown > 0 {
		b.KickCooldown--
	}
}

// updateBall integrates the ball and reflects it off the floor and side
// walls with the configured bounce coefficient (spec §4.8 step 3).
func (w *WorldState) updateBall() {
	ball := &w.Ball
	ball.Velocity.Y += config.Gravity
	ball.Position.X += ball.Velocity.X
	ball.Position.Y += ball.Velocity.Y

	floor := config.FieldHeight - config.GroundGap - config.BallRadius
	if ball.Position.Y >= floor {
		ball.Position.Y = floor
		ball.Velocity.Y = -ball.Velocity.Y * config.BallBounce
	}
	if ball.Position.X <= config.BallRadius {
		ball.Position.X = config.BallRadius
		ball.Velocity.X = -ball.Velocity.X * config.BallBounce
	}
	if ball.Position.X >= config.FieldWidth-config.BallRadius {
		ball.Position.X = config.FieldWidth - config.BallRadius
		ball.Velocity.X = -ball.Velocity.X * config.BallBounce
	}
}

// resolveBallCollision detects a player-ball overlap and imparts a kick
// impulse along the center-to-center angle (spec §4.8 step 4).
func (w *WorldState) resolveBallCollision(b *PlayerBody, side domain.Role) {
	dx := w.Ball.Position.X - b.Position.X
	dy := w.Ball.Position.Y - b.Position.Y
	dist := math.Hypot(dx, dy)
	minDist := config.PlayerHalfW + config.BallRadius
	if dist >= minDist {
		return
	}

	nx, ny := 0.0, -1.0 // concentric centers: push the ball straight up
	if dist > 0 {
		nx, ny = dx/dist, dy/dist
	}
	overlap := minDist - dist
	w.Ball.Position.X += nx * overlap
	w.Ball.Position.Y += ny * overlap

	force := 18 + rand.Float64()*7 // uniform in [18,25]
	if b.IsKicking {
		force *= 2
	}
	force *= config.CollisionBounce

	w.Ball.Velocity.X = nx * force
	w.Ball.Velocity.Y = ny * force

	w.LastToucher = side
}

// checkGoal reports whether the ball currently sits in the mouth of the
// goal defended by defender, and is not already in cooldown (spec §4.8
// step 5). The caller increments the opposing side's score.
func (w *WorldState) checkGoal(defender domain.Role) bool {
	if w.GoalCooldownTicks > 0 {
		return false
	}
	goalTop := (config.FieldHeight - config.GoalMouthHeight) / 2
	goalBottom := goalTop + config.GoalMouthHeight
	if w.Ball.Position.Y < goalTop || w.Ball.Position.Y > goalBottom {
		return false
	}
	switch defender {
	case domain.RoleLeft:
		return w.Ball.Position.X-config.BallRadius <= 0
	case domain.RoleRight:
		return w.Ball.Position.X+config.BallRadius >= config.FieldWidth
	default:
		return false
	}
}
