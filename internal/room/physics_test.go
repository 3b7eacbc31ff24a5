package room

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
)

func TestResolveBallCollisionRecordsLastToucher(t *testing.T) {
	w := NewWorldState()
	assert.Equal(t, domain.RoleNone, w.LastToucher, "nobody has touched the ball at kickoff")

	w.Ball.Position = w.Left.Position
	w.resolveBallCollision(&w.Left, domain.RoleLeft)

	assert.Equal(t, domain.RoleLeft, w.LastToucher)
}

func TestResolveBallCollisionIgnoresNonOverlappingBody(t *testing.T) {
	w := NewWorldState()
	w.Ball.Position = Vec2{X: w.Right.Position.X + config.PlayerHalfW + config.BallRadius + 100, Y: w.Right.Position.Y}

	w.resolveBallCollision(&w.Right, domain.RoleRight)

	assert.Equal(t, domain.RoleNone, w.LastToucher, "no overlap means no touch is recorded")
}

func TestResetPositionsClearsLastToucher(t *testing.T) {
	w := NewWorldState()
	w.LastToucher = domain.RoleLeft

	w.resetPositions()

	assert.Equal(t, domain.RoleNone, w.LastToucher)
}
