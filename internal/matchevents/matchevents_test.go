package matchevents

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/player"
	"github.com/headsoccer/matchserver/internal/queue"
)

type recordingBus struct {
	mu   sync.Mutex
	sent []events.Type
}

func (b *recordingBus) SendToRoom(roomID string, t events.Type, payload map[string]any, excludePlayerID string) {
}

func (b *recordingBus) SendToPlayer(playerID string, t events.Type, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, t)
}

func (b *recordingBus) SendToAll(t events.Type, payload map[string]any) {}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func testMMConfig() config.MatchmakerConfig {
	return config.MatchmakerConfig{
		MaxQueueSize:           100,
		MaxWaitTime:            time.Minute,
		SkillTolerance:         200,
		SkillToleranceIncrease: 25,
		ToleranceStep:          30 * time.Second,
		MaxConcurrentRooms:     10,
		ReadyUpWindow:          10 * time.Second,
	}
}

func connectedPlayer(id string, rating int) *player.Player {
	p := player.New(id, id)
	p.Authenticate("sock-" + id)
	p.SetRating(rating)
	return p
}

func newPendingPair(t *testing.T, h *Handler) queue.Pair {
	t.Helper()
	a := connectedPlayer("a", 1200)
	b := connectedPlayer("b", 1250)
	pair := queue.Pair{
		A:             &queue.Entry{Player: a, Mode: domain.ModeCasual},
		B:             &queue.Entry{Player: b, Mode: domain.ModeCasual},
		RoomID:        "room-1",
		AverageElo:    1225,
		EloDifference: 50,
	}
	h.OnPair(pair)
	return pair
}

func TestOnPairOpensWindowAndNotifiesBothSides(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	h := New(mm, bus, time.Minute, nil, zerolog.Nop())

	pair := newPendingPair(t, h)

	assert.Equal(t, 2, bus.count())
	assert.True(t, pair.A.Player.InRoom())
	assert.True(t, pair.B.Player.InRoom())
}

func TestReadyUpRequiresBothSidesBeforeConfirming(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	var confirmed *queue.Pair
	h := New(mm, bus, time.Minute, func(p queue.Pair) { confirmed = &p }, zerolog.Nop())

	pair := newPendingPair(t, h)
	h.ReadyUp(pair.A.Player.ID())
	assert.Nil(t, confirmed, "only one side has readied up")

	h.ReadyUp(pair.B.Player.ID())
	require.NotNil(t, confirmed)
	assert.Equal(t, "room-1", confirmed.RoomID)
}

func TestReadyUpIgnoresUnknownPlayer(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	var confirmed bool
	h := New(mm, bus, time.Minute, func(p queue.Pair) { confirmed = true }, zerolog.Nop())

	h.ReadyUp("ghost")
	assert.False(t, confirmed)
}

func TestOnTimeoutReEnqueuesConfirmedSideAtHead(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	h := New(mm, bus, 10*time.Millisecond, nil, zerolog.Nop())

	pair := newPendingPair(t, h)
	h.ReadyUp(pair.A.Player.ID()) // only left confirms

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, mm.PositionOf(pair.A.Player.ID()), "confirmed side is re-enqueued at the head")
	assert.False(t, pair.A.Player.InRoom())
	assert.False(t, pair.B.Player.InRoom())
}

func TestOnTimeoutWithNeitherConfirmedReEnqueuesNobody(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	h := New(mm, bus, 10*time.Millisecond, nil, zerolog.Nop())

	pair := newPendingPair(t, h)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, -1, mm.PositionOf(pair.A.Player.ID()))
	assert.Equal(t, -1, mm.PositionOf(pair.B.Player.ID()))
}

func TestJoinQueueAndLeaveQueueDelegateToMatchmaker(t *testing.T) {
	bus := &recordingBus{}
	mm := queue.New(testMMConfig(), zerolog.Nop(), nil)
	h := New(mm, bus, time.Minute, nil, zerolog.Nop())

	p := connectedPlayer("solo", 1200)
	require.NoError(t, h.JoinQueue(p, domain.ModeCasual, ""))
	assert.Equal(t, 0, mm.PositionOf("solo"))

	assert.True(t, h.LeaveQueue("solo"))
	assert.Equal(t, -1, mm.PositionOf("solo"))
}
