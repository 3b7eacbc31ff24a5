package queue

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/player"
)

func testConfig() config.MatchmakerConfig {
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

func TestEnqueueRejectsDuplicate(t *testing.T) {
	var pairs []Pair
	m := New(testConfig(), zerolog.Nop(), func(pr Pair) { pairs = append(pairs, pr) })
	p := connectedPlayer("p1", 1200)

	require.NoError(t, m.Enqueue(p, domain.ModeCasual, ""))
	err := m.Enqueue(p, domain.ModeCasual, "")
	assert.Error(t, err)
}

func TestEnqueuePairsMatchingSkillAndMode(t *testing.T) {
	var pairs []Pair
	m := New(testConfig(), zerolog.Nop(), func(pr Pair) { pairs = append(pairs, pr) })

	a := connectedPlayer("a", 1200)
	b := connectedPlayer("b", 1250)

	require.NoError(t, m.Enqueue(a, domain.ModeCasual, ""))
	require.NoError(t, m.Enqueue(b, domain.ModeCasual, ""))

	require.Len(t, pairs, 1)
	assert.Equal(t, 1225.0, pairs[0].AverageElo)
	assert.Equal(t, 50.0, pairs[0].EloDifference)
	assert.Equal(t, -1, m.PositionOf("a"), "paired players are removed from the queue")
	assert.Equal(t, -1, m.PositionOf("b"))
}

func TestEnqueueDoesNotPairAcrossModes(t *testing.T) {
	var pairs []Pair
	m := New(testConfig(), zerolog.Nop(), func(pr Pair) { pairs = append(pairs, pr) })

	a := connectedPlayer("a", 1200)
	b := connectedPlayer("b", 1200)

	require.NoError(t, m.Enqueue(a, domain.ModeCasual, ""))
	require.NoError(t, m.Enqueue(b, domain.ModeRanked, ""))

	assert.Empty(t, pairs)
	assert.Equal(t, 0, m.PositionOf("a"))
	assert.Equal(t, 1, m.PositionOf("b"))
}

func TestEnqueueDoesNotPairOutsideSkillTolerance(t *testing.T) {
	var pairs []Pair
	cfg := testConfig()
	cfg.SkillTolerance = 50
	m := New(cfg, zerolog.Nop(), func(pr Pair) { pairs = append(pairs, pr) })

	a := connectedPlayer("a", 1000)
	b := connectedPlayer("b", 1400)

	require.NoError(t, m.Enqueue(a, domain.ModeCasual, ""))
	require.NoError(t, m.Enqueue(b, domain.ModeCasual, ""))

	assert.Empty(t, pairs)
}

func TestPassExpiresEntriesPastMaxWaitTime(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), nil)
	a := connectedPlayer("a", 1200)

	m.mu.Lock()
	m.entries["a"] = &Entry{Player: a, Mode: domain.ModeCasual, JoinedAt: time.Now().Add(-2 * time.Minute), Tolerance: 200}
	m.order = append(m.order, "a")
	m.mu.Unlock()

	m.Pass()
	assert.Equal(t, -1, m.PositionOf("a"))
}

func TestPassPurgesDisconnectedPlayers(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), nil)
	a := player.New("a", "a") // never Authenticate()'d: Connected() == false

	m.mu.Lock()
	m.entries["a"] = &Entry{Player: a, Mode: domain.ModeCasual, JoinedAt: time.Now(), Tolerance: 200}
	m.order = append(m.order, "a")
	m.mu.Unlock()

	m.Pass()
	assert.Equal(t, -1, m.PositionOf("a"))
}

func TestEnqueueAtHeadPutsPlayerFirst(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), nil)
	a := connectedPlayer("a", 1200)
	b := connectedPlayer("b", 1900) // far enough apart not to auto-pair

	require.NoError(t, m.Enqueue(a, domain.ModeCasual, ""))
	require.NoError(t, m.EnqueueAtHead(b, domain.ModeCasual, ""))

	assert.Equal(t, 0, m.PositionOf("b"))
	assert.Equal(t, 1, m.PositionOf("a"))
}

func TestDequeueRemovesEntry(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), nil)
	a := connectedPlayer("a", 1200)
	require.NoError(t, m.Enqueue(a, domain.ModeCasual, ""))

	assert.True(t, m.Dequeue("a"))
	assert.Equal(t, -1, m.PositionOf("a"))
	assert.False(t, m.Dequeue("a"), "dequeuing an absent player reports false")
}
