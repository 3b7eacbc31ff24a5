package conn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/player"
)

type fakeCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{items: make(map[string]string)} }

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

type fakeSocket struct {
	addr   string
	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

func newFakeSocket(addr string) *fakeSocket { return &fakeSocket{addr: addr} }

func (s *fakeSocket) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) RemoteAddr() string { return s.addr }

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestAuthenticateFirstTimeIsNotReconnect(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	p := player.New("p1", "Astra")

	reconnected, err := m.Authenticate(p, newFakeSocket("1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, reconnected)
	assert.Equal(t, int64(1), m.Counters().Current)
}

func TestAuthenticateSecondSocketIsReconnectAndClosesPrior(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	p := player.New("p1", "Astra")

	first := newFakeSocket("1.1.1.1")
	_, err := m.Authenticate(p, first)
	require.NoError(t, err)
	m.JoinRoom("p1", "room-1")

	second := newFakeSocket("2.2.2.2")
	reconnected, err := m.Authenticate(p, second)
	require.NoError(t, err)
	assert.True(t, reconnected)
	assert.True(t, first.isClosed(), "the prior socket should be terminated on takeover")
	assert.Equal(t, int64(1), m.Counters().Reconnected)
}

func TestAuthenticateRejectsOverCapacity(t *testing.T) {
	m := New(1, time.Minute, time.Minute, zerolog.Nop())
	p1 := player.New("p1", "Astra")
	p2 := player.New("p2", "Bryn")

	_, err := m.Authenticate(p1, newFakeSocket("1.1.1.1"))
	require.NoError(t, err)

	_, err = m.Authenticate(p2, newFakeSocket("2.2.2.2"))
	assert.Error(t, err)
}

func TestJoinRoomLeavesPreviousRoomFirst(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	p := player.New("p1", "Astra")
	_, err := m.Authenticate(p, newFakeSocket("1.1.1.1"))
	require.NoError(t, err)

	m.JoinRoom("p1", "room-1")
	m.JoinRoom("p1", "room-2")

	m.SendToRoom("room-1", events.TypeChatMessage, map[string]any{}, "")
	m.SendToRoom("room-2", events.TypeChatMessage, map[string]any{}, "")

	// Player no longer belongs to room-1, so only the room-2 broadcast lands.
	sock := m.byPlayer["p1"].socket.(*fakeSocket)
	assert.Equal(t, 1, sock.sentCount())
}

func TestSendToRoomExcludesOriginOnInputEcho(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	a := player.New("a", "A")
	b := player.New("b", "B")
	_, _ = m.Authenticate(a, newFakeSocket("1.1.1.1"))
	_, _ = m.Authenticate(b, newFakeSocket("2.2.2.2"))
	m.JoinRoom("a", "room-1")
	m.JoinRoom("b", "room-1")

	m.SendToRoom("room-1", events.TypePlayerMovement, map[string]any{}, "a")

	aSock := m.byPlayer["a"].socket.(*fakeSocket)
	bSock := m.byPlayer["b"].socket.(*fakeSocket)
	assert.Equal(t, 0, aSock.sentCount(), "origin should be excluded")
	assert.Equal(t, 1, bSock.sentCount())
}

func TestDisconnectMarksPlayerDisconnectedAndClosesSocket(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	p := player.New("p1", "Astra")
	sock := newFakeSocket("1.1.1.1")
	_, err := m.Authenticate(p, sock)
	require.NoError(t, err)

	m.Disconnect("p1", "SOCKET_CLOSED")
	assert.True(t, sock.isClosed())
	assert.False(t, p.Connected())
	assert.Equal(t, int64(0), m.Counters().Current)
}

func TestDisconnectThenAuthenticateRestoresRoomFromSessionHint(t *testing.T) {
	cache := newFakeCache()
	m := NewWithCache(10, time.Minute, time.Minute, time.Minute, cache, zerolog.Nop())
	p := player.New("p1", "Astra")

	_, err := m.Authenticate(p, newFakeSocket("1.1.1.1"))
	require.NoError(t, err)
	m.JoinRoom("p1", "room-1")

	m.Disconnect("p1", "SOCKET_CLOSED")

	reconnected, err := m.Authenticate(p, newFakeSocket("2.2.2.2"))
	require.NoError(t, err)
	assert.True(t, reconnected, "a session hint in Cache should be recognized as a reconnect")
	assert.Equal(t, "room-1", m.byPlayer["p1"].RoomID())
}

func TestAuthenticateWithoutCacheIsNotReconnectAfterDisconnect(t *testing.T) {
	m := New(10, time.Minute, time.Minute, zerolog.Nop())
	p := player.New("p1", "Astra")

	_, err := m.Authenticate(p, newFakeSocket("1.1.1.1"))
	require.NoError(t, err)
	m.JoinRoom("p1", "room-1")
	m.Disconnect("p1", "SOCKET_CLOSED")

	reconnected, err := m.Authenticate(p, newFakeSocket("2.2.2.2"))
	require.NoError(t, err)
	assert.False(t, reconnected, "with no Cache wired there is no session hint to recover")
}

func TestSweepTimeoutsDisconnectsStalePlayers(t *testing.T) {
	m := New(10, time.Minute, 10*time.Millisecond, zerolog.Nop())
	p := player.New("p1", "Astra")
	sock := newFakeSocket("1.1.1.1")
	_, err := m.Authenticate(p, sock)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	m.sweepTimeouts()

	assert.True(t, sock.isClosed())
	assert.Equal(t, int64(1), m.Counters().TimedOut)
}
