// Package conn implements the Connection Manager (C4): socket lifecycle,
// auth binding, heartbeats, room membership, and reconnection handoff.
// Grounded on the teacher's ClientConnection/writePump/readPump split (one
// buffered send channel per socket, a ticker-driven ping, pong extends the
// read deadline) generalized from an in-memory room pointer to the
// playerID/roomID indirection spec §4.4 requires for cross-process-safe
// membership bookkeeping.
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/apperrors"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/player"
	"github.com/headsoccer/matchserver/internal/protocol"
)

// Cache is the narrow persistence contract the connection manager needs to
// survive a process restart across a reconnect: store.RedisCache and
// store.MemoryCache satisfy this directly. Declared locally so this package
// never imports internal/store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

func sessionHintKey(playerID string) string { return "session:" + playerID }

// Socket is the narrow transport contract a connection manager drives; the
// concrete implementation wraps *websocket.Conn (teacher's dependency),
// kept behind this interface so the manager never imports gorilla directly.
type Socket interface {
	Send(frame []byte) error
	Close() error
	RemoteAddr() string
}

// Connection is one authenticated socket bound to a player.
type Connection struct {
	mu       sync.RWMutex
	socket   Socket
	playerID string
	roomID   string
	player   *player.Player
}

func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Counters is the observability surface named in spec §4.4.
type Counters struct {
	Current   int64
	Total     int64
	TimedOut  int64
	Reconnected int64
}

// Manager owns every authenticated socket (spec §4.4).
type Manager struct {
	mu          sync.RWMutex
	byPlayer    map[string]*Connection
	roomMembers map[string]map[string]bool // roomID -> set of playerIDs

	codec *protocol.Codec
	log   zerolog.Logger
	cache Cache

	maxConnections    int
	heartbeatInterval time.Duration
	connectionTimeout time.Duration
	reconnectGrace    time.Duration

	current     atomic.Int64
	total       atomic.Int64
	timedOut    atomic.Int64
	reconnected atomic.Int64
}

func New(maxConnections int, heartbeatInterval, connectionTimeout time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		byPlayer:          make(map[string]*Connection),
		roomMembers:       make(map[string]map[string]bool),
		codec:             protocol.NewCodec(),
		log:               log.With().Str("component", "connection_manager").Logger(),
		maxConnections:    maxConnections,
		heartbeatInterval: heartbeatInterval,
		connectionTimeout: connectionTimeout,
	}
}

// NewWithCache wires a Cache the manager uses to persist a playerID ->
// roomID session hint across a disconnect, so a reconnect after the
// in-memory *Connection has already been torn down (as opposed to a
// stale-socket takeover, which never loses it) still rejoins its room
// (spec §4.4/§4.8 reconnect-grace, DOMAIN STACK).
func NewWithCache(maxConnections int, heartbeatInterval, connectionTimeout, reconnectGrace time.Duration, cache Cache, log zerolog.Logger) *Manager {
	m := New(maxConnections, heartbeatInterval, connectionTimeout, log)
	m.cache = cache
	m.reconnectGrace = reconnectGrace
	return m
}

// Authenticate binds sock to p. If p already has a live connection, the new
// socket takes over: the prior socket is closed, room/queue membership
// transfers, and reconnected is reported true (spec §4.4). If p has no live
// connection but a session hint survives in Cache from a recent Disconnect,
// the hinted room is rejoined the same way.
func (m *Manager) Authenticate(p *player.Player, sock Socket) (reconnected bool, err error) {
	m.mu.Lock()
	if int64(len(m.byPlayer)) >= int64(m.maxConnections) {
		m.mu.Unlock()
		return false, apperrors.New(apperrors.KindAuth, "CAPACITY", "server is at connection capacity")
	}
	prior, hadPrior := m.byPlayer[p.ID()]
	m.mu.Unlock()

	var hintRoomID string
	if !hadPrior && m.cache != nil {
		hintRoomID, reconnected = m.loadSessionHint(p.ID())
	}

	conn := &Connection{socket: sock, playerID: p.ID(), player: p}
	switch {
	case hadPrior:
		conn.roomID = prior.RoomID()
	case reconnected:
		conn.roomID = hintRoomID
	}

	m.mu.Lock()
	m.byPlayer[p.ID()] = conn
	if conn.roomID != "" {
		m.addRoomMemberLocked(conn.roomID, p.ID())
	}
	m.mu.Unlock()

	if hadPrior {
		_ = prior.socket.Close()
	}

	if hadPrior || reconnected {
		if err := p.Reconnect(sock.RemoteAddr()); err != nil {
			m.log.Warn().Err(err).Str("player_id", p.ID()).Msg("reconnect with no prior session")
		}
		m.reconnected.Add(1)
		m.log.Info().Str("player_id", p.ID()).Bool("from_session_hint", !hadPrior).Msg("reconnected")
		return true, nil
	}

	p.Authenticate(sock.RemoteAddr())
	m.current.Add(1)
	m.total.Add(1)
	m.log.Info().Str("player_id", p.ID()).Msg("authenticated")
	return false, nil
}

// JoinRoom updates room membership for a player, leaving any previous room
// first (spec §4.4: "rejoin leaves previous first").
func (m *Manager) JoinRoom(playerID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byPlayer[playerID]
	if !ok {
		return
	}
	if c.RoomID() != "" {
		m.removeRoomMemberLocked(c.RoomID(), playerID)
	}
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
	m.addRoomMemberLocked(roomID, playerID)
}

// LeaveRoom clears a player's room membership.
func (m *Manager) LeaveRoom(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byPlayer[playerID]
	if !ok {
		return
	}
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
	m.removeRoomMemberLocked(roomID, playerID)
}

func (m *Manager) addRoomMemberLocked(roomID, playerID string) {
	set, ok := m.roomMembers[roomID]
	if !ok {
		set = make(map[string]bool)
		m.roomMembers[roomID] = set
	}
	set[playerID] = true
}

func (m *Manager) removeRoomMemberLocked(roomID, playerID string) {
	set, ok := m.roomMembers[roomID]
	if !ok {
		return
	}
	delete(set, playerID)
	if len(set) == 0 {
		delete(m.roomMembers, roomID)
	}
}

// Disconnect marks a connection gone: closes its socket, removes it from
// the registry, and demotes the player. Room/queue membership is left
// intact in the in-memory registry for a within-grace reconnect; when a
// Cache is wired, the room id is also saved there so a reconnect after this
// *Connection has already been torn down can still find it.
func (m *Manager) Disconnect(playerID, reason string) {
	m.mu.Lock()
	c, ok := m.byPlayer[playerID]
	if ok {
		delete(m.byPlayer, playerID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if roomID := c.RoomID(); roomID != "" && m.cache != nil {
		m.saveSessionHint(playerID, roomID)
	}
	_ = c.socket.Close()
	if c.player != nil {
		c.player.MarkDisconnected()
	}
	m.current.Add(-1)
	m.log.Info().Str("player_id", playerID).Str("reason", reason).Msg("disconnected")
}

func (m *Manager) saveSessionHint(playerID, roomID string) {
	if err := m.cache.Set(context.Background(), sessionHintKey(playerID), roomID, m.reconnectGrace); err != nil {
		m.log.Warn().Err(err).Str("player_id", playerID).Msg("save session hint")
	}
}

func (m *Manager) loadSessionHint(playerID string) (string, bool) {
	roomID, ok, err := m.cache.Get(context.Background(), sessionHintKey(playerID))
	if err != nil || !ok || roomID == "" {
		return "", false
	}
	return roomID, true
}

// sendFrame encodes and dispatches one event/payload pair to sock,
// swallowing send errors (the write pump already logs transport failures;
// a dead socket is reaped by the heartbeat, not by this call).
func (m *Manager) sendFrame(sock Socket, t events.Type, payload map[string]any) {
	frame, err := m.codec.Encode(t, payload, time.Now().UnixMilli())
	if err != nil {
		m.log.Error().Err(err).Str("type", string(t)).Msg("encode outbound frame")
		return
	}
	_ = sock.Send(frame)
}

// SendToPlayer implements events.Broadcaster.
func (m *Manager) SendToPlayer(playerID string, t events.Type, payload map[string]any) {
	m.mu.RLock()
	c, ok := m.byPlayer[playerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.sendFrame(c.socket, t, payload)
}

// SendToRoom implements events.Broadcaster: fans out to every socket
// currently mapped to roomID, skipping excludePlayerID when set.
func (m *Manager) SendToRoom(roomID string, t events.Type, payload map[string]any, excludePlayerID string) {
	m.mu.RLock()
	members := m.roomMembers[roomID]
	targets := make([]Socket, 0, len(members))
	for pid := range members {
		if pid == excludePlayerID {
			continue
		}
		if c, ok := m.byPlayer[pid]; ok {
			targets = append(targets, c.socket)
		}
	}
	m.mu.RUnlock()

	for _, sock := range targets {
		m.sendFrame(sock, t, payload)
	}
}

// SendToAll implements events.Broadcaster: fans out to every authenticated
// socket.
func (m *Manager) SendToAll(t events.Type, payload map[string]any) {
	m.mu.RLock()
	targets := make([]Socket, 0, len(m.byPlayer))
	for _, c := range m.byPlayer {
		targets = append(targets, c.socket)
	}
	m.mu.RUnlock()

	for _, sock := range targets {
		m.sendFrame(sock, t, payload)
	}
}

// Touch records activity on a player's connection, resetting its heartbeat
// clock.
func (m *Manager) Touch(playerID string) {
	m.mu.RLock()
	c, ok := m.byPlayer[playerID]
	m.mu.RUnlock()
	if ok && c.player != nil {
		c.player.Touch()
	}
}

// Counters returns a snapshot of the connection counters.
func (m *Manager) Counters() Counters {
	return Counters{
		Current:     m.current.Load(),
		Total:       m.total.Load(),
		TimedOut:    m.timedOut.Load(),
		Reconnected: m.reconnected.Load(),
	}
}

// Heartbeat periodically checks every connected player and force-closes any
// socket whose player has been inactive past connectionTimeout (spec §4.4).
// Pinging itself is the transport's job (the websocket read/write pump
// sends the actual ping frame); this loop only evaluates the timeout.
func (m *Manager) Heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepTimeouts()
		}
	}
}

func (m *Manager) sweepTimeouts() {
	cutoff := time.Now().Add(-m.connectionTimeout)

	m.mu.RLock()
	var stale []string
	for pid, c := range m.byPlayer {
		if c.player != nil && c.player.LastActivity().Before(cutoff) {
			stale = append(stale, pid)
		}
	}
	m.mu.RUnlock()

	for _, pid := range stale {
		m.timedOut.Add(1)
		m.Disconnect(pid, "TIMEOUT")
	}
}
