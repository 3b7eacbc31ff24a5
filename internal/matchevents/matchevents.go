// Package matchevents implements Matchmaking Events (C7): the glue between
// client socket events and the Matchmaker, including the ready-up window
// opened on every pairing. Grounded on the teacher's matchmaker.go
// "FindRoom or create one" flow, generalized to a two-phase
// pair-then-confirm handshake per spec §4.7.
package matchevents

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/player"
	"github.com/headsoccer/matchserver/internal/queue"
)

// RoomFactory is invoked once both sides of a pair confirm ready-up; the
// caller (wiring code in main) is responsible for constructing and starting
// the actual room.Room.
type RoomFactory func(pair queue.Pair)

// pendingMatch tracks one pairing's ready-up window (spec §4.7: "opens a
// ready-up window (default 10s)").
type pendingMatch struct {
	pair       queue.Pair
	leftReady  bool
	rightReady bool
	timer      *time.Timer
}

// Handler wires Matchmaker pairings to the ready-up handshake and back to
// client-visible events.
type Handler struct {
	mm   *queue.Matchmaker
	bus  events.Broadcaster
	log  zerolog.Logger
	window time.Duration

	onConfirmed RoomFactory

	mu       sync.Mutex
	pending  map[string]*pendingMatch // roomID -> pendingMatch
	byPlayer map[string]string        // playerID -> roomID, while pending
}

func New(mm *queue.Matchmaker, bus events.Broadcaster, window time.Duration, onConfirmed RoomFactory, log zerolog.Logger) *Handler {
	h := &Handler{
		mm:          mm,
		bus:         bus,
		window:      window,
		onConfirmed: onConfirmed,
		log:         log.With().Str("component", "matchmaking_events").Logger(),
		pending:     make(map[string]*pendingMatch),
		byPlayer:    make(map[string]string),
	}
	return h
}

// OnPair is registered as the Matchmaker's RoomOpener: it opens the
// ready-up window and notifies both players.
func (h *Handler) OnPair(pair queue.Pair) {
	h.mu.Lock()
	pm := &pendingMatch{pair: pair}
	pm.timer = time.AfterFunc(h.window, func() { h.onTimeout(pair.RoomID) })
	h.pending[pair.RoomID] = pm
	h.byPlayer[pair.A.Player.ID()] = pair.RoomID
	h.byPlayer[pair.B.Player.ID()] = pair.RoomID
	h.mu.Unlock()

	pair.A.Player.EnterRoom()
	pair.B.Player.EnterRoom()

	h.bus.SendToPlayer(pair.A.Player.ID(), events.TypeMatchCreated, map[string]any{
		"roomId": pair.RoomID, "averageElo": pair.AverageElo, "eloDifference": pair.EloDifference,
	})
	h.bus.SendToPlayer(pair.B.Player.ID(), events.TypeMatchCreated, map[string]any{
		"roomId": pair.RoomID, "averageElo": pair.AverageElo, "eloDifference": pair.EloDifference,
	})
}

// JoinQueue handles a join_matchmaking event.
func (h *Handler) JoinQueue(p *player.Player, mode domain.GameMode, region string) error {
	return h.mm.Enqueue(p, mode, region)
}

// LeaveQueue handles a leave_matchmaking event.
func (h *Handler) LeaveQueue(playerID string) bool {
	return h.mm.Dequeue(playerID)
}

// ReadyUp handles a ready_up event during a pending match's window. When
// both sides confirm, the room is handed to C8 via onConfirmed.
func (h *Handler) ReadyUp(playerID string) {
	h.mu.Lock()
	roomID, ok := h.byPlayer[playerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	pm, ok := h.pending[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	switch playerID {
	case pm.pair.A.Player.ID():
		pm.leftReady = true
	case pm.pair.B.Player.ID():
		pm.rightReady = true
	}

	if !(pm.leftReady && pm.rightReady) {
		h.mu.Unlock()
		return
	}

	pm.timer.Stop()
	delete(h.pending, roomID)
	delete(h.byPlayer, pm.pair.A.Player.ID())
	delete(h.byPlayer, pm.pair.B.Player.ID())
	h.mu.Unlock()

	if h.onConfirmed != nil {
		h.onConfirmed(pm.pair)
	}
}

// onTimeout fires when the ready-up window elapses without both
// confirmations: the confirmed player is re-enqueued at the head of the
// queue, the other is marked queue-withdrawn (spec §4.7).
func (h *Handler) onTimeout(roomID string) {
	h.mu.Lock()
	pm, ok := h.pending[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.pending, roomID)
	delete(h.byPlayer, pm.pair.A.Player.ID())
	delete(h.byPlayer, pm.pair.B.Player.ID())
	h.mu.Unlock()

	a, b := pm.pair.A, pm.pair.B
	confirmed, withdrawn := a, b
	if pm.rightReady && !pm.leftReady {
		confirmed, withdrawn = b, a
	}

	confirmed.Player.LeaveRoom()
	confirmed.Player.ResetRole()
	withdrawn.Player.LeaveRoom()
	withdrawn.Player.ResetRole()

	if pm.leftReady || pm.rightReady {
		if err := h.mm.EnqueueAtHead(confirmed.Player, confirmed.Mode, confirmed.Region); err != nil {
			h.log.Warn().Err(err).Str("player_id", confirmed.Player.ID()).Msg("re-enqueue after ready-up timeout failed")
		}
		h.bus.SendToPlayer(withdrawn.Player.ID(), events.TypeQueueWithdrawn, map[string]any{"roomId": roomID})
		h.log.Info().Str("room_id", roomID).Str("confirmed", confirmed.Player.ID()).Str("withdrawn", withdrawn.Player.ID()).Msg("ready_up_timeout")
		return
	}

	// Neither confirmed: both go back to idle, neither is re-enqueued.
	h.bus.SendToPlayer(a.Player.ID(), events.TypeQueueWithdrawn, map[string]any{"roomId": roomID})
	h.bus.SendToPlayer(b.Player.ID(), events.TypeQueueWithdrawn, map[string]any{"roomId": roomID})
	h.log.Info().Str("room_id", roomID).Msg("ready_up_timeout_both_declined")
}
