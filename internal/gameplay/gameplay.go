// Package gameplay implements Gameplay Events (C9): per-player input
// ingestion during an active match. Applies C3 validation to every movement
// claim, emitting a corrective snap-back payload on rejection, and forwards
// goal/forfeit/pause/resume/end-request events to the owning Room (C8) and
// Game-End Processor (C10). Grounded on the teacher's
// ClientConnection.handleInput (decode, forward-to-room, no branching
// beyond presence checks) generalized to the validated/corrected contract
// of spec §4.9.
package gameplay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/room"
	"github.com/headsoccer/matchserver/internal/validate"
)

// RoomLookup resolves a playerID to its active room and assigned role.
type RoomLookup func(playerID string) (r *room.Room, role domain.Role, ok bool)

// EndRequestFunc forwards a request_game_end vote to whatever component
// arbitrates mutual-agreement endings (wired to C10 by main).
type EndRequestFunc func(r *room.Room, playerID string)

// Handler ingests per-player events for rooms currently PLAYING.
type Handler struct {
	lookup RoomLookup
	bus    events.Broadcaster
	onEnd  EndRequestFunc
	log    zerolog.Logger

	mu   sync.Mutex
	last map[string]validate.LastAccepted // playerID -> last accepted movement
}

func New(lookup RoomLookup, bus events.Broadcaster, onEnd EndRequestFunc, log zerolog.Logger) *Handler {
	return &Handler{
		lookup: lookup,
		bus:    bus,
		onEnd:  onEnd,
		log:    log.With().Str("component", "gameplay_events").Logger(),
		last:   make(map[string]validate.LastAccepted),
	}
}

// MovementPayload is the decoded player_movement event body.
type MovementPayload struct {
	X, Y           float64
	VX, VY         float64
	Left, Right    bool
	Jump, Kick     bool
	SequenceID     uint64
	ClientTime     int64
	LatencyMillis  float64
}

// HandlePlayerMovement validates a movement claim and, if accepted, applies
// it to the room; on rejection it replies with a corrective payload so the
// client can snap back (spec §4.9).
func (h *Handler) HandlePlayerMovement(playerID string, mv MovementPayload) {
	r, role, ok := h.lookup(playerID)
	if !ok || r.State() != domain.RoomPlaying {
		return
	}

	h.mu.Lock()
	last := h.last[playerID]
	h.mu.Unlock()

	claim := validate.MovementClaim{
		Position:      validate.Vec2{X: mv.X, Y: mv.Y},
		Velocity:      validate.Vec2{X: mv.VX, Y: mv.VY},
		ClientTime:    mv.ClientTime,
		SequenceID:    mv.SequenceID,
		LatencyMillis: mv.LatencyMillis,
	}
	verdict := validate.ValidatePlayerMovement(claim, last)

	if !verdict.Accepted {
		if verdict.CorrectedPayload != nil {
			h.bus.SendToPlayer(playerID, events.TypeValidationError, map[string]any{
				"type":      string(events.TypePlayerMovement),
				"reason":    verdict.Reason,
				"corrected": verdict.CorrectedPayload,
			})
		}
		return
	}

	adjusted, lagHint := validate.LagCompensate(claim)

	r.ApplyInput(role, room.Input{
		Left: mv.Left, Right: mv.Right, Jump: mv.Jump, Kick: mv.Kick,
		SequenceID: mv.SequenceID,
	})

	h.mu.Lock()
	h.last[playerID] = validate.LastAccepted{
		Position:   adjusted,
		Time:       time.Now(),
		SequenceID: mv.SequenceID,
	}
	h.mu.Unlock()

	if lagHint != nil {
		h.bus.SendToPlayer(playerID, events.TypeLagCompensation, lagHint)
	}
}

// HandleGoalAttempt cross-checks a client-reported goal against the room's
// own authoritative state; the room already derives goals from physics
// each tick, so this is informational/anti-cheat logging only.
func (h *Handler) HandleGoalAttempt(playerID string, claim validate.GoalClaim) {
	r, _, ok := h.lookup(playerID)
	if !ok {
		return
	}
	claim.LastToucher = r.LastToucher()
	verdict := validate.ValidateGoal(claim)
	if !verdict.Accepted {
		h.log.Warn().Str("player_id", playerID).Str("reason", verdict.Reason).Msg("implausible goal_attempt claim")
	}
}

// HandleForfeitGame forwards a forfeit_game event to the owning room.
func (h *Handler) HandleForfeitGame(playerID string) {
	r, role, ok := h.lookup(playerID)
	if !ok {
		return
	}
	r.Forfeit(role)
}

// HandleRequestGameEnd forwards a mutual-agreement end request.
func (h *Handler) HandleRequestGameEnd(playerID string) {
	r, _, ok := h.lookup(playerID)
	if !ok || h.onEnd == nil {
		return
	}
	h.onEnd(r, playerID)
}

// HandlePauseRequest forwards a pause_request; the requesting side is passed
// to Room.Pause exactly as a dropped side would be, so it is named as the
// "disconnected" party in game_paused and, if the pause times out, it is
// the adverse side that loses the match.
func (h *Handler) HandlePauseRequest(playerID string) {
	r, role, ok := h.lookup(playerID)
	if !ok {
		return
	}
	r.Pause(role)
}

// HandleResumeRequest forwards a resume_request to the owning room.
func (h *Handler) HandleResumeRequest(playerID string) {
	r, _, ok := h.lookup(playerID)
	if !ok {
		return
	}
	r.Resume()
}

// ClearPlayer drops a player's movement history, called when they leave a
// room.
func (h *Handler) ClearPlayer(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, playerID)
}
