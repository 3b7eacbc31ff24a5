// Package room implements the Room / Game Session (C8): the per-match state
// machine and authoritative 60Hz physics tick loop, grounded on the
// teacher's Room (one goroutine per room, RWMutex-guarded player/state
// access, a physics ticker plus a slower broadcast ticker) generalized from
// racing-car kinematics to head-soccer kinematics, scoring, and the
// WAITING/READY/PLAYING/PAUSED/FINISHED state machine of spec §4.8.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/events"
)

// maxEventLogEntries bounds the per-room append-only event log (spec §3:
// "event log (append-only, bounded)").
const maxEventLogEntries = 500

// LogEntry is one append-only record of a notable room event.
type LogEntry struct {
	At   time.Time
	Kind string
	Data map[string]any
}

// TerminalFunc is invoked exactly once when a room reaches a terminal
// condition; the receiver (C10) takes exclusive ownership from there.
type TerminalFunc func(r *Room, reason domain.EndReason)

// Room is one match's authoritative state machine and physics owner.
type Room struct {
	mu sync.RWMutex

	ID   string
	Mode domain.GameMode

	LeftPlayerID  string
	RightPlayerID string
	leftReady     bool
	rightReady    bool

	state domain.RoomState
	world *WorldState

	startTime    time.Time
	lastTickTime time.Time
	scoreLimit   int
	timeLimit    time.Duration

	pauseDeadline    time.Time
	pausedFor        domain.Role
	adverseRole      domain.Role // side that last disconnected or forfeited
	bothDisconnected bool        // set when the other side also drops while already paused

	AverageElo    float64
	EloDifference float64
	LeftRating    int
	RightRating   int
	forcedEnd     bool

	log     []LogEntry
	bus     events.Broadcaster
	onEnd   TerminalFunc
	logger  zerolog.Logger
	cfg     config.RoomConfig

	goalCooldownTicks int
	broadcastDivisor  uint64

	stopCh  chan struct{}
	stopped bool
}

// New creates a room in the WAITING state. The room is not ticking until
// StartGame is called.
func New(id string, mode domain.GameMode, leftID, rightID string, leftRating, rightRating int, avgElo, eloDiff float64, bus events.Broadcaster, onEnd TerminalFunc, cfg config.RoomConfig, logger zerolog.Logger) *Room {
	return &Room{
		ID:                id,
		Mode:              mode,
		LeftPlayerID:      leftID,
		RightPlayerID:     rightID,
		state:             domain.RoomWaiting,
		world:             NewWorldState(),
		scoreLimit:        config.ScoreLimitForMode(string(mode)),
		timeLimit:         config.TimeLimitForMode(string(mode)),
		AverageElo:        avgElo,
		EloDifference:     eloDiff,
		LeftRating:        leftRating,
		RightRating:       rightRating,
		bus:               bus,
		onEnd:             onEnd,
		logger:            logger.With().Str("component", "room").Str("room_id", id).Logger(),
		cfg:               cfg,
		goalCooldownTicks: int(cfg.GoalCooldown.Seconds() * float64(config.PhysicsTickRate)),
		broadcastDivisor:  uint64(config.BroadcastDivisor),
		stopCh:            make(chan struct{}),
	}
}

// State returns the current room state.
func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Score returns the current score.
func (r *Room) Score() domain.Score {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.Score
}

// LastToucher returns the side whose body most recently collided with the
// ball, or RoleNone if nobody has touched it since the last kickoff.
func (r *Room) LastToucher() domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.LastToucher
}

// ConfirmReady marks a side as having confirmed the ready-up window. When
// both sides have confirmed, the room transitions WAITING -> READY.
func (r *Room) ConfirmReady(role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch role {
	case domain.RoleLeft:
		r.leftReady = true
	case domain.RoleRight:
		r.rightReady = true
	}
	if r.leftReady && r.rightReady && r.state == domain.RoomWaiting {
		r.state = domain.RoomReady
		r.appendLogLocked("ready", nil)
	}
}

// StartGame transitions READY -> PLAYING and begins the tick loop.
func (r *Room) StartGame(ctx context.Context) {
	r.mu.Lock()
	if r.state != domain.RoomReady {
		r.mu.Unlock()
		return
	}
	r.state = domain.RoomPlaying
	r.startTime = time.Now()
	r.lastTickTime = r.startTime
	r.appendLogLocked("start_game", nil)
	r.mu.Unlock()

	go r.runLoop(ctx)
}

// runLoop is the per-room goroutine: a 60Hz physics ticker plus a
// broadcast every third tick (spec §4.8 step 7).
func (r *Room) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(config.PhysicsTickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.onTick()
		}
	}
}

func (r *Room) onTick() {
	r.mu.Lock()

	if r.state != domain.RoomPlaying {
		if r.state == domain.RoomPaused && !r.pauseDeadline.IsZero() && time.Now().After(r.pauseDeadline) {
			r.autoResolvePauseLocked()
		}
		r.mu.Unlock()
		return
	}

	r.world.tick()
	r.lastTickTime = time.Now()

	if r.world.GoalCooldownTicks == 0 {
		if r.checkAndApplyGoalLocked() {
			r.mu.Unlock()
			return
		}
	}

	reason, terminal := r.checkTerminalLocked()

	shouldBroadcast := r.world.Tick%r.broadcastDivisor == 0
	snap := r.world.ToSnapshot()
	roomID := r.ID
	r.mu.Unlock()

	if shouldBroadcast && r.bus != nil {
		r.bus.SendToRoom(roomID, events.TypeSnapshot, map[string]any{"snapshot": snap}, "")
	}

	if terminal {
		r.End(reason)
	}
}

// checkAndApplyGoalLocked detects a goal, updates score, logs it, and
// starts the goal cooldown. Caller holds the write lock.
func (r *Room) checkAndApplyGoalLocked() bool {
	var scorer domain.Role
	switch {
	case r.world.checkGoal(domain.RoleLeft):
		scorer = domain.RoleRight
	case r.world.checkGoal(domain.RoleRight):
		scorer = domain.RoleLeft
	default:
		return false
	}

	switch scorer {
	case domain.RoleLeft:
		r.world.Score.Left++
	case domain.RoleRight:
		r.world.Score.Right++
	}
	r.world.GoalCooldownTicks = r.goalCooldownTicks
	r.appendLogLocked("goal", map[string]any{"scorer": string(scorer), "score": r.world.Score})

	roomID := r.ID
	score := r.world.Score
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.SendToRoom(roomID, events.TypeGoalScored, map[string]any{
			"scorer": string(scorer),
			"score":  score,
		}, "")
	}
	r.mu.Lock()
	return true
}

// checkTerminalLocked reports whether a terminal condition has been
// reached (spec §4.8 step 6). Caller holds the write lock.
func (r *Room) checkTerminalLocked() (domain.EndReason, bool) {
	if r.scoreLimit > 0 && (r.world.Score.Left >= r.scoreLimit || r.world.Score.Right >= r.scoreLimit) {
		return domain.ReasonScoreLimit, true
	}
	if r.timeLimit > 0 && time.Since(r.startTime) >= r.timeLimit {
		return domain.ReasonTimeLimit, true
	}
	return "", false
}

// ApplyInput merges the latest input for a side (spec §4.8 step 1).
func (r *Room) ApplyInput(role domain.Role, in Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	body := r.world.bodyFor(role)
	if body == nil {
		return
	}
	if in.SequenceID != 0 && in.SequenceID <= body.LastSequence {
		return // stale input for a past tick, discarded not replayed
	}
	body.LastInput = in
	body.LastSequence = in.SequenceID
}

// Pause suspends the tick loop (spec §4.8: "on any disconnect while
// PLAYING"). disconnected identifies which side dropped, for auto-resume
// bookkeeping.
func (r *Room) Pause(disconnected domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.RoomPaused {
		// A second, different side dropping while already paused means
		// neither player is connected (spec §8 scenario 4).
		if r.pausedFor != domain.RoleNone && r.pausedFor != disconnected {
			r.bothDisconnected = true
			r.appendLogLocked("pause", map[string]any{"disconnected": string(disconnected), "both_disconnected": true})
		}
		return
	}
	if r.state != domain.RoomPlaying {
		return
	}
	r.state = domain.RoomPaused
	r.pausedFor = disconnected
	r.adverseRole = disconnected
	r.pauseDeadline = time.Now().Add(r.cfg.PauseTimeout)
	r.appendLogLocked("pause", map[string]any{"disconnected": string(disconnected)})
	if r.bus != nil {
		r.bus.SendToRoom(r.ID, events.TypeGamePaused, map[string]any{"disconnected": string(disconnected)}, "")
	}
}

// Resume reconnects a paused room to PLAYING, refreshing lastTickTime so
// the elapsed-time clock does not count the pause (spec §4.8).
func (r *Room) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.RoomPaused {
		return
	}
	pausedDuration := time.Since(r.lastTickTime)
	r.startTime = r.startTime.Add(pausedDuration)
	r.state = domain.RoomPlaying
	r.pausedFor = domain.RoleNone
	r.bothDisconnected = false
	r.pauseDeadline = time.Time{}
	r.lastTickTime = time.Now()
	r.appendLogLocked("resume", nil)
	if r.bus != nil {
		r.bus.SendToRoom(r.ID, events.TypeGameResumed, nil, "")
	}
}

// autoResolvePauseLocked runs when pauseTimeout elapses without a
// reconnect: the room proceeds to FINISHED via the disconnect reason.
// Caller holds the write lock.
func (r *Room) autoResolvePauseLocked() {
	r.mu.Unlock()
	r.End(domain.ReasonDisconnect)
	r.mu.Lock()
}

// Forfeit ends the match immediately with the given side forfeiting.
func (r *Room) Forfeit(forfeiter domain.Role) {
	r.mu.Lock()
	r.adverseRole = forfeiter
	r.appendLogLocked("forfeit", map[string]any{"forfeiter": string(forfeiter)})
	r.mu.Unlock()
	r.End(domain.ReasonForfeit)
}

// AdverseRole returns the side that most recently disconnected or
// forfeited, or RoleNone if neither has happened. Used by the Game-End
// Processor to attribute the winner on forfeit/disconnect endings.
func (r *Room) AdverseRole() domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adverseRole
}

// BothDisconnected reports whether neither player was connected when the
// room's pause grace expired (spec §8 scenario 4).
func (r *Room) BothDisconnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bothDisconnected
}

// End transitions the room to FINISHED and invokes the terminal callback
// exactly once (spec §4.10: "guarded so duplicate calls are no-ops").
func (r *Room) End(reason domain.EndReason) {
	r.mu.Lock()
	if r.state == domain.RoomFinished {
		r.mu.Unlock()
		return
	}
	r.state = domain.RoomFinished
	r.appendLogLocked("end", map[string]any{"reason": string(reason)})
	close(r.stopCh)
	r.stopped = true
	r.mu.Unlock()

	if r.onEnd != nil {
		r.onEnd(r, reason)
	}
}

// Snapshot returns a copy of the world state for reporting/persistence.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.ToSnapshot()
}

// Elapsed returns time since the match started.
func (r *Room) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.startTime.IsZero() {
		return 0
	}
	return time.Since(r.startTime)
}

// MarkForced records that the room was ended by operator/administrative
// action rather than gameplay, for Result.metadata.
func (r *Room) MarkForced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forcedEnd = true
}

func (r *Room) appendLogLocked(kind string, data map[string]any) {
	r.log = append(r.log, LogEntry{At: time.Now(), Kind: kind, Data: data})
	if len(r.log) > maxEventLogEntries {
		r.log = r.log[len(r.log)-maxEventLogEntries:]
	}
}

// EventLog returns a copy of the bounded event log.
func (r *Room) EventLog() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LogEntry, len(r.log))
	copy(out, r.log)
	return out
}
