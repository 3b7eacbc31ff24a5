// Package player implements the Player entity (C1): identity, connection
// status, and the per-session state machine. Thread-safety mirrors the
// teacher's Player: an internal RWMutex guards every field, and callers get
// point-in-time snapshots rather than direct field access.
package player

import (
	"sync"
	"time"

	"github.com/headsoccer/matchserver/internal/apperrors"
	"github.com/headsoccer/matchserver/internal/domain"
)

// Snapshot is a point-in-time, lock-free copy of a Player's state.
type Snapshot struct {
	ID            string
	DisplayName   string
	Status        domain.PlayerStatus
	Role          domain.Role
	Rating        int
	Connected     bool
	SocketID      string
	Ready         bool
	JoinedAt      time.Time
	LastActivity  time.Time
	ReconnectCount int
}

// Player is a connected (or recently disconnected) participant. A Player is
// mutated only by its owning component: the connection manager owns the
// connection fields, and whichever of {queue entry, room} currently owns
// the player owns the session fields (spec §5).
type Player struct {
	mu sync.RWMutex

	id          string
	displayName string
	rating      int

	socketID     string
	connected    bool
	lastActivity time.Time
	reconnects   int

	status   domain.PlayerStatus
	role     domain.Role
	ready    bool
	joinedAt time.Time

	hasRoom  bool
	hasQueue bool
}

// New creates a Player in IDLE status with the default 1200 rating.
func New(id, displayName string) *Player {
	now := time.Now()
	return &Player{
		id:           id,
		displayName:  displayName,
		rating:       1200,
		status:       domain.StatusIdle,
		role:         domain.RoleNone,
		lastActivity: now,
	}
}

func (p *Player) ID() string { return p.id }

// Snapshot returns a thread-safe copy of current state.
func (p *Player) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		ID:             p.id,
		DisplayName:    p.displayName,
		Status:         p.status,
		Role:           p.role,
		Rating:         p.rating,
		Connected:      p.connected,
		SocketID:       p.socketID,
		Ready:          p.ready,
		JoinedAt:       p.joinedAt,
		LastActivity:   p.lastActivity,
		ReconnectCount: p.reconnects,
	}
}

func (p *Player) Rating() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rating
}

func (p *Player) SetRating(r int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rating = r
}

// Touch updates last-activity, used by the heartbeat and on any inbound
// message.
func (p *Player) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = time.Now()
}

func (p *Player) LastActivity() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActivity
}

// SetReady sets the ready flag (used during the C7 ready-up window).
func (p *Player) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

func (p *Player) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// AssignRole assigns a side once. Returns AlreadyAssigned if the player
// already has a role.
func (p *Player) AssignRole(role domain.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != domain.RoleNone {
		return apperrors.AlreadyAssigned
	}
	p.role = role
	return nil
}

func (p *Player) Role() domain.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// ResetRole clears role and readiness, used when a room tears down.
func (p *Player) ResetRole() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = domain.RoleNone
	p.ready = false
}

// EnterQueue transitions IDLE -> IN_QUEUE.
func (p *Player) EnterQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = domain.StatusInQueue
	p.hasQueue = true
	p.joinedAt = time.Now()
}

// LeaveQueue clears queue membership (cancel, timeout, or pairing).
func (p *Player) LeaveQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasQueue = false
	if p.status == domain.StatusInQueue {
		p.status = domain.StatusIdle
	}
}

// EnterRoom transitions IN_QUEUE -> IN_ROOM on match formation.
func (p *Player) EnterRoom() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasQueue = false
	p.hasRoom = true
	p.status = domain.StatusInRoom
}

// StartGame transitions IN_ROOM -> IN_GAME on room start.
func (p *Player) StartGame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = domain.StatusInGame
}

// LeaveRoom clears room membership and returns to IDLE.
func (p *Player) LeaveRoom() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasRoom = false
	p.status = domain.StatusIdle
	p.role = domain.RoleNone
	p.ready = false
}

// MarkDisconnected transitions any status -> DISCONNECTED. Queue/room
// ownership is left untouched so a reconnect within grace can resume it.
func (p *Player) MarkDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.status = domain.StatusDisconnected
}

// Reconnect rebinds the player to a new socket and returns it to whichever
// owner it had (room takes priority over queue). Fails with NoSessionFound
// if the player has neither.
func (p *Player) Reconnect(newSocketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasRoom && !p.hasQueue {
		return apperrors.NoSessionFound
	}

	p.socketID = newSocketID
	p.connected = true
	p.reconnects++
	p.lastActivity = time.Now()

	switch {
	case p.hasRoom:
		p.status = domain.StatusInRoom
	case p.hasQueue:
		p.status = domain.StatusInQueue
	}
	return nil
}

// Authenticate binds the player to its first socket.
func (p *Player) Authenticate(socketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.socketID = socketID
	p.connected = true
	p.lastActivity = time.Now()
}

func (p *Player) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Player) SocketID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.socketID
}

func (p *Player) Status() domain.PlayerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Player) InQueue() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasQueue
}

func (p *Player) InRoom() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasRoom
}
