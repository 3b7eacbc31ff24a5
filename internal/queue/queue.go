// Package queue implements the Matchmaker (C6): a skill-tolerant FIFO queue
// that pairs waiting players into rooms. Grounded on the teacher's
// matchmaker.go (single mutex guarding a map, generate-id-and-start-room
// pattern) generalized from "any open room" matching to skill/mode/region
// paired matching per spec §4.6.
package queue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/apperrors"
	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/player"
)

// Entry is a QueueEntry (spec §3): one waiting player plus matchmaking
// metadata. Tolerance grows the longer the player waits.
type Entry struct {
	Player    *player.Player
	Mode      domain.GameMode
	Region    string
	JoinedAt  time.Time
	Tolerance int
}

// Pair is the result of a successful pairing pass.
type Pair struct {
	A, B          *Entry
	RoomID        string
	AverageElo    float64
	EloDifference float64
}

// RoomOpener is invoked once a pair is formed; the matchmaker itself knows
// nothing about Room internals (spec §9: components are glued through
// narrow interfaces, not shared structs).
type RoomOpener func(pair Pair)

// Matchmaker owns the queue (spec §5: mutated only from within a
// matchmaker task).
type Matchmaker struct {
	mu      sync.Mutex
	entries map[string]*Entry // playerID -> entry, invariant: at most one entry per player
	order   []string          // playerIDs in joined-at order

	cfg    config.MatchmakerConfig
	log    zerolog.Logger
	onPair RoomOpener

	roomCount int // number of rooms currently attributed to this matchmaker
}

// New creates a Matchmaker bound to cfg. onPair is called synchronously
// from within Enqueue/Pass whenever a pair forms.
func New(cfg config.MatchmakerConfig, log zerolog.Logger, onPair RoomOpener) *Matchmaker {
	return &Matchmaker{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		log:     log.With().Str("component", "matchmaker").Logger(),
		onPair:  onPair,
	}
}

// Enqueue adds a player to the queue. Duplicate insertion is rejected.
// Runs a pairing pass immediately afterward (spec §4.6: "invoked
// periodically and on every enqueue").
func (m *Matchmaker) Enqueue(p *player.Player, mode domain.GameMode, region string) error {
	m.mu.Lock()
	if _, exists := m.entries[p.ID()]; exists {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindMatchmaking, "ALREADY_QUEUED", "already in queue")
	}
	if len(m.entries) >= m.cfg.MaxQueueSize {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindMatchmaking, "QUEUE_FULL", "matchmaking queue is full")
	}

	e := &Entry{
		Player:    p,
		Mode:      mode,
		Region:    region,
		JoinedAt:  time.Now(),
		Tolerance: m.cfg.SkillTolerance,
	}
	m.entries[p.ID()] = e
	m.order = append(m.order, p.ID())
	m.mu.Unlock()

	p.EnterQueue()
	m.log.Info().Str("player_id", p.ID()).Str("mode", string(mode)).Msg("player enqueued")

	m.Pass()
	return nil
}

// EnqueueAtHead re-inserts a player at the front of the FIFO order rather
// than the back, used when a confirmed ready-up partner must be
// re-queued ahead of everyone who was already waiting (spec §4.7).
func (m *Matchmaker) EnqueueAtHead(p *player.Player, mode domain.GameMode, region string) error {
	m.mu.Lock()
	if _, exists := m.entries[p.ID()]; exists {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindMatchmaking, "ALREADY_QUEUED", "already in queue")
	}
	if len(m.entries) >= m.cfg.MaxQueueSize {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindMatchmaking, "QUEUE_FULL", "matchmaking queue is full")
	}

	e := &Entry{
		Player:    p,
		Mode:      mode,
		Region:    region,
		JoinedAt:  time.Now(),
		Tolerance: m.cfg.SkillTolerance,
	}
	m.entries[p.ID()] = e
	m.order = append([]string{p.ID()}, m.order...)
	m.mu.Unlock()

	p.EnterQueue()
	m.log.Info().Str("player_id", p.ID()).Str("mode", string(mode)).Msg("player re-enqueued at head")

	m.Pass()
	return nil
}

// Dequeue removes a player's entry (leave_queue, or internal cleanup).
func (m *Matchmaker) Dequeue(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(playerID)
}

func (m *Matchmaker) removeLocked(playerID string) bool {
	e, ok := m.entries[playerID]
	if !ok {
		return false
	}
	delete(m.entries, playerID)
	for i, id := range m.order {
		if id == playerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	e.Player.LeaveQueue()
	return true
}

// PositionOf returns the 0-based FIFO position of a player, or -1.
func (m *Matchmaker) PositionOf(playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.order {
		if id == playerID {
			return i
		}
	}
	return -1
}

// Stats is the aggregate queue snapshot for observability.
type Stats struct {
	QueueSize int
	RoomCount int
}

func (m *Matchmaker) SnapshotStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{QueueSize: len(m.order), RoomCount: m.roomCount}
}

// NotifyRoomOpened/NotifyRoomClosed let owners outside the matchmaker keep
// its room counter (used for MaxConcurrentRooms and SnapshotStats) accurate
// without the matchmaker reaching into room internals.
func (m *Matchmaker) NotifyRoomOpened() {
	m.mu.Lock()
	m.roomCount++
	m.mu.Unlock()
}

func (m *Matchmaker) NotifyRoomClosed() {
	m.mu.Lock()
	if m.roomCount > 0 {
		m.roomCount--
	}
	m.mu.Unlock()
}

// Pass scans the queue oldest-first and pairs compatible entries (spec
// §4.6). Also expires entries past MaxWaitTime and purges disconnected
// players, matching "Entries whose wait exceeds maxWaitTime are expired"
// and "Disconnected players are purged on each pass."
func (m *Matchmaker) Pass() {
	m.mu.Lock()

	now := time.Now()
	var expired []string
	var purged []string

	// Grow tolerance and collect expirations/purges in joined-at order.
	ordered := make([]*Entry, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if e == nil {
			continue
		}
		if !e.Player.Connected() {
			purged = append(purged, id)
			continue
		}
		waited := now.Sub(e.JoinedAt)
		if waited > m.cfg.MaxWaitTime {
			expired = append(expired, id)
			continue
		}
		if m.cfg.ToleranceStep > 0 {
			steps := int(waited / m.cfg.ToleranceStep)
			e.Tolerance = m.cfg.SkillTolerance + steps*m.cfg.SkillToleranceIncrease
		}
		ordered = append(ordered, e)
	}

	for _, id := range expired {
		m.removeLocked(id)
	}
	for _, id := range purged {
		m.removeLocked(id)
	}

	var pairs []Pair
	paired := make(map[string]bool)

	for i, a := range ordered {
		if m.cfg.MaxConcurrentRooms > 0 && m.roomCount+len(pairs) >= m.cfg.MaxConcurrentRooms {
			break
		}
		if paired[a.Player.ID()] {
			continue
		}
		bestIdx := -1
		for j := i + 1; j < len(ordered); j++ {
			b := ordered[j]
			if paired[b.Player.ID()] {
				continue
			}
			if a.Mode != b.Mode {
				continue
			}
			if a.Region != "" && b.Region != "" && a.Region != b.Region {
				continue
			}
			tol := a.Tolerance
			if b.Tolerance < tol {
				tol = b.Tolerance
			}
			diff := math.Abs(float64(a.Player.Rating() - b.Player.Rating()))
			if diff <= float64(tol) {
				bestIdx = j
				break
			}
		}
		if bestIdx == -1 {
			continue
		}
		b := ordered[bestIdx]
		paired[a.Player.ID()] = true
		paired[b.Player.ID()] = true

		avgElo := float64(a.Player.Rating()+b.Player.Rating()) / 2.0
		eloDiff := math.Abs(float64(a.Player.Rating() - b.Player.Rating()))

		pairs = append(pairs, Pair{
			A:             a,
			B:             b,
			RoomID:        uuid.NewString(),
			AverageElo:    avgElo,
			EloDifference: eloDiff,
		})
	}

	for _, pr := range pairs {
		m.removeLocked(pr.A.Player.ID())
		m.removeLocked(pr.B.Player.ID())
	}

	m.mu.Unlock()

	for _, id := range expired {
		m.log.Info().Str("player_id", id).Msg("queue_timeout")
	}
	for _, pr := range pairs {
		m.log.Info().
			Str("room_id", pr.RoomID).
			Str("player_a", pr.A.Player.ID()).
			Str("player_b", pr.B.Player.ID()).
			Float64("avg_elo", pr.AverageElo).
			Float64("elo_diff", pr.EloDifference).
			Msg("match_created")
		if m.onPair != nil {
			m.onPair(pr)
		}
	}
}

// Run starts a periodic pairing pass loop; ctx cancellation stops it (spec
// §9: teacher's ticker-goroutine pattern generalized to context-cancelable).
func (m *Matchmaker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pass()
		}
	}
}
