package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Broadcaster fans outbound events to sockets. The pipeline never touches a
// socket directly (spec §9: fan-out via a membership index, not a direct
// reference), it only calls through this narrow interface.
type Broadcaster interface {
	// SendToRoom fans out to every socket joined to roomID. excludePlayerID,
	// when non-empty, is skipped (used to omit the origin for input echoes).
	SendToRoom(roomID string, t Type, payload map[string]any, excludePlayerID string)
	SendToPlayer(playerID string, t Type, payload map[string]any)
	SendToAll(t Type, payload map[string]any)
}

// Handler applies an accepted event to game/matchmaking state. Supplied by
// whichever component owns that event type's semantics (C7, C8/C9, C4).
type Handler func(e Envelope)

// UnhealthyFunc is invoked when a room's CRITICAL queue would overflow
// (spec §5: "the room is marked unhealthy and forcibly ended").
type UnhealthyFunc func(roomID string)

// Pipeline is the Event Pipeline (C5).
type Pipeline struct {
	registry *Registry
	limiter  *RateLimiter
	bus      Broadcaster
	handler  Handler
	onUnhealthy UnhealthyFunc
	log      zerolog.Logger

	capPerQueue int

	mu     sync.Mutex
	cond   *sync.Cond
	queues [priorityCount][]Envelope
	closed bool

	seq atomic.Uint64

	// per-player latency bookkeeping (spec §4.5: "Processing wall-clock
	// latency per event and per-player latency estimates are recorded").
	latMu     sync.Mutex
	latencies map[string]time.Duration
}

// New creates a Pipeline. capPerQueue is the length at which each of the
// four priority sub-queues counts as full; an event for a full sub-queue is
// still appended when evictForLocked drops a LOW or NORMAL event for it, so
// a higher-priority sub-queue can grow past capPerQueue.
func New(registry *Registry, limiter *RateLimiter, bus Broadcaster, handler Handler, onUnhealthy UnhealthyFunc, capPerQueue int, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		registry:    registry,
		limiter:     limiter,
		bus:         bus,
		handler:     handler,
		onUnhealthy: onUnhealthy,
		capPerQueue: capPerQueue,
		log:         log.With().Str("component", "event_pipeline").Logger(),
		latencies:   make(map[string]time.Duration),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// NextSequence hands out a monotonically increasing sequence id for
// outbound envelopes.
func (p *Pipeline) NextSequence() uint64 { return p.seq.Add(1) }

// Ingest runs the full admission pipeline (spec §4.5 steps 1-5) for one
// inbound event. roomID, when non-empty, scopes CRITICAL-overflow handling
// to that room.
func (p *Pipeline) Ingest(origin, roomID string, t Type, payload map[string]any, clientTimestamp int64) {
	desc, ok := p.registry.Lookup(t)
	if !ok {
		p.bus.SendToPlayer(origin, TypeError, map[string]any{
			"reason":  "UNKNOWN_EVENT_TYPE",
			"message": "unrecognized event type",
		})
		return
	}

	if reasons := desc.Validate(payload); len(reasons) > 0 {
		p.bus.SendToPlayer(origin, TypeValidationError, map[string]any{
			"type":    string(t),
			"reasons": reasons,
		})
		return
	}

	if desc.RateLimit > 0 && origin != SystemOrigin {
		if !p.limiter.Allow(origin, t, desc.RateLimit) {
			p.bus.SendToPlayer(origin, TypeRateLimitExceeded, map[string]any{
				"type": string(t),
			})
			return
		}
	}

	if t == TypeChatMessage {
		if msg, ok := payload["message"].(string); ok {
			payload["message"] = SanitizeText(msg)
		}
	}

	env := Envelope{
		Type:             t,
		Payload:          payload,
		Priority:         desc.Priority,
		Origin:           origin,
		Target:           RoomTarget(roomID),
		ClientTimestamp:  clientTimestamp,
		EnqueueTimestamp: time.Now(),
		SequenceID:       p.NextSequence(),
		ExcludeOrigin:    isInputEcho(t),
	}

	p.enqueue(env, roomID)
}

// isInputEcho reports whether t is a raw client input relay, which excludes
// the origin socket on broadcast (spec §4.5/§9 open question resolved:
// input echoes exclude origin, authoritative state includes it).
func isInputEcho(t Type) bool {
	switch t {
	case TypePlayerMovement, TypeBallUpdate:
		return true
	default:
		return false
	}
}

// enqueue applies backpressure (spec §5): overflow drops LOW first, then
// NORMAL; CRITICAL is never silently dropped — if it cannot fit even after
// evicting LOW and NORMAL, the owning room is marked unhealthy.
func (p *Pipeline) enqueue(env Envelope, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	q := &p.queues[env.Priority]
	if len(*q) >= p.capPerQueue {
		if p.evictForLocked(env.Priority) {
			p.log.Warn().Str("type", string(env.Type)).Msg("backpressure: evicted lower-priority event")
			p.bus.SendToRoom(roomID, TypeBackpressure, map[string]any{"type": string(env.Type)}, "")
		} else if env.Priority == PriorityCritical {
			p.log.Error().Str("room_id", roomID).Msg("critical queue overflow, room marked unhealthy")
			if p.onUnhealthy != nil {
				p.onUnhealthy(roomID)
			}
			return
		} else {
			// queue stays full; drop this event rather than grow unbounded
			return
		}
	}

	*q = append(*q, env)
	p.cond.Signal()
}

// evictForLocked makes room for a higher-priority event by dropping one
// event from LOW, falling back to NORMAL. Caller holds p.mu.
func (p *Pipeline) evictForLocked(forPriority Priority) bool {
	if forPriority >= PriorityLow {
		return false
	}
	if len(p.queues[PriorityLow]) > 0 {
		p.queues[PriorityLow] = p.queues[PriorityLow][1:]
		return true
	}
	if forPriority < PriorityNormal && len(p.queues[PriorityNormal]) > 0 {
		p.queues[PriorityNormal] = p.queues[PriorityNormal][1:]
		return true
	}
	return false
}

// Run drains queues in strict priority order until ctx is cancelled: a
// cooperative worker that fully empties CRITICAL before touching HIGH,
// HIGH before NORMAL, NORMAL before LOW, then sleeps until the next
// enqueue (spec §4.5 "Processing").
func (p *Pipeline) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	for {
		env, ok := p.popNext()
		if !ok {
			return
		}
		start := time.Now()
		p.handler(env)
		p.recordLatency(env.Origin, time.Since(start))
	}
}

func (p *Pipeline) popNext() (Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for pr := PriorityCritical; pr < priorityCount; pr++ {
			if len(p.queues[pr]) > 0 {
				env := p.queues[pr][0]
				p.queues[pr] = p.queues[pr][1:]
				return env, true
			}
		}
		if p.closed {
			return Envelope{}, false
		}
		p.cond.Wait()
	}
}

func (p *Pipeline) recordLatency(playerID string, d time.Duration) {
	if playerID == "" || playerID == SystemOrigin {
		return
	}
	p.latMu.Lock()
	p.latencies[playerID] = d
	p.latMu.Unlock()
}

// LatencyOf returns the most recent processing latency recorded for a
// player. The lag-compensation hint does not use it: that hint is built
// from the latency carried in the player_movement payload.
func (p *Pipeline) LatencyOf(playerID string) time.Duration {
	p.latMu.Lock()
	defer p.latMu.Unlock()
	return p.latencies[playerID]
}
