package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu   sync.Mutex
	sent []string
}

func (b *recordingBus) SendToRoom(roomID string, t Type, payload map[string]any, excludePlayerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, string(t))
}

func (b *recordingBus) SendToPlayer(playerID string, t Type, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, string(t))
}

func (b *recordingBus) SendToAll(t Type, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, string(t))
}

func (b *recordingBus) contains(t Type) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sent {
		if s == string(t) {
			return true
		}
	}
	return false
}

func TestIngestRejectsUnknownEventType(t *testing.T) {
	bus := &recordingBus{}
	p := New(NewRegistry(), NewRateLimiter(), bus, func(Envelope) {}, nil, 16, zerolog.Nop())

	p.Ingest("p1", "", Type("bogus"), map[string]any{}, 0)
	assert.True(t, bus.contains(TypeError))
}

func TestIngestRejectsPayloadFailingSchema(t *testing.T) {
	bus := &recordingBus{}
	p := New(NewRegistry(), NewRateLimiter(), bus, func(Envelope) {}, nil, 16, zerolog.Nop())

	p.Ingest("p1", "", TypeReadyUp, map[string]any{"ready": "not-a-bool"}, 0)
	assert.True(t, bus.contains(TypeValidationError))
}

func TestIngestRateLimitsPerPlayer(t *testing.T) {
	bus := &recordingBus{}
	p := New(NewRegistry(), NewRateLimiter(), bus, func(Envelope) {}, nil, 16, zerolog.Nop())

	for i := 0; i < 3; i++ {
		p.Ingest("p1", "", TypeForfeitGame, map[string]any{}, 0)
	}
	assert.True(t, bus.contains(TypeRateLimitExceeded), "forfeit_game is rate-limited to 2/s")
}

func TestIngestSanitizesChatMessage(t *testing.T) {
	bus := &recordingBus{}
	var mu sync.Mutex
	var got Envelope
	p := New(NewRegistry(), NewRateLimiter(), bus, func(e Envelope) {
		mu.Lock()
		got = e
		mu.Unlock()
	}, nil, 16, zerolog.Nop())

	payload := map[string]any{"message": "<b>hi</b>"}
	p.Ingest("p1", "room-1", TypeChatMessage, payload, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hi", got.Payload["message"])
}

func TestPopNextDrainsStrictPriorityOrder(t *testing.T) {
	bus := &recordingBus{}
	var order []Type
	var mu sync.Mutex
	p := New(NewRegistry(), NewRateLimiter(), bus, func(e Envelope) {
		mu.Lock()
		order = append(order, e.Type)
		mu.Unlock()
	}, nil, 16, zerolog.Nop())

	p.Ingest("p1", "", TypeChatMessage, map[string]any{"message": "hi"}, 0)     // LOW
	p.Ingest("p2", "", TypePlayerMovement, map[string]any{                     // NORMAL
		"position": map[string]any{"x": 0.0, "y": 0.0}, "velocity": map[string]any{"x": 0.0, "y": 0.0},
		"timestamp": float64(0), "sequenceId": float64(1),
	}, 0)
	p.Ingest("p3", "", TypeReadyUp, map[string]any{"ready": true}, 0) // CRITICAL

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, TypeReadyUp, order[0], "CRITICAL drains before HIGH/NORMAL/LOW")
	assert.Equal(t, TypePlayerMovement, order[1], "NORMAL drains before LOW")
	assert.Equal(t, TypeChatMessage, order[2])
}
