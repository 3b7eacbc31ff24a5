// Package protocol implements the wire framing for client sockets: a single
// JSON envelope shape carrying an event type, a type-specific payload, and a
// timestamp, grounded on the teacher's network.Protocol (a dedicated codec
// type with Encode*/Decode* methods, one per message) but generalized from
// the teacher's fixed binary layout to JSON since the head-soccer wire
// contract (spec §6) is payload-shaped, not byte-packed.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/headsoccer/matchserver/internal/events"
)

// Envelope is the on-the-wire shape for every inbound and outbound message:
// {event, data, ts}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	TS    int64           `json:"ts"`
}

// Codec encodes/decodes Envelopes. A struct (rather than package functions)
// to match the teacher's Protocol type, even though it carries no state.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

// Decode parses a raw client frame into its event type, payload, and client
// timestamp.
func (c *Codec) Decode(raw []byte) (events.Type, map[string]any, int64, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, 0, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return "", nil, 0, fmt.Errorf("decode envelope: missing event field")
	}

	payload := map[string]any{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return "", nil, 0, fmt.Errorf("decode envelope data: %w", err)
		}
	}
	return events.Type(env.Event), payload, env.TS, nil
}

// Encode serializes an outbound event/payload pair into a wire frame.
func (c *Codec) Encode(t events.Type, payload map[string]any, ts int64) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode envelope data: %w", err)
	}
	return json.Marshal(Envelope{Event: string(t), Data: data, TS: ts})
}
