package events

import "fmt"

// FieldSpec describes one required/optional field of an event's payload.
type FieldSpec struct {
	Name     string
	Required bool
	Kind     FieldKind
	Min, Max float64 // numeric range, when Kind is FieldNumber
	Enum     []string
}

type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBool
	FieldObject
)

// Descriptor is one registry entry: shape, priority, rate limit, and
// whether the event is persistent (kept in the room's event log).
type Descriptor struct {
	Type         Type
	Fields       []FieldSpec
	Priority     Priority
	RateLimit    int // events/second for this type, per player
	Persistent   bool
}

// Registry is the typed admissible-event catalogue (spec §4.5 step 1).
type Registry struct {
	byType map[Type]Descriptor
}

// NewRegistry builds the default registry covering every inbound event
// named in spec §6.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[Type]Descriptor)}

	r.register(Descriptor{
		Type:     TypeAuthenticate,
		Priority: PriorityCritical,
		RateLimit: 5,
		Fields: []FieldSpec{
			{Name: "playerId", Required: true, Kind: FieldString},
			{Name: "username", Required: true, Kind: FieldString},
			{Name: "token", Required: false, Kind: FieldString},
		},
	})
	r.register(Descriptor{
		Type:      TypeJoinRoom,
		Priority:  PriorityHigh,
		RateLimit: 5,
		Fields:    []FieldSpec{{Name: "roomId", Required: true, Kind: FieldString}},
	})
	r.register(Descriptor{
		Type:      TypeLeaveRoom,
		Priority:  PriorityHigh,
		RateLimit: 5,
		Fields:    []FieldSpec{{Name: "roomId", Required: false, Kind: FieldString}},
	})
	r.register(Descriptor{
		Type:      TypePing,
		Priority:  PriorityNormal,
		RateLimit: 2,
		Fields:    []FieldSpec{{Name: "clientTime", Required: true, Kind: FieldNumber}},
	})
	r.register(Descriptor{
		Type:      TypeJoinMatchmaking,
		Priority:  PriorityHigh,
		RateLimit: 3,
		Fields: []FieldSpec{
			{Name: "gameMode", Required: true, Kind: FieldString, Enum: []string{"casual", "ranked", "tournament"}},
			{Name: "region", Required: false, Kind: FieldString},
		},
	})
	r.register(Descriptor{
		Type:      TypeLeaveMatchmaking,
		Priority:  PriorityHigh,
		RateLimit: 3,
	})
	r.register(Descriptor{
		Type:      TypeReadyUp,
		Priority:  PriorityCritical,
		RateLimit: 5,
		Fields:    []FieldSpec{{Name: "ready", Required: true, Kind: FieldBool}},
	})
	r.register(Descriptor{
		Type:       TypeChatMessage,
		Priority:   PriorityLow,
		RateLimit:  3,
		Persistent: true,
		Fields: []FieldSpec{
			{Name: "message", Required: true, Kind: FieldString},
			{Name: "type", Required: false, Kind: FieldString, Enum: []string{"all", "team"}},
		},
	})
	r.register(Descriptor{
		Type:      TypePlayerMovement,
		Priority:  PriorityNormal,
		RateLimit: 64,
		Fields: []FieldSpec{
			{Name: "position", Required: true, Kind: FieldObject},
			{Name: "velocity", Required: true, Kind: FieldObject},
			{Name: "timestamp", Required: true, Kind: FieldNumber},
			{Name: "sequenceId", Required: true, Kind: FieldNumber},
		},
	})
	r.register(Descriptor{
		Type:      TypeBallUpdate,
		Priority:  PriorityNormal,
		RateLimit: 64,
		Fields: []FieldSpec{
			{Name: "position", Required: true, Kind: FieldObject},
			{Name: "velocity", Required: true, Kind: FieldObject},
		},
	})
	r.register(Descriptor{
		Type:      TypeGoalAttempt,
		Priority:  PriorityHigh,
		RateLimit: 10,
		Fields: []FieldSpec{
			{Name: "position", Required: true, Kind: FieldObject},
			{Name: "velocity", Required: true, Kind: FieldObject},
			{Name: "goalType", Required: false, Kind: FieldString},
		},
	})
	r.register(Descriptor{
		Type:      TypeForfeitGame,
		Priority:  PriorityCritical,
		RateLimit: 2,
	})
	r.register(Descriptor{
		Type:      TypeRequestGameEnd,
		Priority:  PriorityCritical,
		RateLimit: 2,
		Fields: []FieldSpec{
			{Name: "reason", Required: false, Kind: FieldString},
			{Name: "adminCode", Required: false, Kind: FieldString},
			{Name: "confirmed", Required: false, Kind: FieldBool},
		},
	})
	r.register(Descriptor{
		Type:      TypePauseRequest,
		Priority:  PriorityHigh,
		RateLimit: 2,
	})
	r.register(Descriptor{
		Type:      TypeResumeRequest,
		Priority:  PriorityHigh,
		RateLimit: 2,
	})

	return r
}

func (r *Registry) register(d Descriptor) { r.byType[d.Type] = d }

// Lookup returns the descriptor for a type, or false for unknown types
// (spec §4.5 step 1: unknown type -> reject + emit error).
func (r *Registry) Lookup(t Type) (Descriptor, bool) {
	d, ok := r.byType[t]
	return d, ok
}

// Validate checks payload against the descriptor's field schema (spec
// §4.5 step 2). Returns field-level reasons on failure.
func (d Descriptor) Validate(payload map[string]any) []string {
	var reasons []string
	for _, f := range d.Fields {
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				reasons = append(reasons, fmt.Sprintf("%s: required field missing", f.Name))
			}
			continue
		}
		switch f.Kind {
		case FieldString:
			s, ok := v.(string)
			if !ok {
				reasons = append(reasons, fmt.Sprintf("%s: expected string", f.Name))
				continue
			}
			if len(f.Enum) > 0 && !containsStr(f.Enum, s) {
				reasons = append(reasons, fmt.Sprintf("%s: must be one of %v", f.Name, f.Enum))
			}
		case FieldNumber:
			n, ok := asFloat(v)
			if !ok {
				reasons = append(reasons, fmt.Sprintf("%s: expected number", f.Name))
				continue
			}
			if f.Min != 0 || f.Max != 0 {
				if n < f.Min || n > f.Max {
					reasons = append(reasons, fmt.Sprintf("%s: out of range [%v,%v]", f.Name, f.Min, f.Max))
				}
			}
		case FieldBool:
			if _, ok := v.(bool); !ok {
				reasons = append(reasons, fmt.Sprintf("%s: expected bool", f.Name))
			}
		case FieldObject:
			if _, ok := v.(map[string]any); !ok {
				reasons = append(reasons, fmt.Sprintf("%s: expected object", f.Name))
			}
		}
	}
	return reasons
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
