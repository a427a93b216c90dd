package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// EventQueryInvalidated is published after a committed mutation
	// invalidated a set of query keys. Other instances replay it.
	EventQueryInvalidated EventType = "query.invalidated"

	// EventMutationCommitted is published for every successful write.
	EventMutationCommitted EventType = "mutation.committed"

	// EventMutationFailed is published when the backend rejected a write.
	EventMutationFailed EventType = "mutation.failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]any
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Query-cache events
// ═══════════════════════════════════════════════════════════════════════════

// QueryInvalidatedEvent carries the key prefixes a mutation invalidated.
// Keys are raw token slices so the event stays independent of the keyspace
// package.
type QueryInvalidatedEvent struct {
	BaseEvent
	Entity string     `json:"entity"`
	Op     string     `json:"op"`
	Keys   [][]string `json:"keys"`
}

// Payload implements Event interface.
func (e QueryInvalidatedEvent) Payload() map[string]any {
	keys := make([]any, len(e.Keys))
	for i, k := range e.Keys {
		toks := make([]any, len(k))
		for j, t := range k {
			toks[j] = t
		}
		keys[i] = toks
	}
	return map[string]any{
		"entity": e.Entity,
		"op":     e.Op,
		"keys":   keys,
	}
}

// NewQueryInvalidatedEvent creates a new QueryInvalidatedEvent.
func NewQueryInvalidatedEvent(entity, op, recordID string, keys [][]string) QueryInvalidatedEvent {
	return QueryInvalidatedEvent{
		BaseEvent: NewBaseEvent(EventQueryInvalidated, recordID),
		Entity:    entity,
		Op:        op,
		Keys:      keys,
	}
}

// KeysFromPayload decodes the "keys" entry of an event payload. It accepts
// both the in-process shape and the shape produced by a JSON round trip.
func KeysFromPayload(p map[string]any) [][]string {
	raw, ok := p["keys"]
	if !ok {
		return nil
	}

	var out [][]string
	switch v := raw.(type) {
	case [][]string:
		return v
	case []any:
		for _, k := range v {
			toks, ok := k.([]any)
			if !ok {
				continue
			}
			key := make([]string, 0, len(toks))
			for _, t := range toks {
				if s, ok := t.(string); ok {
					key = append(key, s)
				}
			}
			out = append(out, key)
		}
	}
	return out
}

// MutationEvent reports the outcome of a write.
type MutationEvent struct {
	BaseEvent
	Entity string `json:"entity"`
	Op     string `json:"op"`
	Actor  string `json:"actor,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Payload implements Event interface.
func (e MutationEvent) Payload() map[string]any {
	p := map[string]any{
		"entity": e.Entity,
		"op":     e.Op,
		"actor":  e.Actor,
	}
	if e.Error != "" {
		p["error"] = e.Error
	}
	return p
}

// NewMutationEvent creates a committed or failed mutation event depending on err.
func NewMutationEvent(entity, op, recordID, actor string, err error) MutationEvent {
	typ := EventMutationCommitted
	msg := ""
	if err != nil {
		typ = EventMutationFailed
		msg = err.Error()
	}
	return MutationEvent{
		BaseEvent: NewBaseEvent(typ, recordID),
		Entity:    entity,
		Op:        op,
		Actor:     actor,
		Error:     msg,
	}
}
