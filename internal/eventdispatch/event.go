// Package eventdispatch is the in-process publish/subscribe registry that
// runs inside both the broker and every client: a per-channel handler table
// with synchronous, registration-ordered delivery, plus event-mapping
// aggregation (a rule that fires a synthesized event once a set of
// constituent events has all been observed).
package eventdispatch

import (
	"time"

	"github.com/google/uuid"
)

// Event is a named, timestamped, payload-carrying notification. Payload is
// mutable until it is posted; delivery code must not mutate it afterward.
type Event struct {
	ID      string
	Name    string
	Time    time.Time
	Payload map[string]any
}

// NewEvent stamps a fresh id and the current time. Payload may be nil, in
// which case an empty map is allocated so callers can always index into it.
func NewEvent(name string, payload map[string]any) Event {
	if payload == nil {
		payload = make(map[string]any)
	}
	return Event{
		ID:      uuid.NewString(),
		Name:    name,
		Time:    time.Now(),
		Payload: payload,
	}
}

// Metadata returns event.Payload["metadata"] as a map, creating and
// installing one if absent. Every event a router or registration forwards
// carries this sub-map, stamped with sender_url / original_event_id /
// external_event_id and friends.
func (e Event) Metadata() map[string]any {
	raw, ok := e.Payload["metadata"]
	if !ok {
		m := make(map[string]any)
		e.Payload["metadata"] = m
		return m
	}
	m, ok := raw.(map[string]any)
	if !ok {
		m = make(map[string]any)
		e.Payload["metadata"] = m
	}
	return m
}
