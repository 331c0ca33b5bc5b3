package eventdispatch

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/nimbusevents/eventcenter/internal/obs/logger"
)

// Handler receives events delivered by an EventDispatch.
type Handler func(Event)

// HandlerID identifies a registered Handler for skip/unregister purposes.
// Two Handler values produced by the same function (including bound method
// values of the same method) compare equal; closures over distinct state
// are not distinguished by identity alone, matching the source project's
// own reliance on handler identity rather than value equality.
type HandlerID uintptr

// IdentityOf returns the HandlerID a given Handler would register under.
// Callers that need to pass skip_handler to PostEvent without keeping the
// original func value (e.g. a router comparing against its own method)
// compute it with this.
func IdentityOf(h Handler) HandlerID {
	return HandlerID(reflect.ValueOf(h).Pointer())
}

// allEventsKey is the handler-table key for "all events" subscriptions —
// registrations with an empty event list, per spec.md's Registration model.
const allEventsKey = ""

// Synthetic events posted whenever the handler table changes, so a router
// can mirror local subscriptions to the broker.
const (
	EventHandlerRegistered   = "eventdispatch.handler_registered"
	EventHandlerUnregistered = "eventdispatch.handler_unregistered"
)

type registeredHandler struct {
	id      HandlerID
	handler Handler
}

// EventDispatch is a single channel's handler registry and event-mapping
// engine. Registration and delivery are both synchronous; a handler
// registered for a channel only sees events posted on that same channel.
type EventDispatch struct {
	channel string

	mu       sync.RWMutex
	handlers map[string][]registeredHandler
	maps     map[string]*EventMap
	mapMgr   EventMapManager

	logMu  sync.Mutex
	log    []Event
	logCap int
}

// NewEventDispatch creates an empty dispatch for the given channel ("" is
// the default channel).
func NewEventDispatch(channel string) *EventDispatch {
	return &EventDispatch{
		channel:  channel,
		handlers: make(map[string][]registeredHandler),
		maps:     make(map[string]*EventMap),
		logCap:   200,
	}
}

// Channel returns the channel name this dispatch serves.
func (d *EventDispatch) Channel() string { return d.channel }

// SetEventMapManager installs an override so MapEvents delegates to mgr
// instead of maintaining maps locally. The client Router does not call it;
// no caller in this repository installs an override.
func (d *EventDispatch) SetEventMapManager(mgr EventMapManager) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapMgr = mgr
}

// Register appends handler to each named event's handler list, or to the
// "all events" list when events is empty. Duplicate (handler, event) pairs
// are ignored. A handler_registered event is posted on this channel
// whenever at least one new registration was made, carrying the event list
// and the handler's identity so a router can recognize its own
// subscriptions.
func (d *EventDispatch) Register(handler Handler, events []string) {
	id := IdentityOf(handler)
	keys := eventKeys(events)

	d.mu.Lock()
	added := false
	for _, key := range keys {
		if d.hasHandlerLocked(key, id) {
			continue
		}
		d.handlers[key] = append(d.handlers[key], registeredHandler{id: id, handler: handler})
		added = true
	}
	d.mu.Unlock()

	if !added {
		return
	}

	d.PostEvent(EventHandlerRegistered, map[string]any{
		"events":  events,
		"handler": id,
	})
}

// Unregister removes handler from each named event's handler list, or from
// the "all events" list when events is empty. Removing an unknown
// (handler, event) pair is a no-op. A handler_unregistered event is posted
// only when something was actually removed.
func (d *EventDispatch) Unregister(handler Handler, events []string) {
	id := IdentityOf(handler)
	keys := eventKeys(events)

	d.mu.Lock()
	removed := false
	for _, key := range keys {
		list, ok := d.handlers[key]
		if !ok {
			continue
		}
		filtered := list[:0:0]
		for _, rh := range list {
			if rh.id == id {
				removed = true
				continue
			}
			filtered = append(filtered, rh)
		}
		if len(filtered) == 0 {
			delete(d.handlers, key)
		} else {
			d.handlers[key] = filtered
		}
	}
	d.mu.Unlock()

	if !removed {
		return
	}

	d.PostEvent(EventHandlerUnregistered, map[string]any{
		"events":  events,
		"handler": id,
	})
}

func (d *EventDispatch) hasHandlerLocked(key string, id HandlerID) bool {
	for _, rh := range d.handlers[key] {
		if rh.id == id {
			return true
		}
	}
	return false
}

func eventKeys(events []string) []string {
	if len(events) == 0 {
		return []string{allEventsKey}
	}
	return events
}

// PostEvent constructs an Event with a fresh id and current timestamp, and
// delivers it synchronously to every handler registered for name, then to
// every "all events" handler, in registration order, skipping any handler
// whose identity is in skip. A handler panic is recovered, logged, and does
// not prevent delivery to the remaining handlers. After delivery, any
// active event map is checked for a match; a fully-observed map fires its
// target event (through this same dispatch) and is removed.
func (d *EventDispatch) PostEvent(name string, payload map[string]any, skip ...HandlerID) Event {
	event := NewEvent(name, payload)
	d.deliver(event, skip...)
	d.appendLog(event)
	d.checkEventMaps(event)
	return event
}

// postExisting re-delivers an already-constructed event (used to fire a
// mapped event_to_post with its own configured payload/name, preserving the
// normal delivery and logging path).
func (d *EventDispatch) postExisting(event Event, skip ...HandlerID) {
	d.deliver(event, skip...)
	d.appendLog(event)
	d.checkEventMaps(event)
}

func (d *EventDispatch) deliver(event Event, skip ...HandlerID) {
	d.mu.RLock()
	specific := snapshot(d.handlers[event.Name])
	var all []registeredHandler
	if event.Name != allEventsKey {
		all = snapshot(d.handlers[allEventsKey])
	}
	d.mu.RUnlock()

	skipSet := make(map[HandlerID]struct{}, len(skip))
	for _, id := range skip {
		skipSet[id] = struct{}{}
	}

	for _, rh := range append(specific, all...) {
		if _, skipped := skipSet[rh.id]; skipped {
			continue
		}
		d.invoke(rh.handler, event)
	}
}

func snapshot(handlers []registeredHandler) []registeredHandler {
	out := make([]registeredHandler, len(handlers))
	copy(out, handlers)
	return out
}

func (d *EventDispatch) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			_ = logger.HandlePanic(fmt.Sprintf("EventDispatch[%s].PostEvent(%s)", d.channel, event.Name), r)
		}
	}()
	handler(event)
}

func (d *EventDispatch) appendLog(event Event) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.log = append(d.log, event)
	if len(d.log) > d.logCap {
		d.log = d.log[len(d.log)-d.logCap:]
	}
}

// RecentEvents returns up to limit of the most recently posted events, most
// recent last. Used only for tests and diagnostics (spec.md §4.1, "Event
// logging").
func (d *EventDispatch) RecentEvents(limit int) []Event {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	if limit <= 0 || limit > len(d.log) {
		limit = len(d.log)
	}
	out := make([]Event, limit)
	copy(out, d.log[len(d.log)-limit:])
	return out
}
