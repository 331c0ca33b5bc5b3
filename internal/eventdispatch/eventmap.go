package eventdispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidMappingEvents is returned when MapEvents is given fewer than
// two constituent events, or the set contains a duplicate event name.
var ErrInvalidMappingEvents = errors.New("invalid mapping events")

// ErrDuplicateMapping is returned when a mapping with the same derived key
// already exists and ignoreIfExists is false.
var ErrDuplicateMapping = errors.New("duplicate mapping")

// EventMatcher names a constituent event of an EventMap and, optionally, a
// subset of payload key/values that must be present for a posted event to
// satisfy it.
type EventMatcher struct {
	Name          string
	PayloadSubset map[string]any
}

func (m EventMatcher) matches(e Event) bool {
	if m.Name != e.Name {
		return false
	}
	for key, want := range m.PayloadSubset {
		got, ok := e.Payload[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// EventMap is a pending aggregation rule: fire EventToPost once every
// matcher in EventsToMap has been observed.
type EventMap struct {
	Key         string
	EventsToMap []EventMatcher
	EventToPost Event
	Observed    map[int]bool
}

func (m *EventMap) isComplete() bool {
	return len(m.Observed) == len(m.EventsToMap)
}

// EventMapManager installs and matches event-mapping rules. EventDispatch
// implements it directly for local, in-process mapping, and accepts another
// implementation through SetEventMapManager. The client Router does not
// implement it and nothing in this repository installs an override, so a
// client process's mappings are held by its own local dispatch.
type EventMapManager interface {
	MapEvents(eventsToMap []EventMatcher, eventToPost Event, ignoreIfExists bool) (string, error)
}

// MapEvents installs eventsToMap → eventToPost as a pending aggregation. If
// this dispatch has an EventMapManager override installed (SetEventMapManager),
// the call is delegated there instead of being handled locally.
func (d *EventDispatch) MapEvents(eventsToMap []EventMatcher, eventToPost Event, ignoreIfExists bool) (string, error) {
	d.mu.RLock()
	mgr := d.mapMgr
	d.mu.RUnlock()
	if mgr != nil {
		return mgr.MapEvents(eventsToMap, eventToPost, ignoreIfExists)
	}

	if err := validateMapping(eventsToMap); err != nil {
		return "", err
	}

	key := deriveMapKey(eventsToMap, eventToPost.Name)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.maps[key]; exists {
		if !ignoreIfExists {
			return "", ErrDuplicateMapping
		}
		return key, nil
	}

	d.maps[key] = &EventMap{
		Key:         key,
		EventsToMap: eventsToMap,
		EventToPost: eventToPost,
		Observed:    make(map[int]bool),
	}
	return key, nil
}

func validateMapping(eventsToMap []EventMatcher) error {
	if len(eventsToMap) < 2 {
		return ErrInvalidMappingEvents
	}
	seen := make(map[string]struct{}, len(eventsToMap))
	for _, m := range eventsToMap {
		if _, dup := seen[m.Name]; dup {
			return ErrInvalidMappingEvents
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// deriveMapKey is deterministic in the set of constituent event names plus
// the target event name, so the same logical mapping always yields the
// same key regardless of the order events_to_map was given in.
func deriveMapKey(eventsToMap []EventMatcher, targetName string) string {
	names := make([]string, len(eventsToMap))
	for i, m := range eventsToMap {
		names[i] = m.Name
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(strings.Join(names, "|")))
	h.Write([]byte("->"))
	h.Write([]byte(targetName))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// checkEventMaps matches a just-posted event against every pending map on
// this dispatch. A fully-observed map fires its target event through this
// same dispatch (subject to the same handlers) and is removed. Mapping
// matching is per-EventDispatch: it never crosses channels.
func (d *EventDispatch) checkEventMaps(event Event) {
	d.mu.Lock()
	var completed []*EventMap
	for key, m := range d.maps {
		changed := false
		for i, matcher := range m.EventsToMap {
			if m.Observed[i] {
				continue
			}
			if matcher.matches(event) {
				m.Observed[i] = true
				changed = true
			}
		}
		if changed && m.isComplete() {
			completed = append(completed, m)
			delete(d.maps, key)
		}
	}
	d.mu.Unlock()

	for _, m := range completed {
		d.postExisting(m.EventToPost)
	}
}

// PendingEventMaps returns a snapshot of every mapping rule still waiting
// on at least one constituent event — admin visibility for GET
// /event_maps (not in spec.md's endpoint table; supplemented from
// original_source's EventRegistrationManager.get_event_maps).
func (d *EventDispatch) PendingEventMaps() []*EventMap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*EventMap, 0, len(d.maps))
	for _, m := range d.maps {
		out = append(out, m)
	}
	return out
}
