package eventcenter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/obs/metrics"
)

const registrantsKey = "registrants"

// snapshotDocument is the persisted representation of §3/§6.3: callback URL
// → channel → list of event names, with "" in the list meaning "all
// events" (SPEC_FULL §5.7's resolution of the list-vs-nested ambiguity).
type snapshotDocument struct {
	Registrants map[string]map[string][]string `json:"registrants"`
}

// RegistrationManager owns every Registrant, persists the registration
// table to a single JSON file, and reacts to registration.callback_failed
// by dropping the offending Registrant (spec.md §4.5).
type RegistrationManager struct {
	mu              sync.Mutex
	registrants     map[string]*Registrant
	filePath        string
	callbackTimeout time.Duration
	dispatchMgr     *eventdispatch.DispatchManager

	listenersMu sync.Mutex
	listeners   []chan<- Notification
}

// Notification is one committed change to the registration table, used by
// the admin live feed (SPEC_FULL §5.10).
type Notification struct {
	Type        string `json:"type"` // "registered" | "unregistered" | "callback_failed"
	CallbackURL string `json:"callback_url"`
	Channel     string `json:"channel"`
	Event       string `json:"event"`
}

// NewRegistrationManager loads filePath (recovering to an empty table and
// writing it back out on any load failure) and subscribes to
// registration.callback_failed on dispatchMgr's default dispatch.
func NewRegistrationManager(filePath string, callbackTimeout time.Duration, dispatchMgr *eventdispatch.DispatchManager) *RegistrationManager {
	m := &RegistrationManager{
		registrants:     make(map[string]*Registrant),
		filePath:        filePath,
		callbackTimeout: callbackTimeout,
		dispatchMgr:     dispatchMgr,
	}

	dispatchMgr.DefaultDispatch().Register(m.onEvent, []string{CallbackFailedEvent})

	m.loadOrInit()
	return m
}

// Subscribe registers ch to receive a Notification for every committed
// state change, non-blocking: a full channel drops the notification rather
// than stalling the registration path.
func (m *RegistrationManager) Subscribe(ch chan<- Notification) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, ch)
}

// Unsubscribe removes a previously subscribed channel.
func (m *RegistrationManager) Unsubscribe(ch chan<- Notification) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, l := range m.listeners {
		if l == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *RegistrationManager) notify(n Notification) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for _, ch := range m.listeners {
		select {
		case ch <- n:
		default:
		}
	}
}

// RegistrationData is the request body of /register and /unregister.
type RegistrationData struct {
	CallbackURL string   `json:"callback_url"`
	Events      []string `json:"events"`
	Channel     string   `json:"channel"`
}

// Register ensures a Registrant exists for data.CallbackURL and registers
// it for each of data.Events (or a single all-events subscription when
// Events is empty). Persists only if something actually changed.
func (m *RegistrationManager) Register(data RegistrationData) {
	m.mu.Lock()
	changed := m.registerLocked(data)
	if changed {
		m.persistLocked()
	}
	m.mu.Unlock()

	if changed {
		metrics.GetProvider().RecordRegistrationChurn("register")
		metrics.GetProvider().UpdateActiveRegistrants(m.count())
		for _, eventName := range eventsOrAll(data.Events) {
			m.notify(Notification{Type: "registered", CallbackURL: data.CallbackURL, Channel: data.Channel, Event: eventName})
		}
	}
}

// registerLocked must be called with mu held. It creates the dispatcher
// for data.Channel if absent, since a Registration needs one to register
// against regardless of whether this is a live /register call or snapshot
// replay at startup.
func (m *RegistrationManager) registerLocked(data RegistrationData) bool {
	registrant, ok := m.registrants[data.CallbackURL]
	if !ok {
		registrant = NewRegistrant(data.CallbackURL, m.callbackTimeout)
		m.registrants[data.CallbackURL] = registrant
	}

	d := m.dispatchMgr.AddEventDispatch(data.Channel)

	changed := false
	for _, eventName := range eventsOrAll(data.Events) {
		if registrant.Register(eventName, data.Channel, d) {
			changed = true
		}
	}
	return changed
}

func eventsOrAll(events []string) []string {
	if len(events) == 0 {
		return []string{""}
	}
	return events
}

// Unregister removes the specified (channel, event) keys from data's
// Registrant, dropping the Registrant entirely if it becomes empty.
// Missing registrant or keys are a no-op.
func (m *RegistrationManager) Unregister(data RegistrationData) {
	m.mu.Lock()
	registrant, ok := m.registrants[data.CallbackURL]
	if !ok {
		m.mu.Unlock()
		return
	}

	changed := false
	for _, eventName := range eventsOrAll(data.Events) {
		if registrant.Unregister(eventName, data.Channel) {
			changed = true
		}
	}
	if registrant.IsEmpty() {
		delete(m.registrants, data.CallbackURL)
	}
	if changed {
		m.persistLocked()
	}
	m.mu.Unlock()

	if changed {
		metrics.GetProvider().RecordRegistrationChurn("unregister")
		metrics.GetProvider().UpdateActiveRegistrants(m.count())
		for _, eventName := range eventsOrAll(data.Events) {
			m.notify(Notification{Type: "unregistered", CallbackURL: data.CallbackURL, Channel: data.Channel, Event: eventName})
		}
	}
}

// UnregisterAll drops every Registration owned by callbackURL.
func (m *RegistrationManager) UnregisterAll(callbackURL string) {
	m.mu.Lock()
	registrant, ok := m.registrants[callbackURL]
	if !ok {
		m.mu.Unlock()
		return
	}
	changed := registrant.UnregisterAll()
	if changed {
		delete(m.registrants, callbackURL)
		m.persistLocked()
	}
	m.mu.Unlock()

	if changed {
		metrics.GetProvider().RecordRegistrationChurn("unregister_all")
		metrics.GetProvider().UpdateActiveRegistrants(m.count())
		m.notify(Notification{Type: "unregistered", CallbackURL: callbackURL})
	}
}

// RemoteEventData is the request body of /post_event.
type RemoteEventData struct {
	Channel string             `json:"channel"`
	Event   RemoteEventPayload `json:"event"`
}

// RemoteEventPayload is the wire shape of an Event (spec.md §6.1).
type RemoteEventPayload struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Time    float64        `json:"time"`
	Payload map[string]any `json:"payload"`
}

// Post looks up (creating if absent) the dispatch for data.Channel and
// posts data.Event on it.
func (m *RegistrationManager) Post(data RemoteEventData) {
	d := m.dispatchMgr.AddEventDispatch(data.Channel)
	metrics.GetProvider().RecordEventPublished(data.Channel, data.Event.Name)
	d.PostEvent(data.Event.Name, data.Event.Payload)
}

// EventMappingData is the request body of /map_events.
type EventMappingData struct {
	Channel        string                       `json:"channel"`
	EventsToMap    []eventdispatch.EventMatcher `json:"events_to_map"`
	EventToPost    RemoteEventPayload           `json:"event_to_post"`
	IgnoreIfExists bool                         `json:"ignore_if_exists"`
}

// MapEvents looks up (creating if absent) the dispatch for data.Channel and
// installs the mapping.
func (m *RegistrationManager) MapEvents(data EventMappingData) (string, error) {
	d := m.dispatchMgr.AddEventDispatch(data.Channel)
	target := eventdispatch.NewEvent(data.EventToPost.Name, data.EventToPost.Payload)
	return d.MapEvents(data.EventsToMap, target, data.IgnoreIfExists)
}

// EventMaps returns the pending event maps for channel, for GET
// /event_maps (SPEC_FULL §5.6).
func (m *RegistrationManager) EventMaps(channel string) []*eventdispatch.EventMap {
	d, ok := m.dispatchMgr.Get(channel)
	if !ok {
		return nil
	}
	return d.PendingEventMaps()
}

// onEvent reacts to registration.callback_failed by dropping the offending
// Registrant entirely (spec.md §4.5).
func (m *RegistrationManager) onEvent(event eventdispatch.Event) {
	if event.Name != CallbackFailedEvent {
		return
	}
	callbackURL, _ := event.Payload["callback_url"].(string)
	if callbackURL == "" {
		return
	}
	m.UnregisterAll(callbackURL)
	m.notify(Notification{
		Type:        "callback_failed",
		CallbackURL: callbackURL,
		Channel:     stringPayload(event.Payload, "channel"),
		Event:       stringPayload(event.Payload, "event"),
	})
}

func stringPayload(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// count returns the current registrant count; safe to call without
// holding mu since it's only used to feed a gauge.
func (m *RegistrationManager) count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.registrants))
}

// Registrants returns a snapshot suitable for GET /registrants.
func (m *RegistrationManager) Registrants() map[string]map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *RegistrationManager) snapshotLocked() map[string]map[string][]string {
	out := make(map[string]map[string][]string, len(m.registrants))
	for url, registrant := range m.registrants {
		channels := make(map[string][]string, len(registrant.registrations))
		for channel, events := range registrant.registrations {
			names := make([]string, 0, len(events))
			for eventName := range events {
				names = append(names, eventName)
			}
			channels[channel] = names
		}
		out[url] = channels
	}
	return out
}

func (m *RegistrationManager) loadOrInit() {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		logger.Info("registrants file %s unavailable (%v), starting empty", m.filePath, err)
		m.writeEmptySnapshot()
		return
	}
	if len(data) == 0 {
		logger.Info("registrants file %s is empty, starting empty", m.filePath)
		m.writeEmptySnapshot()
		return
	}

	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("registrants file %s is malformed (%v), starting empty", m.filePath, err)
		m.writeEmptySnapshot()
		return
	}
	if doc.Registrants == nil {
		logger.Warn("registrants file %s missing %q key, starting empty", m.filePath, registrantsKey)
		m.writeEmptySnapshot()
		return
	}

	m.mu.Lock()
	for callbackURL, channels := range doc.Registrants {
		for channel, events := range channels {
			m.registerLocked(RegistrationData{CallbackURL: callbackURL, Events: events, Channel: channel})
		}
	}
	m.mu.Unlock()
}

func (m *RegistrationManager) writeEmptySnapshot() {
	m.mu.Lock()
	m.registrants = make(map[string]*Registrant)
	m.persistLocked()
	m.mu.Unlock()
}

// persistLocked must be called with mu held. It rewrites the whole file;
// a write failure is logged and does not affect in-memory state, which
// remains authoritative until the next successful write (spec.md §7).
func (m *RegistrationManager) persistLocked() {
	doc := snapshotDocument{Registrants: m.snapshotLocked()}

	payload, err := json.Marshal(doc)
	if err != nil {
		logger.Error("failed to marshal registrants snapshot: %v", err)
		metrics.GetProvider().RecordSnapshotWrite("failure")
		return
	}

	if dir := filepath.Dir(m.filePath); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}

	if err := os.WriteFile(m.filePath, payload, 0o644); err != nil {
		logger.Error("failed to write registrants snapshot to %s: %v", m.filePath, err)
		metrics.GetProvider().RecordSnapshotWrite("failure")
		return
	}

	metrics.GetProvider().RecordSnapshotWrite("success")
}
