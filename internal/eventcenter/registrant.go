package eventcenter

import (
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

// allEventsKey is the registrations map key for an "all events"
// subscription, mirroring eventdispatch's own empty-event-list convention.
const allEventsKey = ""

// Registrant groups every Registration owned by one callback URL, keyed
// channel → event_name → Registration (spec.md §3's nested-map form; see
// SPEC_FULL §5.8).
type Registrant struct {
	CallbackURL     string
	registrations   map[string]map[string]*Registration
	callbackTimeout time.Duration
}

// NewRegistrant returns an empty Registrant for callbackURL.
func NewRegistrant(callbackURL string, callbackTimeout time.Duration) *Registrant {
	return &Registrant{
		CallbackURL:     callbackURL,
		registrations:   make(map[string]map[string]*Registration),
		callbackTimeout: callbackTimeout,
	}
}

// Registrations exposes the nested map for snapshotting and admin display.
func (r *Registrant) Registrations() map[string]map[string]*Registration {
	return r.registrations
}

// IsEmpty reports whether this Registrant has no Registrations left.
func (r *Registrant) IsEmpty() bool {
	return len(r.registrations) == 0
}

// Register installs a Registration for eventName (or "all events" when
// eventName is empty) on channel against dispatch. Returns true iff a new
// Registration was created; a duplicate (channel, event_name) key is a
// no-op returning false.
func (r *Registrant) Register(eventName, channel string, dispatch *eventdispatch.EventDispatch) bool {
	key := eventName
	if key == "" {
		key = allEventsKey
	}

	channelRegs, ok := r.registrations[channel]
	if !ok {
		channelRegs = make(map[string]*Registration)
		r.registrations[channel] = channelRegs
	}

	if _, exists := channelRegs[key]; exists {
		return false
	}

	channelRegs[key] = NewRegistration(r.CallbackURL, eventName, channel, dispatch, r.callbackTimeout)
	return true
}

// Unregister removes the Registration for (channel, eventName), cancelling
// it and dropping the channel entry if it becomes empty. Returns true iff a
// Registration was actually removed.
func (r *Registrant) Unregister(eventName, channel string) bool {
	key := eventName
	if key == "" {
		key = allEventsKey
	}

	channelRegs, ok := r.registrations[channel]
	if !ok {
		return false
	}

	reg, ok := channelRegs[key]
	if !ok {
		return false
	}

	reg.Cancel()
	delete(channelRegs, key)
	if len(channelRegs) == 0 {
		delete(r.registrations, channel)
	}
	return true
}

// UnregisterAll cancels every Registration owned by this Registrant and
// clears its map. Returns true iff there was anything to unregister.
func (r *Registrant) UnregisterAll() bool {
	hadAny := false
	for _, channelRegs := range r.registrations {
		for _, reg := range channelRegs {
			reg.Cancel()
			hadAny = true
		}
	}
	r.registrations = make(map[string]map[string]*Registration)
	return hadAny
}
