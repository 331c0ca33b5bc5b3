package eventrouter

import (
	"context"
	"sync"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
)

// Router mirrors a process's local eventdispatch subscriptions onto the
// broker and re-injects remote events locally, per spec.md §4.8. All of
// on_internal_event's work is serialized under one mutex, matching the
// original's synchronized method: concurrent local publications must not
// interleave their propagation decisions.
type Router struct {
	adapter *Adapter
	local   *eventdispatch.EventDispatch
	channel string
	name    string

	requestTimeout time.Duration

	mu sync.Mutex
}

// NewRouter constructs a Router bridging local's default-channel traffic
// (aliased here as channel) through adapter. name identifies this router in
// diagnostic events and defaults to "router" if empty.
func NewRouter(adapter *Adapter, local *eventdispatch.EventDispatch, channel, name string, requestTimeout time.Duration) *Router {
	if name == "" {
		name = "router"
	}
	return &Router{
		adapter:        adapter,
		local:          local,
		channel:        channel,
		name:           name,
		requestTimeout: requestTimeout,
	}
}

// Start clears any stale broker-side registrations from a previous run,
// then subscribes to every local event so onInternalEvent can observe
// subsequent local subscription changes and business events. Named
// per-event subscriptions are mirrored to the broker only as local
// handlers actually register, not blanket-subscribed here. It is not
// idempotent: call it once per Router.
func (r *Router) Start(ctx context.Context) {
	r.postDiagnostic(RouterStarted, nil)

	registerCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()
	if err := r.adapter.UnregisterAll(registerCtx); err != nil {
		r.postDiagnostic(RouterFailedToReachEventCenter, map[string]any{"phase": "unregister_all", "error": err.Error()})
	}

	r.local.Register(r.onInternalEvent, nil)

	r.postDiagnostic(RouterReady, nil)
}

// onInternalEvent is registered against every local event. It decides
// whether the event should be forwarded to the broker, stamping
// original_event_id/original_event_time/router metadata on anything it
// forwards.
func (r *Router) onInternalEvent(event eventdispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metadata := event.Metadata()

	if _, isExternal := metadata["external_event_id"]; isExternal {
		r.postDiagnostic(RouterNotPropagatingExternal, map[string]any{"event": event.Name})
		return
	}

	if isOwnHandlerLifecycle(event, r.onInternalEvent) {
		r.postDiagnostic(RouterNotPropagatingInternal, map[string]any{"event": event.Name, "reason": "router_self_subscription"})
		return
	}

	if event.Name == eventdispatch.EventHandlerRegistered || event.Name == eventdispatch.EventHandlerUnregistered {
		r.mirrorSubscription(event)
		return
	}

	r.postDiagnostic(RouterGotInternalEvent, map[string]any{"event": event.Name})

	metadata["original_event_id"] = event.ID
	metadata["original_event_time"] = event.Time.Unix()
	metadata["router"] = r.name

	ctx, cancel := context.WithTimeout(context.Background(), r.requestTimeout)
	defer cancel()

	if err := r.adapter.PostEvent(ctx, r.channel, event); err != nil {
		r.postDiagnostic(RouterFailedToReachEventCenter, map[string]any{"phase": "post_event", "event": event.Name, "error": err.Error()})
		return
	}

	r.postDiagnostic(RouterPropagatingInternalEvent, map[string]any{"event": event.Name})
}

// mirrorSubscription implements spec.md §4.8's subscribe control flow: a
// local handler_registered/handler_unregistered for some other handler
// means a local subscriber's interest changed, so that same interest is
// registered/unregistered against the broker on this router's channel. The
// event itself is never forwarded as a business event — the broker has no
// use for a raw handler_registered payload.
func (r *Router) mirrorSubscription(event eventdispatch.Event) {
	events, _ := event.Payload["events"].([]string)

	ctx, cancel := context.WithTimeout(context.Background(), r.requestTimeout)
	defer cancel()

	var err error
	switch event.Name {
	case eventdispatch.EventHandlerRegistered:
		err = r.adapter.Register(ctx, events, r.channel, false)
	case eventdispatch.EventHandlerUnregistered:
		err = r.adapter.Unregister(ctx, events, r.channel, false)
	}

	if err != nil {
		r.postDiagnostic(RouterFailedToReachEventCenter, map[string]any{"phase": "mirror_subscription", "event": event.Name, "error": err.Error()})
		return
	}

	r.postDiagnostic(RouterPropagatingInternalEvent, map[string]any{"event": event.Name, "mirrored_events": events})
}

// OnExternalEvent re-injects a broker-delivered event into the local
// dispatch, stamping external_event_id/external_event_time/channel so
// onInternalEvent recognizes it and does not loop it back out.
func (r *Router) OnExternalEvent(channel string, event eventdispatch.Event) {
	r.postDiagnostic(RouterGotExternalEvent, map[string]any{"event": event.Name, "channel": channel})

	metadata := event.Metadata()
	metadata["external_event_id"] = event.ID
	metadata["external_event_time"] = event.Time.Unix()
	metadata["channel"] = channel

	r.local.PostEvent(event.Name, event.Payload, r.onInternalEvent)
}

// isOwnHandlerLifecycle reports whether event is a handler_registered /
// handler_unregistered notification about the router's own subscription,
// which must not be propagated or it would announce the router's presence
// as if it were an ordinary local handler.
func isOwnHandlerLifecycle(event eventdispatch.Event, self eventdispatch.Handler) bool {
	if event.Name != eventdispatch.EventHandlerRegistered && event.Name != eventdispatch.EventHandlerUnregistered {
		return false
	}
	id, ok := event.Payload["handler"].(eventdispatch.HandlerID)
	if !ok {
		return false
	}
	return id == eventdispatch.IdentityOf(self)
}

func (r *Router) postDiagnostic(name string, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["router"] = r.name
	logger.Debug("%s: %v", name, payload)
	r.local.PostEvent(name, payload, r.onInternalEvent)
}
