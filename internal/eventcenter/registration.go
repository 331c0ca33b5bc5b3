// Package eventcenter is the broker side of the system: the registration
// table (Registration/Registrant/RegistrationManager), the HTTP surface
// that fronts it, and the JSON snapshot that survives a restart.
package eventcenter

import (
	"context"
	"strings"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/obs/metrics"
	"github.com/nimbusevents/eventcenter/internal/transport"
)

// CallbackFailedEvent is posted on a channel's dispatch whenever a
// Registration gives up on an unreachable callback URL.
const CallbackFailedEvent = "registration.callback_failed"

// Registration is one subscription: a callback URL, optionally scoped to a
// single event name and channel. While not cancelled it appears in exactly
// one EventDispatch handler list.
type Registration struct {
	CallbackURL string
	EventName   string // "" means "all events"
	Channel     string

	dispatch       *eventdispatch.EventDispatch
	callbackClient *transport.Client

	cancelled bool
}

// NewRegistration constructs a Registration and registers its on_event
// handler with dispatch for [eventName] (or every event, if eventName is
// empty).
func NewRegistration(callbackURL, eventName, channel string, dispatch *eventdispatch.EventDispatch, callbackTimeout time.Duration) *Registration {
	r := &Registration{
		CallbackURL:    callbackURL,
		EventName:      eventName,
		Channel:        channel,
		dispatch:       dispatch,
		callbackClient: transport.NewClient(callbackTimeout),
	}
	dispatch.Register(r.OnEvent, r.eventList())
	return r
}

func (r *Registration) eventList() []string {
	if r.EventName == "" {
		return nil
	}
	return []string{r.EventName}
}

// Cancel is idempotent: it unregisters the Registration's handler from its
// dispatch exactly once.
func (r *Registration) Cancel() {
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.dispatch.Unregister(r.OnEvent, r.eventList())
}

// OnEvent implements spec.md §4.3's callback-delivery policy: skip if
// cancelled, skip if the event originated at this same callback URL
// (prefix match on payload.metadata.sender_url, preventing an echo back to
// the originator), otherwise POST {channel, event} to CallbackURL with the
// configured timeout. A connection failure cancels the Registration and
// emits registration.callback_failed on the same channel dispatch.
func (r *Registration) OnEvent(event eventdispatch.Event) {
	if r.cancelled {
		return
	}

	if metadata, ok := event.Payload["metadata"].(map[string]any); ok {
		if senderURL, _ := metadata["sender_url"].(string); senderURL != "" {
			if strings.HasPrefix(r.CallbackURL, senderURL) {
				return
			}
		}
	}

	start := time.Now()
	body := map[string]any{
		"channel": r.Channel,
		"event": map[string]any{
			"id":      event.ID,
			"name":    event.Name,
			"time":    event.Time.Unix(),
			"payload": event.Payload,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.callbackClient.Timeout)
	defer cancel()

	_, err := r.callbackClient.PostJSON(ctx, r.CallbackURL, body)
	if err != nil {
		metrics.GetProvider().RecordCallbackAttempt(r.Channel, "failure", time.Since(start))
		logger.Warn("callback delivery to %s failed: %v", r.CallbackURL, err)
		r.handleUnreachable(event.Name)
		return
	}

	metrics.GetProvider().RecordCallbackAttempt(r.Channel, "success", time.Since(start))
}

func (r *Registration) handleUnreachable(eventName string) {
	r.Cancel()
	r.dispatch.PostEvent(CallbackFailedEvent, map[string]any{
		"channel":      r.Channel,
		"callback_url": r.CallbackURL,
		"event":        eventName,
	})
}
