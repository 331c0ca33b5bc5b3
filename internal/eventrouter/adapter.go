// Package eventrouter is the client-side bridge: an Adapter that owns a
// callback HTTP listener and talks the broker's REST API, and a Router that
// mirrors a process's local eventdispatch subscriptions onto the broker and
// re-injects remote events locally.
package eventrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/transport"
	"github.com/uptrace/bunrouter"
)

// CallbackEndpoint is the path the broker POSTs delivered events to.
const CallbackEndpoint = "/on_event"

// EventHandler is invoked for every event the broker delivers to this
// process's callback endpoint.
type EventHandler func(channel string, event eventdispatch.Event)

// Adapter is the client-side half of the broker protocol: it serves
// CallbackEndpoint for inbound deliveries and issues register/unregister/
// post_event/map_events calls against the broker's REST surface.
type Adapter struct {
	callbackURL string
	centerURL   string

	client  *transport.Client
	router  *bunrouter.Router
	handler EventHandler
}

// NewAdapter constructs an Adapter. callbackURL is this process's publicly
// reachable address for CallbackEndpoint; centerURL is the broker's base
// URL. The callback router is not served until Handler is mounted on an
// HTTP server.
func NewAdapter(callbackURL, centerURL string, timeout time.Duration, handler EventHandler) *Adapter {
	a := &Adapter{
		callbackURL: callbackURL,
		centerURL:   centerURL,
		client:      transport.NewClient(timeout),
		handler:     handler,
	}
	a.router = bunrouter.New()
	a.router.GET("/ping", a.handlePing)
	a.router.POST(CallbackEndpoint, a.handleOnEvent)
	return a
}

// Handler exposes the callback router for mounting on an HTTP server.
func (a *Adapter) Handler() http.Handler {
	return a.router
}

func (a *Adapter) handlePing(w http.ResponseWriter, req bunrouter.Request) error {
	return bunrouter.JSON(w, map[string]string{"success": "true"})
}

type inboundEvent struct {
	Channel string `json:"channel"`
	Event   struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		Time    float64        `json:"time"`
		Payload map[string]any `json:"payload"`
	} `json:"event"`
}

// handleOnEvent parses the broker's delivery and dispatches to the
// configured handler on a fresh goroutine, so the HTTP response returns
// immediately and a slow handler never holds the broker's callback
// connection open.
func (a *Adapter) handleOnEvent(w http.ResponseWriter, req bunrouter.Request) error {
	var in inboundEvent
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		return bunrouter.JSON(w, map[string]string{"success": "false", "error": "invalid request body"})
	}

	event := eventdispatch.Event{
		ID:      in.Event.ID,
		Name:    in.Event.Name,
		Time:    time.Unix(int64(in.Event.Time), 0),
		Payload: in.Event.Payload,
	}
	if event.Payload == nil {
		event.Payload = make(map[string]any)
	}

	if a.handler != nil {
		go a.handler(in.Channel, event)
	}

	return bunrouter.JSON(w, map[string]string{"success": "true"})
}

// connErr reports whether err is a connection-level failure (the broker is
// unreachable) as opposed to an application error. Callers use this to
// decide whether a failure is worth logging loudly (spec.md §4.7).
func connErr(err error) bool {
	_, ok := err.(*transport.ConnectionError)
	return ok
}

// registerRequest mirrors eventcenter.RegistrationData's wire shape.
type registerRequest struct {
	CallbackURL string   `json:"callback_url"`
	Events      []string `json:"events"`
	Channel     string   `json:"channel"`
}

// Register subscribes this Adapter's callback URL to events on the broker.
// suppressConnErr silences the "broker unreachable" log line for calls made
// opportunistically (e.g. the unregister_all a Router issues on Start).
func (a *Adapter) Register(ctx context.Context, events []string, channel string, suppressConnErr bool) error {
	return a.post(ctx, "/register", registerRequest{CallbackURL: a.callbackURL, Events: events, Channel: channel}, suppressConnErr)
}

// Unregister removes a prior Register subscription.
func (a *Adapter) Unregister(ctx context.Context, events []string, channel string, suppressConnErr bool) error {
	return a.post(ctx, "/unregister", registerRequest{CallbackURL: a.callbackURL, Events: events, Channel: channel}, suppressConnErr)
}

// UnregisterAll drops every subscription owned by this Adapter's callback
// URL. Connection errors are suppressed by convention: Router.Start calls
// this to clear stale state, when the broker may not be up yet.
func (a *Adapter) UnregisterAll(ctx context.Context) error {
	return a.post(ctx, "/unregister_all", map[string]string{"callback_url": a.callbackURL}, true)
}

type outboundEvent struct {
	Channel string `json:"channel"`
	Event   struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		Time    float64        `json:"time"`
		Payload map[string]any `json:"payload"`
	} `json:"event"`
}

// PostEvent publishes event on channel via the broker. It stamps
// payload.metadata.sender_url with this Adapter's callback URL so the
// broker can suppress the echo back to its own originator.
func (a *Adapter) PostEvent(ctx context.Context, channel string, event eventdispatch.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Metadata()["sender_url"] = a.callbackURL

	body := outboundEvent{Channel: channel}
	body.Event.ID = event.ID
	body.Event.Name = event.Name
	body.Event.Time = float64(event.Time.Unix())
	body.Event.Payload = event.Payload

	return a.post(ctx, "/post_event", body, false)
}

// MapEvents installs an event mapping on the broker for channel.
func (a *Adapter) MapEvents(ctx context.Context, channel string, eventsToMap []eventdispatch.EventMatcher, eventToPost eventdispatch.Event) error {
	body := map[string]any{
		"channel":       channel,
		"events_to_map": eventsToMap,
		"event_to_post": map[string]any{
			"id":      eventToPost.ID,
			"name":    eventToPost.Name,
			"time":    float64(eventToPost.Time.Unix()),
			"payload": eventToPost.Payload,
		},
	}
	return a.post(ctx, "/map_events", body, false)
}

func (a *Adapter) post(ctx context.Context, path string, body any, suppressConnErr bool) error {
	resp, err := a.client.PostJSON(ctx, a.centerURL+path, body)
	if err != nil {
		if connErr(err) {
			if !suppressConnErr {
				logger.Warn("event center unreachable at %s: %v", a.centerURL, err)
			}
			return err
		}
		logger.Warn("request to event center %s%s failed: %v", a.centerURL, path, err)
		return err
	}

	var result struct {
		Success string `json:"success"`
		Error   string `json:"error"`
	}
	if err := resp.JSON(&result); err != nil {
		return nil
	}
	if result.Success == "false" {
		return fmt.Errorf("event center rejected %s: %s", path, result.Error)
	}
	return nil
}
