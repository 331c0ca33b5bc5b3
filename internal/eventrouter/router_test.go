package eventrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

// fakeCenter is a minimal stand-in for the broker's HTTP surface, recording
// every /post_event and /register body it receives.
type fakeCenter struct {
	mu          sync.Mutex
	posts       []map[string]any
	registers   []map[string]any
	unregisters []map[string]any
}

func (f *fakeCenter) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/unregister_all", okHandler)
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.registers = append(f.registers, body)
		f.mu.Unlock()
		okHandler(w, r)
	})
	mux.HandleFunc("/unregister", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.unregisters = append(f.unregisters, body)
		f.mu.Unlock()
		okHandler(w, r)
	})
	mux.HandleFunc("/post_event", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posts = append(f.posts, body)
		f.mu.Unlock()
		okHandler(w, r)
	})
	return mux
}

func (f *fakeCenter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeCenter) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registers)
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"success":"true"}`))
}

func TestRouterPropagatesLocalEventToEventCenter(t *testing.T) {
	center := &fakeCenter{}
	srv := httptest.NewServer(center.handler())
	defer srv.Close()

	local := eventdispatch.NewEventDispatch("")
	var router *Router
	adapter := NewAdapter("http://client/cb", srv.URL, time.Second, func(channel string, event eventdispatch.Event) {
		router.OnExternalEvent(channel, event)
	})
	router = NewRouter(adapter, local, "", "test-router", time.Second)
	router.Start(context.Background())

	local.PostEvent("order.created", map[string]any{"id": 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && center.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if center.count() == 0 {
		t.Fatal("expected the local event to be propagated to the event center")
	}
}

func TestRouterDoesNotReflectExternalEventsBackOut(t *testing.T) {
	center := &fakeCenter{}
	srv := httptest.NewServer(center.handler())
	defer srv.Close()

	local := eventdispatch.NewEventDispatch("")
	var router *Router
	adapter := NewAdapter("http://client/cb", srv.URL, time.Second, func(channel string, event eventdispatch.Event) {
		router.OnExternalEvent(channel, event)
	})
	router = NewRouter(adapter, local, "", "test-router", time.Second)
	router.Start(context.Background())

	external := eventdispatch.NewEvent("order.created", map[string]any{"id": 1})
	router.OnExternalEvent("orders", external)

	time.Sleep(100 * time.Millisecond)

	if center.count() != 0 {
		t.Fatal("an event that arrived from the event center must not be posted back to it")
	}
}

func TestRouterDoesNotPropagateItsOwnHandlerLifecycleEvents(t *testing.T) {
	center := &fakeCenter{}
	srv := httptest.NewServer(center.handler())
	defer srv.Close()

	local := eventdispatch.NewEventDispatch("")
	var router *Router
	adapter := NewAdapter("http://client/cb", srv.URL, time.Second, func(channel string, event eventdispatch.Event) {
		router.OnExternalEvent(channel, event)
	})
	router = NewRouter(adapter, local, "", "test-router", time.Second)
	router.Start(context.Background())

	time.Sleep(100 * time.Millisecond)

	for _, p := range centerPostNames(center) {
		if p == eventdispatch.EventHandlerRegistered {
			t.Fatal("router must not propagate its own handler_registered event")
		}
	}
	if center.registerCount() != 0 {
		t.Fatal("router must not mirror its own subscription to the broker")
	}
}

func TestRouterMirrorsLocalSubscriptionToEventCenter(t *testing.T) {
	center := &fakeCenter{}
	srv := httptest.NewServer(center.handler())
	defer srv.Close()

	local := eventdispatch.NewEventDispatch("")
	var router *Router
	adapter := NewAdapter("http://client/cb", srv.URL, time.Second, func(channel string, event eventdispatch.Event) {
		router.OnExternalEvent(channel, event)
	})
	router = NewRouter(adapter, local, "orders", "test-router", time.Second)
	router.Start(context.Background())

	// A local handler subscribing to a specific event is the "local
	// subscriber" whose interest must be mirrored to the broker.
	local.Register(func(eventdispatch.Event) {}, []string{"payment.captured"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && center.registerCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if center.registerCount() != 1 {
		t.Fatalf("expected exactly one /register call mirroring the local subscription, got %d", center.registerCount())
	}

	center.mu.Lock()
	body := center.registers[0]
	center.mu.Unlock()

	if body["channel"] != "orders" {
		t.Fatalf("expected the mirrored registration to use the router's channel, got %#v", body)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 || events[0] != "payment.captured" {
		t.Fatalf("expected the mirrored registration to list payment.captured, got %#v", body["events"])
	}

	for _, p := range centerPostNames(center) {
		if p == eventdispatch.EventHandlerRegistered {
			t.Fatal("handler_registered must never be forwarded to the broker as a business event")
		}
	}
}

func centerPostNames(center *fakeCenter) []string {
	center.mu.Lock()
	defer center.mu.Unlock()
	names := make([]string, 0, len(center.posts))
	for _, p := range center.posts {
		if ev, ok := p["event"].(map[string]any); ok {
			if name, ok := ev["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}
