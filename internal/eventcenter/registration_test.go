package eventcenter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

func TestRegistrationDeliversCallbackOnMatchingEvent(t *testing.T) {
	var mu sync.Mutex
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":"true"}`))
	}))
	defer srv.Close()

	dispatch := eventdispatch.NewEventDispatch("")
	reg := NewRegistration(srv.URL, "order.created", "", dispatch, time.Second)
	defer reg.Cancel()

	dispatch.PostEvent("order.created", map[string]any{"id": 42})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotBody
		mu.Unlock()
		if got != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotBody == nil {
		t.Fatal("expected callback delivery, got none")
	}
	event, ok := gotBody["event"].(map[string]any)
	if !ok || event["name"] != "order.created" {
		t.Fatalf("unexpected callback body: %#v", gotBody)
	}
}

func TestRegistrationSkipsDeliveryWhenSenderURLIsCallbackURL(t *testing.T) {
	delivered := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatch := eventdispatch.NewEventDispatch("")
	reg := NewRegistration(srv.URL, "order.created", "", dispatch, time.Second)
	defer reg.Cancel()

	dispatch.PostEvent("order.created", map[string]any{
		"metadata": map[string]any{"sender_url": srv.URL},
	})

	time.Sleep(50 * time.Millisecond)
	if delivered {
		t.Fatal("callback must not be delivered back to its own sender_url")
	}
}

func TestRegistrationCancelIsIdempotent(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")
	reg := NewRegistration("http://127.0.0.1:1", "x", "", dispatch, time.Millisecond)
	reg.Cancel()
	reg.Cancel()
}

func TestUnreachableCallbackCancelsAndPostsCallbackFailed(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")

	var gotFailed eventdispatch.Event
	gotCh := make(chan struct{}, 1)
	dispatch.Register(func(e eventdispatch.Event) {
		gotFailed = e
		gotCh <- struct{}{}
	}, []string{CallbackFailedEvent})

	reg := NewRegistration("http://127.0.0.1:1", "order.created", "mychan", dispatch, 200*time.Millisecond)

	dispatch.PostEvent("order.created", nil)

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected registration.callback_failed to be posted")
	}

	if gotFailed.Payload["callback_url"] != "http://127.0.0.1:1" {
		t.Fatalf("unexpected callback_failed payload: %#v", gotFailed.Payload)
	}
	if !reg.cancelled {
		t.Fatal("registration should be cancelled after an unreachable callback")
	}
}
