package eventrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

func TestAdapterPostEventStampsSenderURL(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":"true"}`))
	}))
	defer srv.Close()

	a := NewAdapter("http://client/cb", srv.URL, time.Second, nil)
	event := eventdispatch.NewEvent("order.created", map[string]any{"id": 1})

	if err := a.PostEvent(context.Background(), "orders", event); err != nil {
		t.Fatalf("PostEvent failed: %v", err)
	}

	eventBody, ok := gotBody["event"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected request body: %#v", gotBody)
	}
	payload, ok := eventBody["payload"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected event payload: %#v", eventBody)
	}
	metadata, ok := payload["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata in posted payload: %#v", payload)
	}
	if metadata["sender_url"] != "http://client/cb" {
		t.Fatalf("expected sender_url to be stamped, got %#v", metadata)
	}
}

func TestAdapterPostReturnsErrorOnApplicationRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":"false","error":"bad request"}`))
	}))
	defer srv.Close()

	a := NewAdapter("http://client/cb", srv.URL, time.Second, nil)
	err := a.Register(context.Background(), nil, "", false)
	if err == nil {
		t.Fatal("expected an error when the event center rejects the request")
	}
}

func TestAdapterOnEventDispatchesToHandler(t *testing.T) {
	got := make(chan eventdispatch.Event, 1)
	a := NewAdapter("http://client/cb", "http://broker", time.Second, func(channel string, event eventdispatch.Event) {
		got <- event
	})

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+CallbackEndpoint, "application/json", strings.NewReader(`{
		"channel": "orders",
		"event": {"id": "abc", "name": "order.created", "time": 1700000000, "payload": {"id": 1}}
	}`))
	if err != nil {
		t.Fatalf("POST to callback endpoint failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case event := <-got:
		if event.Name != "order.created" {
			t.Fatalf("unexpected event name: %q", event.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the handler to be invoked")
	}
}
