package eventcenter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

func newManagerForTest(t *testing.T, filePath string) *RegistrationManager {
	t.Helper()
	return NewRegistrationManager(filePath, time.Second, eventdispatch.NewDispatchManager())
}

func TestRegistrationManagerStartsEmptyWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent", "registrants.json")

	m := newManagerForTest(t, path)
	if len(m.Registrants()) != 0 {
		t.Fatal("expected an empty table")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected an empty snapshot to be written, got error: %v", err)
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("written snapshot is not valid JSON: %v", err)
	}
	if doc.Registrants == nil {
		t.Fatal("written snapshot must have a non-nil registrants key")
	}
}

func TestRegistrationManagerRecoversFromMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registrants.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newManagerForTest(t, path)
	if len(m.Registrants()) != 0 {
		t.Fatal("expected an empty table after recovering from malformed JSON")
	}
}

func TestRegistrationManagerPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registrants.json")

	m := newManagerForTest(t, path)
	m.Register(RegistrationData{CallbackURL: "http://client-a/cb", Events: []string{"order.created"}, Channel: "orders"})
	m.Register(RegistrationData{CallbackURL: "http://client-b/cb", Channel: ""})

	reloaded := newManagerForTest(t, path)
	snapshot := reloaded.Registrants()

	if _, ok := snapshot["http://client-a/cb"]["orders"]; !ok {
		t.Fatalf("expected client-a's orders channel to survive reload, got %#v", snapshot)
	}
	events := snapshot["http://client-a/cb"]["orders"]
	if len(events) != 1 || events[0] != "order.created" {
		t.Fatalf("unexpected reloaded events: %#v", events)
	}
	if _, ok := snapshot["http://client-b/cb"][""]; !ok {
		t.Fatalf("expected client-b's all-events subscription to survive reload, got %#v", snapshot)
	}
}

func TestRegistrationManagerCallbackFailureReapsRegistrant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registrants.json")

	m := newManagerForTest(t, path)
	m.Register(RegistrationData{CallbackURL: "http://127.0.0.1:1", Events: []string{"order.created"}, Channel: ""})

	notifications := make(chan Notification, 8)
	m.Subscribe(notifications)
	defer m.Unsubscribe(notifications)

	m.Post(RemoteEventData{Channel: "", Event: RemoteEventPayload{Name: "order.created"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Registrants()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(m.Registrants()) != 0 {
		t.Fatal("expected the unreachable registrant to be dropped after a failed callback")
	}
}

func TestRegistrationManagerMapEventsFiresTargetOnceConstituentsObserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "registrants.json")
	m := newManagerForTest(t, path)

	received := make(chan string, 1)
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Event struct {
				Name string `json:"name"`
			} `json:"event"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body.Event.Name
		w.WriteHeader(http.StatusOK)
	}))
	defer srv2.Close()

	m.Register(RegistrationData{CallbackURL: srv2.URL, Events: []string{"checkout.complete"}, Channel: ""})

	if _, err := m.MapEvents(EventMappingData{
		Channel: "",
		EventsToMap: []eventdispatch.EventMatcher{
			{Name: "payment.captured"},
			{Name: "inventory.reserved"},
		},
		EventToPost: RemoteEventPayload{Name: "checkout.complete"},
	}); err != nil {
		t.Fatalf("MapEvents failed: %v", err)
	}

	m.Post(RemoteEventData{Event: RemoteEventPayload{Name: "payment.captured"}})
	m.Post(RemoteEventData{Event: RemoteEventPayload{Name: "inventory.reserved"}})

	select {
	case name := <-received:
		if name != "checkout.complete" {
			t.Fatalf("expected checkout.complete, got %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the mapped event to fire once both constituents were observed")
	}
}
