package eventdispatch

import (
	"sync"
	"testing"
)

func TestRegisterSpecificEventDeliversOnlyThatEvent(t *testing.T) {
	d := NewEventDispatch("")

	var got []Event
	var mu sync.Mutex
	handler := func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}

	d.Register(handler, []string{"greet"})
	d.PostEvent("greet", map[string]any{"name": "Alice"})
	d.PostEvent("ignored", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Name != "greet" {
		t.Errorf("expected greet, got %s", got[0].Name)
	}
}

func TestRegisterAllEventsReceivesEverySubsequentPost(t *testing.T) {
	d := NewEventDispatch("")

	var names []string
	var mu sync.Mutex
	handler := func(e Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	}

	d.Register(handler, nil)
	d.PostEvent("a", nil)
	d.PostEvent("b", nil)

	mu.Lock()
	defer mu.Unlock()
	// handler_registered (from Register itself) + a + b
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["a"] || !found["b"] || !found[EventHandlerRegistered] {
		t.Fatalf("expected a, b, and %s in %v", EventHandlerRegistered, names)
	}
}

func TestDuplicateRegisterIsNoOp(t *testing.T) {
	d := NewEventDispatch("")

	handler := func(Event) {}

	d.Register(handler, []string{"x"})
	d.Register(handler, []string{"x"})

	// A handler registered only for "x" never receives handler_registered,
	// so count the posts in the event log instead.
	calls := 0
	for _, e := range d.RecentEvents(0) {
		if e.Name == EventHandlerRegistered {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 handler_registered post, the duplicate registration must not post another, got %d", calls)
	}
}

func TestUnregisterUnknownHandlerIsNoOp(t *testing.T) {
	d := NewEventDispatch("")
	unrelated := func(Event) {}

	unregisteredSeen := false
	watcher := func(e Event) {
		if e.Name == EventHandlerUnregistered {
			unregisteredSeen = true
		}
	}
	d.Register(watcher, nil)
	d.Unregister(unrelated, []string{"x"})

	if unregisteredSeen {
		t.Fatal("unregister of an unknown handler must not post handler_unregistered")
	}
}

func TestRegisterThenUnregisterRestoresObservableState(t *testing.T) {
	d := NewEventDispatch("")

	delivered := 0
	handler := func(Event) { delivered++ }

	d.Register(handler, []string{"x"})
	d.Unregister(handler, []string{"x"})

	delivered = 0
	d.PostEvent("x", nil)
	if delivered != 0 {
		t.Fatalf("expected no delivery after unregister, got %d", delivered)
	}
}

func TestPostEventSkipsSkipHandler(t *testing.T) {
	d := NewEventDispatch("")

	var called bool
	h := func(Event) { called = true }
	d.Register(h, []string{"x"})

	d.PostEvent("x", nil, IdentityOf(h))

	if called {
		t.Fatal("handler passed as skip must not be invoked")
	}
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	d := NewEventDispatch("")

	var secondCalled bool
	panicker := func(Event) { panic("boom") }
	second := func(Event) { secondCalled = true }

	d.Register(panicker, []string{"x"})
	d.Register(second, []string{"x"})

	d.PostEvent("x", nil)

	if !secondCalled {
		t.Fatal("a panicking handler must not prevent delivery to the next handler")
	}
}

func TestPublishingOnChannelWithNoDispatchersFansOutToZero(t *testing.T) {
	mgr := NewDispatchManager()
	d := mgr.AddEventDispatch("brand-new")
	// Must not panic or error with zero subscribers.
	d.PostEvent("whatever", nil)
}

func TestRecentEventsCapsAtLimit(t *testing.T) {
	d := NewEventDispatch("")
	for i := 0; i < 5; i++ {
		d.PostEvent("x", nil)
	}
	recent := d.RecentEvents(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
}
