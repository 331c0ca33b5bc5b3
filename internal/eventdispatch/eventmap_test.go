package eventdispatch

import "testing"

func TestMapEventsRequiresAtLeastTwoEvents(t *testing.T) {
	d := NewEventDispatch("")
	_, err := d.MapEvents([]EventMatcher{{Name: "a"}}, NewEvent("done", nil), false)
	if err != ErrInvalidMappingEvents {
		t.Fatalf("expected ErrInvalidMappingEvents, got %v", err)
	}
}

func TestMapEventsRejectsDuplicateConstituents(t *testing.T) {
	d := NewEventDispatch("")
	_, err := d.MapEvents([]EventMatcher{{Name: "a"}, {Name: "a"}}, NewEvent("done", nil), false)
	if err != ErrInvalidMappingEvents {
		t.Fatalf("expected ErrInvalidMappingEvents for duplicate constituents, got %v", err)
	}
}

func TestMapEventsSameKeyRegardlessOfOrder(t *testing.T) {
	d := NewEventDispatch("")
	k1, err := d.MapEvents([]EventMatcher{{Name: "a"}, {Name: "b"}}, NewEvent("done", nil), true)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := d.MapEvents([]EventMatcher{{Name: "b"}, {Name: "a"}}, NewEvent("done", nil), true)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("expected same derived key for reordered matchers, got %q vs %q", k1, k2)
	}
}

func TestDuplicateMappingRejectedUnlessIgnoreIfExists(t *testing.T) {
	d := NewEventDispatch("")
	matchers := []EventMatcher{{Name: "a"}, {Name: "b"}}

	if _, err := d.MapEvents(matchers, NewEvent("done", nil), false); err != nil {
		t.Fatal(err)
	}
	if _, err := d.MapEvents(matchers, NewEvent("done", nil), false); err != ErrDuplicateMapping {
		t.Fatalf("expected ErrDuplicateMapping, got %v", err)
	}
	if _, err := d.MapEvents(matchers, NewEvent("done", nil), true); err != nil {
		t.Fatalf("expected no error with ignoreIfExists, got %v", err)
	}
}

func TestEventMapFiresOnceAllConstituentsObserved(t *testing.T) {
	d := NewEventDispatch("")

	var doneCount int
	d.Register(func(e Event) {
		if e.Name == "done" {
			doneCount++
		}
	}, []string{"done"})

	_, err := d.MapEvents(
		[]EventMatcher{{Name: "a"}, {Name: "b", PayloadSubset: map[string]any{"run_id": 56}}},
		NewEvent("done", nil),
		false,
	)
	if err != nil {
		t.Fatal(err)
	}

	d.PostEvent("a", nil)
	if doneCount != 0 {
		t.Fatalf("expected no 'done' yet, got %d", doneCount)
	}

	d.PostEvent("b", map[string]any{"run_id": 56})
	if doneCount != 1 {
		t.Fatalf("expected exactly one 'done' delivery, got %d", doneCount)
	}

	// Map is removed after firing; re-posting "b" must not fire it again.
	d.PostEvent("b", map[string]any{"run_id": 56})
	if doneCount != 1 {
		t.Fatalf("expected map to have been removed after firing, got doneCount=%d", doneCount)
	}
}

func TestEventMapPayloadSubsetMustMatchExactly(t *testing.T) {
	d := NewEventDispatch("")

	var doneCount int
	d.Register(func(e Event) {
		if e.Name == "done" {
			doneCount++
		}
	}, []string{"done"})

	_, err := d.MapEvents(
		[]EventMatcher{{Name: "a"}, {Name: "b", PayloadSubset: map[string]any{"run_id": 56}}},
		NewEvent("done", nil),
		false,
	)
	if err != nil {
		t.Fatal(err)
	}

	d.PostEvent("a", nil)
	d.PostEvent("b", map[string]any{"run_id": 99})
	if doneCount != 0 {
		t.Fatalf("expected mismatched payload subset to not satisfy the matcher, got doneCount=%d", doneCount)
	}
}

func TestMapEventsDelegatesToInstalledManager(t *testing.T) {
	d := NewEventDispatch("")

	delegate := &fakeMapManager{key: "remote-key"}
	d.SetEventMapManager(delegate)

	key, err := d.MapEvents([]EventMatcher{{Name: "a"}, {Name: "b"}}, NewEvent("done", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	if key != "remote-key" {
		t.Fatalf("expected delegated key, got %q", key)
	}
	if !delegate.called {
		t.Fatal("expected delegate to be invoked")
	}
	if len(d.PendingEventMaps()) != 0 {
		t.Fatal("delegated mapping must not be stored locally")
	}
}

type fakeMapManager struct {
	key    string
	called bool
}

func (f *fakeMapManager) MapEvents(eventsToMap []EventMatcher, eventToPost Event, ignoreIfExists bool) (string, error) {
	f.called = true
	return f.key, nil
}
