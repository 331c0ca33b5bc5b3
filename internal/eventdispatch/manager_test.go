package eventdispatch

import "testing"

func TestDefaultDispatchIsLazilyCreatedAndStable(t *testing.T) {
	mgr := NewDispatchManager()
	d1 := mgr.DefaultDispatch()
	d2 := mgr.DefaultDispatch()
	if d1 != d2 {
		t.Fatal("DefaultDispatch must return the same instance on repeated calls")
	}
	if d1.Channel() != DefaultChannel {
		t.Fatalf("expected default channel, got %q", d1.Channel())
	}
}

func TestAddEventDispatchIsIdempotent(t *testing.T) {
	mgr := NewDispatchManager()
	a := mgr.AddEventDispatch("red")
	b := mgr.AddEventDispatch("red")
	if a != b {
		t.Fatal("AddEventDispatch must not replace an existing dispatch")
	}
}

func TestChannelIsolation(t *testing.T) {
	mgr := NewDispatchManager()
	red := mgr.AddEventDispatch("red")
	blue := mgr.AddEventDispatch("blue")

	var redGot bool
	red.Register(func(Event) { redGot = true }, []string{"x"})

	blue.PostEvent("x", nil)

	if redGot {
		t.Fatal("event posted on 'blue' must not reach a handler registered on 'red'")
	}
}

func TestEventDispatchersSnapshotReflectsAllChannels(t *testing.T) {
	mgr := NewDispatchManager()
	mgr.AddEventDispatch("")
	mgr.AddEventDispatch("red")

	dispatchers := mgr.EventDispatchers()
	if _, ok := dispatchers[""]; !ok {
		t.Fatal("expected default channel present")
	}
	if _, ok := dispatchers["red"]; !ok {
		t.Fatal("expected red channel present")
	}
}
