package eventcenter

import (
	"testing"
	"time"

	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
)

func TestRegistrantRegisterDedupsSameChannelAndEvent(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")
	r := NewRegistrant("http://example.com/cb", time.Second)

	if !r.Register("order.created", "", dispatch) {
		t.Fatal("first Register for a new key should return true")
	}
	if r.Register("order.created", "", dispatch) {
		t.Fatal("duplicate Register for the same (channel, event) should return false")
	}
}

func TestRegistrantUnregisterDropsEmptyChannelEntry(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")
	r := NewRegistrant("http://example.com/cb", time.Second)

	r.Register("order.created", "orders", dispatch)
	if !r.Unregister("order.created", "orders") {
		t.Fatal("Unregister of an existing registration should return true")
	}
	if _, ok := r.Registrations()["orders"]; ok {
		t.Fatal("channel entry should be removed once its last registration is gone")
	}
	if r.Unregister("order.created", "orders") {
		t.Fatal("Unregister of an already-removed registration should return false")
	}
}

func TestRegistrantUnregisterAllReportsWhetherAnythingWasRemoved(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")
	r := NewRegistrant("http://example.com/cb", time.Second)

	if r.UnregisterAll() {
		t.Fatal("UnregisterAll on an empty Registrant should return false")
	}

	r.Register("order.created", "", dispatch)
	if !r.UnregisterAll() {
		t.Fatal("UnregisterAll with registrations present should return true")
	}
	if !r.IsEmpty() {
		t.Fatal("Registrant should be empty after UnregisterAll")
	}
}

func TestRegistrantAllEventsSubscriptionUsesDistinctKeyFromNamedEvents(t *testing.T) {
	dispatch := eventdispatch.NewEventDispatch("")
	r := NewRegistrant("http://example.com/cb", time.Second)

	r.Register("", "", dispatch)
	if !r.Register("order.created", "", dispatch) {
		t.Fatal("a named-event registration must not collide with the all-events registration")
	}
}
