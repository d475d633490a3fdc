package eventbus

import (
	"testing"

	"github.com/wndlink/wndlink/pkg/domain"
)

func TestPublishDispatchesTypedThenGlobal(t *testing.T) {
	bus := New()
	var order []string

	bus.Subscribe(domain.EventMessageFailed, func(e domain.Event) { order = append(order, "typed") })
	bus.SubscribeAll(func(e domain.Event) { order = append(order, "global") })
	bus.Subscribe(domain.EventMessageAcked, func(e domain.Event) { order = append(order, "other") })

	bus.Publish(domain.NewEvent(domain.EventMessageFailed, "42", nil))

	if len(order) != 2 || order[0] != "typed" || order[1] != "global" {
		t.Errorf("unexpected dispatch order %v", order)
	}
	if bus.HandlerCount() != 3 {
		t.Errorf("expected 3 handlers, got %d", bus.HandlerCount())
	}
}

func TestHandlersMayPublish(t *testing.T) {
	bus := New()
	got := 0
	bus.Subscribe(domain.EventCompanionTimeout, func(e domain.Event) {
		bus.Publish(domain.NewEvent(domain.EventCompanionDestroyed, e.AggregateID(), nil))
	})
	bus.Subscribe(domain.EventCompanionDestroyed, func(domain.Event) { got++ })

	bus.Publish(domain.NewEvent(domain.EventCompanionTimeout, "wnd-1", nil))
	if got != 1 {
		t.Errorf("expected nested publish to be delivered once, got %d", got)
	}
}

func TestClosedBusDropsEvents(t *testing.T) {
	bus := New()
	called := false
	bus.SubscribeAll(func(domain.Event) { called = true })
	bus.Close()
	bus.Publish(domain.NewEvent(domain.EventSystemShutdown, "", nil))
	if called {
		t.Error("closed bus must not dispatch")
	}
	if len(bus.Recent(0)) != 0 {
		t.Error("closed bus must not record history")
	}
}

func TestRecentKeepsNewestEvents(t *testing.T) {
	bus := NewWithHistory(3)
	for _, id := range []domain.EntityID{"1", "2", "3", "4", "5"} {
		bus.Publish(domain.NewEvent(domain.EventLogAdded, id, nil))
	}

	recent := bus.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	for i, want := range []domain.EntityID{"3", "4", "5"} {
		if recent[i].AggregateID() != want {
			t.Errorf("position %d: expected %s, got %s", i, want, recent[i].AggregateID())
		}
	}

	last := bus.Recent(1)
	if len(last) != 1 || last[0].AggregateID() != "5" {
		t.Errorf("expected newest event, got %v", last)
	}
}
