package events

import (
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := make(chan Event, 1)
	b := make(chan Event, 1)
	subA := bus.Subscribe(a)
	defer subA.Unsubscribe()
	subB := bus.Subscribe(b)
	defer subB.Unsubscribe()

	if n := bus.Publish(Event{Kind: KindBuy, AgentID: "alpha", AmountIn: 10}); n != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", n)
	}
	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != KindBuy || ev.AgentID != "alpha" || ev.At.IsZero() {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}

	var nilBus *Bus
	if nilBus.Publish(Event{Kind: KindSell}) != 0 {
		t.Fatalf("nil bus must drop events")
	}
}
