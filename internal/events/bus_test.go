package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(EventTradeExecuted, 1)
	b, unsubB := bus.Subscribe(EventTradeExecuted, 1)
	defer unsubA()
	defer unsubB()

	bus.Publish(EventTradeExecuted, "t1")
	if got := <-a; got != "t1" {
		t.Fatalf("a got %v, expected t1", got)
	}
	if got := <-b; got != "t1" {
		t.Fatalf("b got %v, expected t1", got)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 1)
	bus.Publish(EventPriceTick, 2)
	if bus.Dropped() != 1 {
		t.Fatalf("Dropped=%d, expected 1", bus.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventFeedDown, 0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventFeedDown, "x")
	if bus.Dropped() != 0 {
		t.Fatalf("Dropped=%d, expected 0 once unsubscribed", bus.Dropped())
	}
}
