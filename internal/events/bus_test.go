package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 4)
	defer unsub()

	bus.Publish(EventPriceTick, Broadcast{ChatID: "c1", Text: "BTCUSDT @ 100"})

	select {
	case msg := <-ch:
		bc, ok := msg.(Broadcast)
		if !ok || bc.Text != "BTCUSDT @ 100" {
			t.Errorf("got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventError, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Second publish overflows the buffer; it must drop, not block.
		bus.Publish(EventError, "one")
		bus.Publish(EventError, "two")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderBought, 1)
	unsub()

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing to a topic with no subscribers is a no-op.
	bus.Publish(EventOrderBought, "ignored")
}
