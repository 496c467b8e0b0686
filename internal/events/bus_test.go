package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus(16)
	ctx := context.Background()

	types := []Type{TypeStarting, TypeConnecting, TypeConnected, TypeTradeReceived, TypeStopping}
	for _, typ := range types {
		if !bus.Publish(ctx, Event{Type: typ}) {
			t.Fatalf("publish %s failed", typ)
		}
	}
	bus.Close()

	var got []Type
	for ev := range bus.Events() {
		got = append(got, ev.Type)
	}
	if len(got) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(got))
	}
	for i, typ := range types {
		if got[i] != typ {
			t.Errorf("position %d: expected %s, got %s", i, typ, got[i])
		}
	}
}

// A full bus must block the publisher rather than drop, and deliver every
// event once a consumer starts draining.
func TestPublishBlocksWhenFull(t *testing.T) {
	bus := NewBus(1)
	ctx := context.Background()

	if !bus.Publish(ctx, Event{Type: TypeStarting}) {
		t.Fatal("first publish failed")
	}

	second := make(chan bool)
	go func() {
		second <- bus.Publish(ctx, Event{Type: TypeConnected})
	}()

	select {
	case <-second:
		t.Fatal("publish returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	if ev := <-bus.Events(); ev.Type != TypeStarting {
		t.Fatalf("unexpected first event: %s", ev.Type)
	}
	select {
	case ok := <-second:
		if !ok {
			t.Fatal("blocked publish reported failure")
		}
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after space freed")
	}
	if ev := <-bus.Events(); ev.Type != TypeConnected {
		t.Fatalf("unexpected second event: %s", ev.Type)
	}
}

func TestPublishCancelled(t *testing.T) {
	bus := NewBus(1)
	ctx, cancel := context.WithCancel(context.Background())

	if !bus.Publish(ctx, Event{Type: TypeStarting}) {
		t.Fatal("first publish failed")
	}

	done := make(chan bool)
	go func() {
		done <- bus.Publish(ctx, Event{Type: TypeConnected})
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("publish succeeded after cancellation with a full buffer")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled publish did not return")
	}

	stats := bus.Stats()
	if stats.Published != 1 || stats.Dropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPublishOnClosedBus(t *testing.T) {
	bus := NewBus(4)
	bus.Close()

	if bus.Publish(context.Background(), Event{Type: TypeStarting}) {
		t.Fatal("publish on closed bus succeeded")
	}
	if stats := bus.Stats(); stats.Dropped != 1 {
		t.Errorf("unexpected dropped count: %d", stats.Dropped)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	bus.Close()
}

func TestPublishStampsTime(t *testing.T) {
	bus := NewBus(1)
	before := time.Now()
	bus.Publish(context.Background(), Event{Type: TypeStarting})
	ev := <-bus.Events()
	if ev.Time.Before(before) {
		t.Errorf("event time not stamped: %v", ev.Time)
	}
}
