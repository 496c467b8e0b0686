package events

import (
	"context"
	"sync"
	"time"

	"hyperflow/logger"
)

// BusStats counts traffic through the bus. Dropped counts publishes that were
// abandoned because the bus was closed or the context was cancelled; the bus
// itself never sheds events while open.
type BusStats struct {
	Published int64
	Dropped   int64
}

// Bus is a bounded, ordered channel of client events with a single producer.
// When the buffer is full Publish blocks, applying backpressure to the
// receive loop instead of dropping.
type Bus struct {
	ch chan Event

	mu     sync.Mutex
	stats  BusStats
	closed bool

	log *logger.Log
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	b := &Bus{
		ch:  make(chan Event, capacity),
		log: logger.GetLogger(),
	}
	b.log.WithComponent("event_bus").WithFields(logger.Fields{
		"capacity": capacity,
	}).Info("event bus initialized")
	return b
}

// Publish places ev on the bus, blocking while the buffer is full. It returns
// false when the context is cancelled or the bus has been closed, in which
// case the event is dropped and counted.
func (b *Bus) Publish(ctx context.Context, ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.stats.Dropped++
		b.mu.Unlock()
		b.log.WithComponent("event_bus").WithFields(logger.Fields{
			"event": string(ev.Type),
		}).Warn("publish on closed bus, event dropped")
		return false
	}
	b.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case b.ch <- ev:
		b.mu.Lock()
		b.stats.Published++
		b.mu.Unlock()
		return true
	case <-ctx.Done():
		b.mu.Lock()
		b.stats.Dropped++
		b.mu.Unlock()
		return false
	}
}

// Events returns the receive side of the bus. Delivery order matches
// publication order; events consumed before a reader attaches are not
// replayed.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close stops the bus. The producer must have stopped publishing before
// Close is called. Pending events remain readable until drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
	b.log.WithComponent("event_bus").Info("event bus closed")
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
