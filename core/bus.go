package core

import (
	"sync"
	"sync/atomic"
)

// PublishResult is the synchronous answer producers get from
// Publish: the call never blocks, so overload and shutdown surface
// here instead of as backpressure.
type PublishResult struct {
	OK      bool
	Dropped bool
	Closed  bool
	Reason  string
}

// InputBus is the bounded, producer-nonblocking, single-consumer queue
// between adapters and the session router.
//
// Policy: drop-newest-on-full. Producers are never slowed down;
// overload is visible through DroppedTotal and, downstream, through
// pain alerts emitted by the system session.
type InputBus struct {
	ch     chan *Observation
	mu     sync.RWMutex
	closed bool

	publishedTotal atomic.Int64
	droppedTotal   atomic.Int64
	consumedTotal  atomic.Int64
}

// DefaultBusCapacity is the bus queue bound.
const DefaultBusCapacity = 1000

// NewInputBus creates a bus with the given capacity (DefaultBusCapacity
// when size <= 0).
func NewInputBus(size int) *InputBus {
	if size <= 0 {
		size = DefaultBusCapacity
	}
	return &InputBus{ch: make(chan *Observation, size)}
}

// Publish validates and enqueues without blocking. Validation failures
// and full-queue drops are reported in the result, never as panics or
// blocking.
func (b *InputBus) Publish(obs *Observation) PublishResult {
	if err := obs.Validate(); err != nil {
		return PublishResult{Reason: err.Error()}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return PublishResult{Closed: true, Dropped: true, Reason: "closed"}
	}

	select {
	case b.ch <- obs:
		b.publishedTotal.Add(1)
		return PublishResult{OK: true}
	default:
		b.droppedTotal.Add(1)
		return PublishResult{Dropped: true, Reason: "queue_full"}
	}
}

// Consume exposes the FIFO stream to the single consumer (the router).
// The channel is closed once Close is called and no further items will
// be enqueued; buffered items remain readable until drained.
func (b *InputBus) Consume() <-chan *Observation {
	return b.ch
}

// Next receives one observation, counting consumption. ok is false once
// the bus is closed and drained.
func (b *InputBus) Next() (*Observation, bool) {
	obs, ok := <-b.ch
	if ok {
		b.consumedTotal.Add(1)
	}
	return obs, ok
}

// Close stops accepting publishes and lets the consumer drain the
// remainder. Idempotent.
func (b *InputBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Closed reports whether Close has been called.
func (b *InputBus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Size returns the number of buffered observations.
func (b *InputBus) Size() int { return len(b.ch) }

// PublishedTotal returns the count of accepted publish calls.
func (b *InputBus) PublishedTotal() int64 { return b.publishedTotal.Load() }

// DroppedTotal returns the count of drops due to a full queue.
func (b *InputBus) DroppedTotal() int64 { return b.droppedTotal.Load() }

// ConsumedTotal returns the count of consumed observations.
func (b *InputBus) ConsumedTotal() int64 { return b.consumedTotal.Load() }
