package eventbus

import (
	"sync"
)

// DefaultBufferSize is the default bounded per-subscriber buffer
// (spec.md §4.6).
const DefaultBufferSize = 1024

// Bus is a multi-subscriber broadcast of Events. Publish never blocks the
// producer: each subscriber has its own bounded channel, and a full
// channel has its oldest events dropped to make room for a
// LaggedSubscriber marker followed by the new event.
//
// Ordering: per producer (caller of Publish), delivery to any one
// subscriber is FIFO. Across producers (different goroutines calling
// Publish concurrently), no ordering is promised — matching spec.md §4.6.
type Bus struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers map[*Subscription]struct{}
}

func New() *Bus {
	return NewWithBufferSize(DefaultBufferSize)
}

func NewWithBufferSize(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize:  bufferSize,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription is a handle returned by Subscribe. Events() yields the
// subscriber's event stream; it is closed when the Bus closes the
// subscription (via Unsubscribe or Close).
type Subscription struct {
	bus    *Bus
	ch     chan Event
	closed bool

	mu           sync.Mutex
	droppedCount int
}

// Events returns the channel of events delivered to this subscription.
// The channel is closed once Unsubscribe (or Bus.Close) runs.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Subscribe attaches a new subscriber to the bus with the bus's
// per-subscriber buffer size.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, b.bufferSize)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches a subscriber and releases its buffer. Idempotent:
// calling it twice, or on an already-closed-by-Close subscription, is a
// no-op the second time.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, present := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()

	if !present {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Close detaches and closes every current subscription, ending each
// subscriber's Events() channel. Nothing in the run lifecycle calls it:
// the process-wide bus stays open across runs.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribers = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// Publish fans ev out to every current subscriber without blocking the
// producer. Each event is cloned per subscriber so no two subscribers, and
// no subscriber and the producer, can alias the same Payload map.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev.clone())
	}
}

// deliver attempts a non-blocking send. On a full buffer it drops the
// oldest queued events to make room, counts the drops, and enqueues a
// LaggedSubscriber marker event carrying the running drop count directly
// ahead of ev, so the marker arrives with this delivery.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	// Buffer is full: drop the oldest events until there is room for both
	// the marker and ev, counting every drop.
	for len(s.ch) > 0 && cap(s.ch)-len(s.ch) < 2 {
		select {
		case <-s.ch:
			s.droppedCount++
		default:
		}
	}

	marker := Event{
		RunID:     ev.RunID,
		Timestamp: ev.Timestamp,
		Kind:      KindLaggedSubscriber,
		Payload:   map[string]any{"droppedCount": s.droppedCount},
	}
	select {
	case s.ch <- marker:
	default:
	}
	select {
	case s.ch <- ev:
	default:
		// Only a one-slot buffer gets here: the marker took the freed
		// slot. ev is dropped and counted in the next marker.
		s.droppedCount++
	}
}
