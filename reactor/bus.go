package reactor

import (
	"sync"

	"github.com/flashbots/mempool-reactor/metrics"
)

// Bus broadcasts events to every current subscriber.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the channel the subscriber reads events from, it is closed on unsubscribe
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Subscribe returns a new handle that receives events published after this call
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber with free buffer space and returns the number of deliveries
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered, dropped := 0, 0
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}

	metrics.IncEventsPublished()
	if dropped > 0 {
		metrics.IncEventsDropped(dropped)
	}
	return delivered
}

// Close closes every subscription, later publishes are no-ops
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}
