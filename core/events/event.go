package events

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"

	"nftmarket/core/types"
)

// Emitter accepts committed events for downstream consumers (websocket
// stream, indexer). Ledger transactions queue through it and the Bus
// delivers through it.
type Emitter interface {
	Emit(types.Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(types.Event) {}

// Bus fans committed events out to any number of subscribers. Publishing never
// blocks on a slow subscriber: each subscription relays through its own
// buffer and drops events once that buffer is full.
type Bus struct {
	feed    event.FeedOf[types.Event]
	dropped atomic.Uint64
}

var _ Emitter = (*Bus)(nil)

// Emit delivers one event to every live subscription.
func (b *Bus) Emit(evt types.Event) {
	if b == nil {
		return
	}
	b.feed.Send(evt.Clone())
}

// Publish delivers the events, in order, to every live subscription.
func (b *Bus) Publish(evts []types.Event) {
	for _, evt := range evts {
		b.Emit(evt)
	}
}

// Dropped reports how many deliveries were discarded because a subscriber
// fell behind.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Subscription is a buffered view over the bus.
type Subscription struct {
	C <-chan types.Event

	sub  event.Subscription
	quit chan struct{}
	once sync.Once
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	relay := make(chan types.Event)
	out := make(chan types.Event, buffer)
	s := &Subscription{
		C:    out,
		sub:  b.feed.Subscribe(relay),
		quit: make(chan struct{}),
	}
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-relay:
				select {
				case out <- evt:
				default:
					b.dropped.Add(1)
				}
			case <-s.sub.Err():
				return
			case <-s.quit:
				return
			}
		}
	}()
	return s
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		close(s.quit)
	})
}
