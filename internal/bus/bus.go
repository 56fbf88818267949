package bus

import (
	"sync"
)

// Bus is an in-process publish/subscribe event bus with enumerated kinds.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	kinds map[Kind]struct{} // nil means all kinds
	ch    chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers registered for its kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[evt.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop event if subscriber is full (non-blocking).
		}
	}
}

// Subscribe returns a channel that receives events of the given kinds.
// With no kinds every event is delivered. bufSize controls the channel
// buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(bufSize int, kinds ...Kind) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	var set map[Kind]struct{}
	if len(kinds) > 0 {
		set = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			set[k] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{kinds: set, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
