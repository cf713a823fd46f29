package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Handlers registered with On run synchronously, in subscription order.
//   - Channel subscribers get non-blocking fanout; slow subscribers may drop events.
//   - After Dispose nothing is delivered.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Handler observes one event type.
type Handler func(e Event)

type Bus interface {
	Publish(e Event)
	On(typ string, h Handler) (off func())
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dispose()
	Disposed() bool
}

// New returns a simple in-memory bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{
		handlers: map[string][]handlerEntry{},
		subs:     map[uint64]chan Event{},
	}
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type memBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	subs     map[uint64]chan Event
	seq      atomic.Uint64
	disposed bool
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot observers so Publish doesn't hold locks while delivering;
	// handlers are free to call back into the bus.
	b.mu.RLock()
	if b.disposed {
		b.mu.RUnlock()
		return
	}
	hs := append([]handlerEntry(nil), b.handlers[e.Type]...)
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h.fn(e)
	}

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) On(typ string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return func() {}
	}
	b.handlers[typ] = append(b.handlers[typ], handlerEntry{id: id, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[typ]
			for i := range hs {
				if hs[i].id == id {
					// Copy so in-flight Publish snapshots stay intact.
					next := make([]handlerEntry, 0, len(hs)-1)
					next = append(next, hs[:i]...)
					next = append(next, hs[i+1:]...)
					if len(next) == 0 {
						delete(b.handlers, typ)
					} else {
						b.handlers[typ] = next
					}
					return
				}
			}
		})
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			if ok {
				close(ch)
			}
		})
	}
	return ch, unsub
}

// Dispose detaches every observer and closes channel subscribers.
// Calling it more than once is a no-op.
func (b *memBus) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	subs := b.subs
	b.subs = map[uint64]chan Event{}
	b.handlers = map[string][]handlerEntry{}
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (b *memBus) Disposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}
