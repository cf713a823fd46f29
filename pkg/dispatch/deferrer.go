package dispatch

import "sync"

// Deferrer runs fn on a later scheduling turn, after the caller's stack unwinds.
type Deferrer interface {
	Defer(fn func())
}

// DeferFunc adapts a plain function to Deferrer.
type DeferFunc func(fn func())

func (f DeferFunc) Defer(fn func()) { f(fn) }

// GoDeferrer runs each deferred call on a new goroutine.
type GoDeferrer struct{}

func (GoDeferrer) Defer(fn func()) { go fn() }

// ManualDeferrer holds deferred calls until Flush. Tests use it to register
// observers after Enqueue and still see every event of the batch.
type ManualDeferrer struct {
	mu      sync.Mutex
	pending []func()
}

func (m *ManualDeferrer) Defer(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Pending reports how many calls are waiting.
func (m *ManualDeferrer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush runs queued calls on the calling goroutine until none are left,
// including calls deferred while flushing. It returns how many ran.
func (m *ManualDeferrer) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return n
		}
		fns := m.pending
		m.pending = nil
		m.mu.Unlock()

		for _, fn := range fns {
			fn()
			n++
		}
	}
}
