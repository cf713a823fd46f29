package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskgate/pkg/eventbus"
)

var allEvents = []string{
	EventTaskAdded, EventTaskRemoved, EventWillRun, EventTaskSucceeded, EventTaskFailed,
	EventPaused, EventResumed, EventCleared, EventQueueDrained, EventWillDestroy,
}

// recorder captures every dispatcher event; handlers fire from task goroutines.
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func newRecorder(d *Dispatcher) *recorder {
	r := &recorder{}
	for _, name := range allEvents {
		d.On(name, r.add)
	}
	return r
}

func (r *recorder) add(e eventbus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == name {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) of(name string) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) wait(t *testing.T, name string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(name) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events (got %d): %v", n, name, r.count(name), r.types())
}

func noop(name string) *Task {
	return NewTask(name, func(context.Context) (any, error) { return nil, nil })
}

// blocking returns a task that runs until release is closed, ignoring its context.
func blocking(name string, release <-chan struct{}) *Task {
	return NewTask(name, func(context.Context) (any, error) {
		<-release
		return name, nil
	})
}

func sleeping(name string, d time.Duration) *Task {
	return NewTask(name, func(context.Context) (any, error) {
		time.Sleep(d)
		return name, nil
	})
}

func newTestDispatcher(t *testing.T, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(cfg, opts...)
	t.Cleanup(d.Destroy)
	return d
}
