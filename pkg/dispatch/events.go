package dispatch

import (
	"time"

	"taskgate/pkg/eventbus"
)

// Event names published on the dispatcher's bus.
const (
	EventTaskAdded     = "task-added"     // Data: *Task
	EventTaskRemoved   = "task-removed"   // Data: *Task
	EventWillRun       = "will-run"       // Data: *Task
	EventTaskSucceeded = "task-succeeded" // Data: Result
	EventTaskFailed    = "task-failed"    // Data: Failure
	EventPaused        = "paused"
	EventResumed       = "resumed"
	EventCleared       = "cleared"
	EventQueueDrained  = "queue-drained"
	EventWillDestroy   = "will-destroy"
)

// Result is the payload of task-succeeded.
type Result struct {
	Task     *Task
	Value    any
	Duration time.Duration
}

// Failure is the payload of task-failed. Err matches ErrTimedOut or
// ErrTaskPanic via errors.Is when the failure came from the dispatcher.
type Failure struct {
	Task     *Task
	Err      error
	Duration time.Duration
}

// On subscribes h to one event name. The returned func detaches h.
func (d *Dispatcher) On(name string, h eventbus.Handler) func() {
	return d.bus.On(name, h)
}

func (d *Dispatcher) onTask(name string, fn func(*Task)) func() {
	return d.bus.On(name, func(e eventbus.Event) {
		if t, ok := e.Data.(*Task); ok {
			fn(t)
		}
	})
}

func (d *Dispatcher) onSignal(name string, fn func()) func() {
	return d.bus.On(name, func(eventbus.Event) { fn() })
}

func (d *Dispatcher) OnTaskAdded(fn func(*Task)) func()   { return d.onTask(EventTaskAdded, fn) }
func (d *Dispatcher) OnTaskRemoved(fn func(*Task)) func() { return d.onTask(EventTaskRemoved, fn) }
func (d *Dispatcher) OnWillRun(fn func(*Task)) func()     { return d.onTask(EventWillRun, fn) }

func (d *Dispatcher) OnTaskSucceeded(fn func(Result)) func() {
	return d.bus.On(EventTaskSucceeded, func(e eventbus.Event) {
		if r, ok := e.Data.(Result); ok {
			fn(r)
		}
	})
}

func (d *Dispatcher) OnTaskFailed(fn func(Failure)) func() {
	return d.bus.On(EventTaskFailed, func(e eventbus.Event) {
		if f, ok := e.Data.(Failure); ok {
			fn(f)
		}
	})
}

func (d *Dispatcher) OnPaused(fn func()) func()       { return d.onSignal(EventPaused, fn) }
func (d *Dispatcher) OnResumed(fn func()) func()      { return d.onSignal(EventResumed, fn) }
func (d *Dispatcher) OnCleared(fn func()) func()      { return d.onSignal(EventCleared, fn) }
func (d *Dispatcher) OnQueueDrained(fn func()) func() { return d.onSignal(EventQueueDrained, fn) }
func (d *Dispatcher) OnWillDestroy(fn func()) func()  { return d.onSignal(EventWillDestroy, fn) }
