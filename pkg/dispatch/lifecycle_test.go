package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPauseAndResumeTransitions(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())
	rec := newRecorder(d)

	d.Resume() // already active
	if got := rec.count(EventResumed); got != 0 {
		t.Fatalf("resumed = %d on an active dispatcher, want 0", got)
	}

	d.Pause()
	d.Pause()
	if got := rec.count(EventPaused); got != 1 {
		t.Fatalf("paused = %d, want 1", got)
	}
	if !d.IsPaused() {
		t.Fatal("IsPaused() = false after Pause")
	}

	if err := d.Enqueue(noop("a"), noop("b")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := rec.count(EventWillRun); got != 0 {
		t.Fatalf("will-run = %d while paused, want 0", got)
	}

	d.Start()
	d.Resume()
	if got := rec.count(EventResumed); got != 1 {
		t.Fatalf("resumed = %d, want 1", got)
	}
	rec.wait(t, EventTaskSucceeded, 2)
}

func TestStartPaused(t *testing.T) {
	d := newTestDispatcher(t, Config{Automatic: true, StartPaused: true})
	rec := newRecorder(d)

	if !d.IsPaused() {
		t.Fatal("IsPaused() = false with StartPaused")
	}
	if err := d.Enqueue(noop("a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := rec.count(EventWillRun); got != 0 {
		t.Fatalf("will-run = %d before Start, want 0", got)
	}

	d.Start()
	rec.wait(t, EventTaskSucceeded, 1)
	if got := rec.count(EventResumed); got != 1 {
		t.Fatalf("resumed = %d, want 1", got)
	}
}

func TestPauseLetsRunningTasksFinish(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())
	rec := newRecorder(d)

	release := make(chan struct{})
	if err := d.Enqueue(blocking("first", release), noop("second")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventWillRun, 1)

	d.Pause()
	close(release)
	rec.wait(t, EventTaskSucceeded, 1)
	time.Sleep(20 * time.Millisecond)

	if got := rec.count(EventWillRun); got != 1 {
		t.Fatalf("will-run = %d while paused, want 1", got)
	}
	if got := d.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1 queued", got)
	}

	d.Resume()
	rec.wait(t, EventTaskSucceeded, 2)
}

func TestClearFromSucceededHandler(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())
	rec := newRecorder(d)

	var calls atomic.Int32
	task := NewTask("once", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	d.OnTaskSucceeded(func(Result) { d.Clear() })

	if err := d.Enqueue(task, task, task, task, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventQueueDrained, 1)

	if got := calls.Load(); got != 1 {
		t.Fatalf("task ran %d times, want 1", got)
	}
	if got := rec.count(EventCleared); got != 1 {
		t.Fatalf("cleared = %d, want 1", got)
	}
	if got := d.Snapshot().Cleared; got != 4 {
		t.Fatalf("Snapshot().Cleared = %d, want 4", got)
	}
}

func TestClearKeepsRunningTasks(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 2, Automatic: true})
	rec := newRecorder(d)

	release := make(chan struct{})
	if err := d.Enqueue(blocking("a", release), blocking("b", release), noop("c"), noop("d")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventWillRun, 2)

	d.Clear()
	if got := d.Size(); got != 2 {
		t.Fatalf("Size() = %d after Clear, want 2 running", got)
	}

	close(release)
	rec.wait(t, EventTaskSucceeded, 2)
	rec.wait(t, EventQueueDrained, 1)
	if got := rec.count(EventTaskSucceeded); got != 2 {
		t.Fatalf("task-succeeded = %d, want 2", got)
	}
	if got := rec.count(EventWillRun); got != 2 {
		t.Fatalf("will-run = %d, want 2: cleared tasks must not run", got)
	}
}

func TestDestroy(t *testing.T) {
	d := New(Config{Automatic: false})
	rec := newRecorder(d)

	if err := d.Enqueue(noop("a"), noop("b"), noop("c")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	sizeInHandler := -1
	d.OnWillDestroy(func() { sizeInHandler = d.Size() })

	d.Destroy()
	d.Destroy()

	if got := rec.count(EventWillDestroy); got != 1 {
		t.Fatalf("will-destroy = %d, want 1", got)
	}
	if sizeInHandler != 3 {
		t.Fatalf("Size() inside will-destroy = %d, want 3", sizeInHandler)
	}
	if got := d.Size(); got != 0 {
		t.Fatalf("Size() after Destroy = %d, want 0", got)
	}
	if err := d.Enqueue(noop("late")); err != nil {
		t.Fatalf("Enqueue after Destroy = %v, want nil", err)
	}
	if got := d.Size(); got != 0 {
		t.Fatalf("Size() after late Enqueue = %d, want 0", got)
	}
	if err := d.Enqueue(nil); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("Enqueue(nil) after Destroy = %v, want ErrInvalidTask", err)
	}
	if !d.Bus().Disposed() {
		t.Fatal("bus not disposed")
	}

	before := rec.total()
	d.Pause()
	d.Resume()
	d.Clear()
	d.Remove(noop("x"))
	d.Apply(Config{Concurrency: 8, Automatic: true})
	if rec.total() != before {
		t.Fatalf("events after Destroy: %v", rec.types()[before:])
	}
	if !d.Snapshot().Destroyed {
		t.Fatal("Snapshot().Destroyed = false")
	}
}

func TestDestroyWhileRunning(t *testing.T) {
	d := New(DefaultConfig())
	rec := newRecorder(d)

	release := make(chan struct{})
	var finished atomic.Bool
	task := NewTask("inflight", func(context.Context) (any, error) {
		<-release
		finished.Store(true)
		return nil, nil
	})
	if err := d.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventWillRun, 1)

	d.Destroy()
	close(release)
	deadline := time.Now().Add(3 * time.Second)
	for !finished.Load() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	if got := rec.count(EventTaskSucceeded); got != 0 {
		t.Fatalf("task-succeeded = %d after Destroy, want 0", got)
	}
	if got := d.Snapshot().Succeeded; got != 0 {
		t.Fatalf("Snapshot().Succeeded = %d, want 0", got)
	}
}

func TestApplyRaisesConcurrency(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())
	rec := newRecorder(d)

	release := make(chan struct{})
	defer close(release)
	if err := d.Enqueue(blocking("a", release), blocking("b", release)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventWillRun, 1)
	time.Sleep(10 * time.Millisecond)
	if got := rec.count(EventWillRun); got != 1 {
		t.Fatalf("will-run = %d at concurrency 1, want 1", got)
	}

	d.Apply(Config{Concurrency: 2, Automatic: true})
	rec.wait(t, EventWillRun, 2)
	if got := d.Snapshot().Concurrency; got != 2 {
		t.Fatalf("Snapshot().Concurrency = %d, want 2", got)
	}
}

func TestApplyLowersConcurrencyWithoutAborting(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 2, Automatic: true})
	rec := newRecorder(d)

	release := make(chan struct{})
	if err := d.Enqueue(blocking("a", release), blocking("b", release), noop("c")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec.wait(t, EventWillRun, 2)

	d.Apply(Config{Concurrency: 1, Automatic: true})
	if got := d.Snapshot().Running; got != 2 {
		t.Fatalf("Running = %d after lowering concurrency, want 2", got)
	}

	close(release)
	rec.wait(t, EventTaskSucceeded, 3)
	if got := rec.count(EventQueueDrained); got != 1 {
		t.Fatalf("queue-drained = %d, want 1", got)
	}
	if got := rec.count(EventTaskSucceeded); got != 3 {
		t.Fatalf("task-succeeded = %d, want 3", got)
	}
}
