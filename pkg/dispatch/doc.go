// Package dispatch runs deferred tasks with bounded concurrency.
//
// A Dispatcher keeps a FIFO backlog of tasks and starts at most
// Config.Concurrency of them at a time, each on its own goroutine. Every
// state change is published on an eventbus.Bus under the Event* names so
// observers can follow a task from task-added through will-run to
// task-succeeded or task-failed.
//
//	d := dispatch.New(dispatch.Config{Concurrency: 4, Automatic: true})
//	d.OnTaskFailed(func(f dispatch.Failure) { ... })
//	_ = d.Enqueue(dispatch.NewTask("fetch", fetch))
//
// Task failures (including timeouts and panics) never surface to the caller
// of Enqueue; they are only reported through task-failed.
package dispatch
