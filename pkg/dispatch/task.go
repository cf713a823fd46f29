package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Func is the body of a task. The context is cancelled when the task's
// timeout elapses; the dispatcher stops waiting at that point either way.
type Func func(ctx context.Context) (any, error)

// Task is a unit of work. Identity is the pointer: Remove and the running set
// compare *Task values, never IDs or names.
type Task struct {
	ID   string
	Name string
	Run  Func
}

// NewTask returns a task with a random ID.
func NewTask(name string, run Func) *Task {
	return &Task{ID: uuid.NewString(), Name: name, Run: run}
}

// Do adapts a function that only reports an error.
func Do(name string, fn func(ctx context.Context) error) *Task {
	if fn == nil {
		return &Task{ID: uuid.NewString(), Name: name}
	}
	return NewTask(name, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
}

func (t *Task) valid() bool { return t != nil && t.Run != nil }

func (t *Task) label() string {
	if t.Name != "" {
		return t.Name
	}
	if t.ID != "" {
		return t.ID
	}
	return "anonymous"
}
