package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "taskgate/pkg/logx"
)

const slowTaskThreshold = 750 * time.Millisecond

type outcome struct {
	value any
	err   error
}

// execute runs one admitted task, publishes its outcome and re-enters
// admission. It never fails outward.
func (d *Dispatcher) execute(r *run) {
	d.mu.Lock()
	timeout := d.cfg.Timeout
	d.mu.Unlock()

	start := time.Now()
	value, err := d.invoke(r.task, timeout)
	dur := time.Since(start)

	d.mu.Lock()
	// Destroy empties the running set; deleting a missing entry is a no-op.
	delete(d.running, r)
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.stats.failed++
		if errors.Is(err, ErrTimedOut) {
			d.stats.timedOut++
		}
	} else {
		d.stats.succeeded++
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Warn("task.failed", logx.String("task", r.task.label()), logx.Err(err), logx.Duration("dur", dur))
		d.publish(EventTaskFailed, Failure{Task: r.task, Err: err, Duration: dur})
	} else {
		if dur >= slowTaskThreshold {
			d.log.Info("task.completed", logx.String("task", r.task.label()), logx.Duration("dur", dur))
		} else {
			d.log.Debug("task.completed", logx.String("task", r.task.label()), logx.Duration("dur", dur))
		}
		d.publish(EventTaskSucceeded, Result{Task: r.task, Value: value, Duration: dur})
	}

	d.tryAdmit()
}

// invoke runs the task, racing it against timeout when one is set. On timeout
// the task's context is cancelled and its late result is discarded.
func (d *Dispatcher) invoke(t *Task, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return d.safeRun(context.Background(), t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Buffered so a task finishing after the timeout never blocks.
	done := make(chan outcome, 1)
	go func() {
		v, err := d.safeRun(ctx, t)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		// A task that gave up because its deadline passed still counts as timed out.
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut(timeout)
		}
		return o.value, o.err
	case <-ctx.Done():
		return nil, timedOut(timeout)
	}
}

func timedOut(after time.Duration) error {
	return fmt.Errorf("%w after %s", ErrTimedOut, after)
}

// safeRun converts a panic in Run into an error so one bad task can't kill
// the dispatcher.
func (d *Dispatcher) safeRun(ctx context.Context, t *Task) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanic, rec)
			d.log.Error("task.panic", logx.String("task", t.label()), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}
