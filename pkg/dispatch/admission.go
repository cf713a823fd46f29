package dispatch

import (
	"slices"
	"time"

	logx "taskgate/pkg/logx"
)

// Enqueue appends tasks to the backlog and publishes task-added for each.
//
// Every task is validated before any is committed: one invalid task fails the
// whole call with ErrInvalidTask. With Config.Automatic, one admission attempt
// is deferred to the next turn so observers registered right after Enqueue
// still see the batch's events. After Destroy valid tasks are ignored.
func (d *Dispatcher) Enqueue(tasks ...*Task) error {
	for _, t := range tasks {
		if !t.valid() {
			return ErrInvalidTask
		}
	}

	d.mu.Lock()
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		d.log.Debug("enqueue after destroy ignored", logx.Int("tasks", len(tasks)))
		return nil
	}
	now := time.Now()
	for _, t := range tasks {
		d.backlog = append(d.backlog, queued{task: t, enqueuedAt: now})
	}
	d.stats.added += uint64(len(tasks))
	if len(tasks) > 0 {
		d.drained = false
	}
	automatic := d.cfg.Automatic
	d.mu.Unlock()

	for _, t := range tasks {
		d.publish(EventTaskAdded, t)
	}
	if automatic {
		d.deferrer.Defer(d.tryAdmit)
	}
	return nil
}

// Remove drops the first queued occurrence of task. Tasks that are already
// running, or not queued at all, are left alone and nothing is published.
func (d *Dispatcher) Remove(task *Task) {
	if task == nil {
		return
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	idx := slices.IndexFunc(d.backlog, func(q queued) bool { return q.task == task })
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	d.backlog = slices.Delete(d.backlog, idx, idx+1)
	d.stats.removed++
	d.mu.Unlock()

	d.publish(EventTaskRemoved, task)
}

// tryAdmit starts queued tasks until the backlog is empty, the running set is
// full, or admission is blocked by pause, destroy or the rate limiter. Finding
// the backlog empty publishes queue-drained, even while tasks still run, but
// only once until the next Enqueue.
func (d *Dispatcher) tryAdmit() {
	d.mu.Lock()
	if d.destroyed || d.destroying || d.paused {
		d.mu.Unlock()
		return
	}

	var admitted []*run
	drained := false
	now := time.Now()
	for len(d.running) < d.cfg.Concurrency {
		if len(d.backlog) == 0 {
			if !d.drained {
				d.drained = true
				drained = true
			}
			break
		}
		if !d.allowLocked(now) {
			break
		}
		q := d.backlog[0]
		d.backlog[0] = queued{}
		d.backlog = d.backlog[1:]

		r := &run{task: q.task, enqueuedAt: q.enqueuedAt, admittedAt: now}
		d.running[r] = struct{}{}
		d.stats.admitted++
		admitted = append(admitted, r)
	}
	inFlight := len(d.running)
	d.mu.Unlock()

	for _, r := range admitted {
		d.log.Debug("task.started",
			logx.String("task", r.task.label()),
			logx.Duration("queue_delay", r.admittedAt.Sub(r.enqueuedAt)),
			logx.Int("in_flight", inFlight),
		)
		d.publish(EventWillRun, r.task)
		go d.execute(r)
	}
	if drained {
		d.log.Debug("queue drained")
		d.publish(EventQueueDrained, nil)
	}
}

// allowLocked consumes one admission token. When the bucket is empty it arms
// a single timer that retries admission once a token is due.
func (d *Dispatcher) allowLocked(now time.Time) bool {
	if d.limiter == nil {
		return true
	}
	r := d.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true
	}
	r.CancelAt(now)
	if d.rateTimer == nil {
		d.rateTimer = time.AfterFunc(delay, func() {
			d.mu.Lock()
			d.rateTimer = nil
			d.mu.Unlock()
			d.tryAdmit()
		})
	}
	return false
}
