package dispatch

import (
	logx "taskgate/pkg/logx"
)

// Pause stops admission. Running tasks are not affected. Publishes paused
// only on the active -> paused transition.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	if d.destroyed || d.destroying || d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = true
	d.mu.Unlock()

	d.log.Debug("dispatcher paused")
	d.publish(EventPaused, nil)
}

// Resume re-enables admission, publishing resumed on the paused -> active
// transition. Admission is attempted on every call, so Resume also kicks a
// non-automatic dispatcher.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		return
	}
	wasPaused := d.paused
	d.paused = false
	d.mu.Unlock()

	if wasPaused {
		d.log.Debug("dispatcher resumed")
		d.publish(EventResumed, nil)
	}
	d.tryAdmit()
}

// Start is an alias for Resume.
func (d *Dispatcher) Start() { d.Resume() }

// Clear discards every queued task without running it and publishes cleared.
// Tasks already running are never aborted; they still report an outcome.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		return
	}
	n := len(d.backlog)
	clear(d.backlog)
	d.backlog = nil
	d.stats.cleared += uint64(n)
	d.mu.Unlock()

	d.log.Debug("backlog cleared", logx.Int("dropped", n))
	d.publish(EventCleared, nil)
}

// Destroy publishes will-destroy, then empties the dispatcher and disposes
// the bus. Afterwards every operation is a no-op, Enqueue included. Only the
// first call has an effect.
func (d *Dispatcher) Destroy() {
	d.mu.Lock()
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		return
	}
	// Still queryable while observers handle will-destroy; admission is already blocked.
	d.destroying = true
	d.mu.Unlock()

	d.publish(EventWillDestroy, nil)

	d.mu.Lock()
	d.destroyed = true
	d.destroying = false
	clear(d.backlog)
	d.backlog = nil
	d.running = make(map[*run]struct{})
	if d.rateTimer != nil {
		d.rateTimer.Stop()
		d.rateTimer = nil
	}
	d.mu.Unlock()

	d.bus.Dispose()
	d.log.Debug("dispatcher destroyed")
}

// Apply swaps concurrency, timeout, automatic mode and the rate limit at
// runtime. Raising concurrency admits immediately. Lowering it never aborts
// running tasks; admission waits until the running set is below the new limit.
// StartPaused is ignored.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	d.mu.Lock()
	if d.destroyed || d.destroying {
		d.mu.Unlock()
		return
	}
	prev := d.cfg
	cfg.StartPaused = prev.StartPaused
	d.cfg = cfg
	if prev.RatePerSec != cfg.RatePerSec || prev.Burst != cfg.Burst {
		d.limiter = newLimiter(cfg)
	}
	d.mu.Unlock()

	if prev.Concurrency != cfg.Concurrency || prev.Timeout != cfg.Timeout {
		d.log.Info("dispatcher reconfigured",
			logx.Int("concurrency", cfg.Concurrency),
			logx.Duration("timeout", cfg.Timeout),
			logx.Float64("rate_per_sec", cfg.RatePerSec),
		)
	}
	d.tryAdmit()
}
