package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskgate/pkg/eventbus"
	logx "taskgate/pkg/logx"
)

// Dispatcher admits queued tasks in FIFO order while fewer than
// Config.Concurrency are running.
//
// All backlog, running-set and flag mutations happen under mu. Events are
// published after mu is released so observers may call back into the
// dispatcher (Clear from a task-succeeded handler, for example).
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	deferrer Deferrer

	limiter   *rate.Limiter
	rateTimer *time.Timer

	backlog []queued
	running map[*run]struct{}

	paused     bool
	destroying bool
	destroyed  bool
	// drained is set once queue-drained fired and re-armed by Enqueue.
	drained bool

	stats counters
}

type queued struct {
	task       *Task
	enqueuedAt time.Time
}

// run is one admission of a task. A task enqueued twice is two runs.
type run struct {
	task       *Task
	enqueuedAt time.Time
	admittedAt time.Time
}

type counters struct {
	added     uint64
	removed   uint64
	admitted  uint64
	succeeded uint64
	failed    uint64
	timedOut  uint64
	cleared   uint64
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Concurrency int
	Timeout     time.Duration
	Automatic   bool
	Backlog     int
	Running     int
	Paused      bool
	Destroyed   bool

	Added     uint64
	Removed   uint64
	Admitted  uint64
	Succeeded uint64
	Failed    uint64
	TimedOut  uint64
	Cleared   uint64
}

// New creates a dispatcher. Zero-valued fields of cfg fall back to the
// defaults documented on Config; note that Automatic is taken as given, so
// start from DefaultConfig() for automatic dispatch.
func New(cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		running: make(map[*run]struct{}),
		paused:  cfg.StartPaused,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.bus == nil {
		d.bus = eventbus.New()
	}
	if d.deferrer == nil {
		d.deferrer = GoDeferrer{}
	}
	d.limiter = newLimiter(cfg)
	return d
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RatePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

// Bus returns the notification bus events are published on.
func (d *Dispatcher) Bus() eventbus.Bus { return d.bus }

// Size returns queued plus running tasks. The value is a snapshot.
func (d *Dispatcher) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog) + len(d.running)
}

func (d *Dispatcher) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Concurrency: d.cfg.Concurrency,
		Timeout:     d.cfg.Timeout,
		Automatic:   d.cfg.Automatic,
		Backlog:     len(d.backlog),
		Running:     len(d.running),
		Paused:      d.paused,
		Destroyed:   d.destroyed,
		Added:       d.stats.added,
		Removed:     d.stats.removed,
		Admitted:    d.stats.admitted,
		Succeeded:   d.stats.succeeded,
		Failed:      d.stats.failed,
		TimedOut:    d.stats.timedOut,
		Cleared:     d.stats.cleared,
	}
}

func (d *Dispatcher) publish(typ string, data any) {
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
