// Package history records finished task runs: a bounded in-memory ring for
// quick inspection, plus optional persistence through storage.Store.
package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"taskgate/internal/storage"
	"taskgate/pkg/dispatch"
	logx "taskgate/pkg/logx"
)

const (
	DefaultSize  = 200
	writeBuffer  = 256
	writeTimeout = 2 * time.Second
)

// Entry is one finished run.
type Entry struct {
	TaskID     string
	Name       string
	Outcome    string
	Error      string
	FinishedAt time.Time
	Duration   time.Duration
}

// Recorder observes dispatcher outcomes. Queued or removed work is never
// recorded, only runs that finished.
type Recorder struct {
	log   logx.Logger
	store storage.Store

	mu   sync.Mutex
	ring []Entry
	head int // next write position
	n    int

	writes  chan storage.RunRecord
	dropped atomic.Uint64
}

// New creates a recorder keeping size entries (0 means DefaultSize, <0
// disables the ring). store may be nil.
func New(size int, store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{log: log, store: store, ring: make([]Entry, normSize(size))}
	if store != nil {
		r.writes = make(chan storage.RunRecord, writeBuffer)
	}
	return r
}

func normSize(size int) int {
	switch {
	case size < 0:
		return 0
	case size == 0:
		return DefaultSize
	default:
		return size
	}
}

// Attach subscribes to d's outcome events. The returned func detaches.
func (r *Recorder) Attach(d *dispatch.Dispatcher) func() {
	offOK := d.OnTaskSucceeded(func(res dispatch.Result) {
		r.Record(Entry{
			TaskID:     res.Task.ID,
			Name:       res.Task.Name,
			Outcome:    storage.OutcomeSucceeded,
			FinishedAt: time.Now(),
			Duration:   res.Duration,
		})
	})
	offFail := d.OnTaskFailed(func(f dispatch.Failure) {
		outcome := storage.OutcomeFailed
		if errors.Is(f.Err, dispatch.ErrTimedOut) {
			outcome = storage.OutcomeTimedOut
		}
		r.Record(Entry{
			TaskID:     f.Task.ID,
			Name:       f.Task.Name,
			Outcome:    outcome,
			Error:      f.Err.Error(),
			FinishedAt: time.Now(),
			Duration:   f.Duration,
		})
	})
	return func() {
		offOK()
		offFail()
	}
}

// Record adds e to the ring and queues it for the store. It never blocks;
// when the store falls behind, records are dropped and counted.
func (r *Recorder) Record(e Entry) {
	r.mu.Lock()
	if len(r.ring) > 0 {
		r.ring[r.head] = e
		r.head = (r.head + 1) % len(r.ring)
		if r.n < len(r.ring) {
			r.n++
		}
	}
	r.mu.Unlock()

	if r.writes == nil {
		return
	}
	select {
	case r.writes <- toRecord(e):
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.Warn("history write dropped (store slow)", logx.Uint64("dropped", r.dropped.Load()))
		}
	}
}

func toRecord(e Entry) storage.RunRecord {
	return storage.RunRecord{
		TaskID:     e.TaskID,
		Name:       e.Name,
		Outcome:    e.Outcome,
		Error:      e.Error,
		FinishedAt: e.FinishedAt,
		DurationMS: e.Duration.Milliseconds(),
	}
}

// Recent returns up to n entries, newest first. n <= 0 means all.
func (r *Recorder) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.head - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Resize changes the ring capacity, keeping the newest entries.
func (r *Recorder) Resize(size int) {
	size = normSize(size)
	r.mu.Lock()
	defer r.mu.Unlock()
	if size == len(r.ring) {
		return
	}
	keep := min(r.n, size)
	ring := make([]Entry, size)
	// Copy oldest-first so head ends right after the newest entry.
	for i := 0; i < keep; i++ {
		idx := (r.head - keep + i + len(r.ring)) % len(r.ring)
		ring[i] = r.ring[idx]
	}
	r.ring = ring
	r.n = keep
	r.head = 0
	if size > 0 {
		r.head = keep % size
	}
}

// Dropped reports how many records never reached the store.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued records to the store until ctx is done, then flushes
// whatever is already queued. Without a store it just waits.
func (r *Recorder) Run(ctx context.Context) error {
	if r.writes == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case rec := <-r.writes:
			r.write(context.Background(), rec)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.writes:
			r.write(context.Background(), rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec storage.RunRecord) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.store.AppendRun(wctx, rec); err != nil {
		r.log.Warn("history write failed", logx.String("task", rec.Name), logx.Err(err))
	}
}

// Persisted returns up to limit stored runs, newest first.
func (r *Recorder) Persisted(ctx context.Context, name string, limit int) ([]storage.RunRecord, error) {
	if r.store == nil {
		return nil, storage.ErrDisabled
	}
	return r.store.RecentRuns(ctx, name, limit)
}
