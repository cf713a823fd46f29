package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskgate/pkg/dispatch"
	logx "taskgate/pkg/logx"
)

// Enqueuer receives the tasks built on each firing. *dispatch.Dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(tasks ...*dispatch.Task) error
}

// Builder returns a fresh task for one firing.
type Builder func() (*dispatch.Task, error)

var ErrUnknownTrigger = errors.New("unknown trigger")

type Config struct {
	// Timezone is an IANA name. Empty means local time.
	Timezone string
	// Spread delays the first firing of interval schedules by a random
	// amount up to min(interval, 30s).
	Spread bool
}

type entry struct {
	name    string
	sched   Schedule
	build   Builder
	entryID cron.EntryID

	fired  uint64
	failed uint64
	last   time.Time
}

// Info describes a registered trigger.
type Info struct {
	Name     string
	Schedule string
	Kind     Kind
	Next     time.Time
	Prev     time.Time
	Fired    uint64
	Failed   uint64
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	loc    *time.Location
	log    logx.Logger
	target Enqueuer

	c       *cron.Cron
	entries map[string]*entry
}

func New(cfg Config, target Enqueuer, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		loc:     loc,
		log:     log,
		target:  target,
		entries: map[string]*entry{},
	}, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Add registers or replaces the trigger called name.
func (s *Service) Add(name, schedule string, build Builder) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if build == nil {
		return fmt.Errorf("trigger %q: builder required", name)
	}
	sch, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, sched: sch, build: build}
	s.entries[name] = e
	if s.c != nil {
		s.registerLocked(e)
	}
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, name)
	return true
}

// Names returns registered trigger names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Start begins firing registered triggers. Calling it twice is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("triggers started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.entries)))
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.c.Start()
}

// Stop halts firing and waits for in-progress firings until ctx is done.
// Registrations are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

// SetTimezone switches the evaluation timezone, restarting the runner when
// it is active.
func (s *Service) SetTimezone(tz string) error {
	loc, err := loadLocation(tz)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.String() == s.loc.String() {
		return nil
	}
	s.cfg.Timezone = tz
	s.loc = loc
	if s.c != nil {
		old := s.c
		// Stop without waiting: firings in progress finish on their own.
		old.Stop()
		s.startLocked()
	}
	s.log.Info("trigger timezone changed", logx.String("tz", loc.String()))
	return nil
}

func (s *Service) registerLocked(e *entry) {
	job := cron.FuncJob(func() { s.fire(e) })

	var (
		id  cron.EntryID
		err error
	)
	if e.sched.Kind == KindInterval && s.cfg.Spread {
		sched, jitter := spreadInterval(e.sched.Every, time.Now(), e.name)
		id = s.c.Schedule(sched, job)
		s.log.Debug("trigger registered", logx.String("name", e.name), logx.String("spec", e.sched.Spec()), logx.Duration("spread", jitter))
	} else {
		id, err = s.c.AddJob(e.sched.Spec(), job)
		if err != nil {
			// ParseSchedule already accepted it; this only guards parser drift.
			s.log.Error("trigger register failed", logx.String("name", e.name), logx.String("spec", e.sched.Spec()), logx.Err(err))
			return
		}
		s.log.Debug("trigger registered", logx.String("name", e.name), logx.String("spec", e.sched.Spec()))
	}
	e.entryID = id
}

// Fire runs the trigger called name once, right now.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	e, ok := s.entries[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return s.fire(e)
}

func (s *Service) fire(e *entry) error {
	task, err := e.build()
	if err == nil {
		err = s.target.Enqueue(task)
	}

	s.mu.Lock()
	e.fired++
	e.last = time.Now()
	if err != nil {
		e.failed++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("trigger enqueue failed", logx.String("name", e.name), logx.Err(err))
		return err
	}
	s.log.Debug("trigger fired", logx.String("name", e.name), logx.String("task", task.ID))
	return nil
}

// Snapshot lists registered triggers sorted by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		info := Info{
			Name:     e.name,
			Schedule: e.sched.Raw,
			Kind:     e.sched.Kind,
			Prev:     e.last,
			Fired:    e.fired,
			Failed:   e.failed,
		}
		if s.c != nil && e.entryID != 0 {
			info.Next = s.c.Entry(e.entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
