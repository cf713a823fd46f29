package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskgate/internal/config"
	"taskgate/internal/history"
	"taskgate/internal/jobs"
	"taskgate/internal/observability/admin"
	"taskgate/internal/runtime/supervisor"
	"taskgate/internal/storage"
	"taskgate/internal/trigger"
	"taskgate/pkg/dispatch"
	"taskgate/pkg/eventbus"
	logx "taskgate/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	disp  *dispatch.Dispatcher
	hist  *history.Recorder
	trig  *trigger.Service
	env   jobs.Env
	units *jobs.DBusUnits
	admin *admin.Server

	detach   func()
	active   atomic.Int64 // tasks between will-run and their published outcome
	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a, err := build(cfgm, cfg, logSvc, log, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, log logx.Logger, store storage.Store) (*App, error) {
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	disp := dispatch.New(dcfg,
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
	)

	trig, err := trigger.New(trigger.Config{Timezone: cfg.Timezone, Spread: true}, disp, log.With(logx.String("comp", "trigger")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		disp:  disp,
		hist:  history.New(cfg.HistorySize, store, log.With(logx.String("comp", "history"))),
		trig:  trig,
		units: jobs.NewDBusUnits(),
	}
	a.env = jobs.Env{HTTP: &http.Client{}, Units: a.units}
	if err := a.syncJobs(cfg.Jobs, nil); err != nil {
		return nil, err
	}

	if ac, enabled, err := mapAdminConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		a.admin = admin.New(ac, disp, trig, a.hist, log.With(logx.String("comp", "admin")))
	}
	return a, nil
}

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) History() *history.Recorder       { return a.hist }
func (a *App) Triggers() *trigger.Service       { return a.trig }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reload re-reads the config file now instead of waiting for the watcher.
func (a *App) Reload(ctx context.Context) (bool, error) { return a.cfgm.Reload(ctx) }

// Status is a one-line summary for service managers.
func (a *App) Status() string {
	s := a.disp.Snapshot()
	state := "running"
	if s.Paused {
		state = "paused"
	}
	return fmt.Sprintf("%s: backlog=%d running=%d/%d ok=%d failed=%d",
		state, s.Backlog, s.Running, s.Concurrency, s.Succeeded, s.Failed+s.TimedOut)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	detachHist := a.hist.Attach(a.disp)
	offs := []func(){
		detachHist,
		a.disp.OnWillRun(func(*dispatch.Task) { a.active.Add(1) }),
		a.disp.OnTaskSucceeded(func(dispatch.Result) { a.active.Add(-1) }),
		a.disp.OnTaskFailed(func(dispatch.Failure) { a.active.Add(-1) }),
	}
	a.detach = func() {
		for _, off := range offs {
			off()
		}
	}
	a.sup.GoRestart("history.writer", a.hist.Run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.admin != nil {
		a.sup.GoRestart("admin.http", a.admin.Serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	}

	a.trig.Start()
	if !a.cfgm.Get().Dispatcher.StartPaused {
		a.disp.Start()
	}

	a.log.Info("app started", logx.Int("jobs", len(a.trig.Names())))
	return nil
}

// syncJobs makes the registered triggers match jobs. Only names in changed
// are rebuilt; nil means all.
func (a *App) syncJobs(jobsCfg []config.JobConfig, changed []string) error {
	want := make(map[string]config.JobConfig, len(jobsCfg))
	for _, jc := range jobsCfg {
		if jc.Disabled {
			continue
		}
		want[strings.TrimSpace(jc.Name)] = jc
	}

	for _, name := range a.trig.Names() {
		if _, ok := want[name]; !ok {
			a.trig.Remove(name)
			a.log.Info("job removed", logx.String("job", name))
		}
	}

	rebuild := func(string) bool { return true }
	if changed != nil {
		set := make(map[string]bool, len(changed))
		for _, n := range changed {
			set[n] = true
		}
		registered := make(map[string]bool)
		for _, n := range a.trig.Names() {
			registered[n] = true
		}
		rebuild = func(name string) bool { return set[name] || !registered[name] }
	}

	var errs []error
	for name, jc := range want {
		if !rebuild(name) {
			continue
		}
		j, err := jobs.FromConfig(jc, a.env)
		if err == nil {
			err = a.trig.Add(name, jc.Schedule, jobs.Builder(j))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
			continue
		}
		a.log.Debug("job registered", logx.String("job", name), logx.String("schedule", jc.Schedule), logx.String("kind", jc.Kind))
	}
	return errors.Join(errs...)
}

// Stop shuts the app down. Triggers stop first so nothing new is queued;
// running tasks get a bounded chance to finish and report before the
// dispatcher is destroyed.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.step(ctx, "triggers", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	a.step(ctx, "dispatcher.drain", 5*time.Second, func(c context.Context) error {
		a.disp.Pause()
		return a.waitIdle(c)
	})
	a.step(ctx, "dispatcher.destroy", time.Second, func(context.Context) error {
		if a.detach != nil {
			a.detach()
		}
		a.disp.Destroy()
		return nil
	})

	var supErr error
	if a.sup != nil {
		a.sup.Cancel()
		a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
			supErr = a.sup.Wait(c)
			return supErr
		})
	}
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.units.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("status", a.Status()))
	if a.logs != nil {
		a.logs.Close()
	}
	if errors.Is(supErr, context.DeadlineExceeded) || errors.Is(supErr, context.Canceled) {
		return nil
	}
	return supErr
}

// step runs one shutdown step bounded by max so one component can't stall
// the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// waitIdle polls until no task is running and every outcome has been
// delivered, or ctx is done.
func (a *App) waitIdle(ctx context.Context) error {
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for a.disp.Snapshot().Running > 0 || a.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
