package app

import (
	"context"
	"strings"

	"taskgate/internal/config"
	logx "taskgate/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest pending config matters.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the sections that changed between prev and next to the
// live components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(next))
		case "dispatcher":
			dc, err := mapDispatcherConfig(next)
			if err != nil {
				a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.Apply(dc)
			if prev.Dispatcher.StartPaused != next.Dispatcher.StartPaused {
				a.log.Info("dispatcher.start_paused only applies at startup")
			}
		case "history":
			a.hist.Resize(next.HistorySize)
		case "timezone":
			if err := a.trig.SetTimezone(next.Timezone); err != nil {
				a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
			}
		case "jobs":
			if err := a.syncJobs(next.Jobs, changedJobs); err != nil {
				a.log.Warn("some jobs failed to register", logx.Err(err))
			}
		case "storage", "admin":
			a.log.Warn(s+" config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
