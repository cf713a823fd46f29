package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskgate/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging and (3) the names of jobs that were added,
// removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	od, nd := oldCfg.Dispatcher, newCfg.Dispatcher
	if od.Concurrency != nd.Concurrency ||
		strings.TrimSpace(od.Timeout) != strings.TrimSpace(nd.Timeout) ||
		od.AutomaticOrDefault() != nd.AutomaticOrDefault() ||
		od.StartPaused != nd.StartPaused ||
		od.RatePerSec != nd.RatePerSec ||
		od.Burst != nd.Burst {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Int("dispatcher.concurrency", nd.Concurrency),
			logx.String("dispatcher.timeout", strings.TrimSpace(nd.Timeout)),
			logx.Bool("dispatcher.automatic", nd.AutomaticOrDefault()),
			logx.Float64("dispatcher.rate_per_sec", nd.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		sc := derefStorage(newCfg.Storage)
		attrs = append(attrs, logx.String("storage.driver", sc.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		if newCfg.Admin != nil {
			attrs = append(attrs,
				logx.Bool("admin.enabled", newCfg.Admin.Enabled),
				logx.String("admin.addr", newCfg.Admin.Addr),
				logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
			)
		}
	}

	if oldCfg.HistorySize != newCfg.HistorySize {
		changed = append(changed, "history")
		attrs = append(attrs, logx.Int("history_size", newCfg.HistorySize))
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.count", len(newCfg.Jobs)),
			logx.Int("jobs.changed", len(jobs)),
		)
	}

	return changed, attrs, jobs
}

func derefStorage(sc *StorageConfig) StorageConfig {
	if sc == nil {
		return StorageConfig{}
	}
	return *sc
}

// diffJobs returns sorted names of jobs that differ between two lists.
func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	om, nm := index(oldJobs), index(newJobs)

	var out []string
	for name, o := range om {
		n, ok := nm[name]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range nm {
		if _, ok := om[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
