package app

import (
	"fmt"
	"strings"
	"time"

	"taskgate/internal/config"
	"taskgate/internal/observability/admin"
	"taskgate/internal/storage"
	"taskgate/pkg/dispatch"
	logx "taskgate/pkg/logx"
)

func mapDispatcherConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatcher
	timeout, err := config.ParseDurationField("dispatcher.timeout", dc.Timeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Concurrency: dc.Concurrency,
		Timeout:     timeout,
		Automatic:   dc.AutomaticOrDefault(),
		StartPaused: dc.StartPaused,
		RatePerSec:  dc.RatePerSec,
		Burst:       dc.Burst,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapAdminConfig(cfg *config.Config) (admin.Config, bool, error) {
	if cfg == nil || cfg.Admin == nil || !cfg.Admin.Enabled {
		return admin.Config{}, false, nil
	}
	ac := admin.Config{
		Addr:          strings.TrimSpace(cfg.Admin.Addr),
		Token:         strings.TrimSpace(cfg.Admin.Token),
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
	}
	if err := ac.CheckBind(); err != nil {
		return admin.Config{}, false, err
	}
	return ac, true, nil
}
