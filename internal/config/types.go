package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Admin      *AdminConfig     `json:"admin,omitempty"`

	// HistorySize bounds the in-memory outcome history. 0 means 200, <0 disables it.
	HistorySize int `json:"history_size,omitempty"`

	// Timezone used to evaluate job schedules. Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`
}

// DispatcherConfig maps onto dispatch.Config.
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 1
//   - timeout: "0s" (disabled)
//   - automatic: true
//   - rate_per_sec: 0 (unlimited)
//   - burst: 1 when rate_per_sec is set
type DispatcherConfig struct {
	Concurrency int    `json:"concurrency,omitempty"`
	Timeout     string `json:"timeout,omitempty"`

	// Automatic is a pointer so an omitted value can default to true.
	Automatic   *bool `json:"automatic,omitempty"`
	StartPaused bool  `json:"start_paused,omitempty"`

	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskgate.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AdminConfig controls the optional admin HTTP server (status, pause/resume,
// manual trigger firing, pprof).
//
// A non-loopback addr requires token unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Job kinds.
const (
	JobExec    = "exec"
	JobHTTP    = "http"
	JobSystemd = "systemd"
)

// JobConfig describes a scheduled job. Each firing of Schedule enqueues a
// fresh task on the dispatcher.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Kind     string `json:"kind"`
	Disabled bool   `json:"disabled,omitempty"`

	// exec
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`

	// http
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
	Body   string `json:"body,omitempty"`

	// systemd
	Unit   string `json:"unit,omitempty"`
	Action string `json:"action,omitempty"` // start|stop|restart|try-restart|reload; default restart

	// Timeout bounds this job's own work (process or request). The dispatcher
	// timeout still applies on top.
	Timeout string `json:"timeout,omitempty"`
}

// AutomaticOrDefault reports dispatcher.automatic, defaulting to true.
func (d DispatcherConfig) AutomaticOrDefault() bool {
	if d.Automatic == nil {
		return true
	}
	return *d.Automatic
}
