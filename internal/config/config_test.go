package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
dispatcher:
  concurrency: 4
  timeout: 30s
  automatic: false
  rate_per_sec: 2.5
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./taskgate.db
history_size: 50
timezone: UTC
jobs:
  - name: backup
    schedule: "0 3 * * *"
    kind: exec
    command: /usr/local/bin/backup
    args: ["--full"]
    timeout: 10m
  - name: ping
    schedule: "every:30s"
    kind: http
    url: https://example.com/health
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "taskgate.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get() should return the committed config")
	}
	if cfg.Dispatcher.Concurrency != 4 || cfg.Dispatcher.Timeout != "30s" || cfg.Dispatcher.RatePerSec != 2.5 {
		t.Fatalf("dispatcher = %+v", cfg.Dispatcher)
	}
	if cfg.Dispatcher.AutomaticOrDefault() {
		t.Fatal("automatic: false was not honored")
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].Args[0] != "--full" || cfg.Jobs[1].Kind != JobHTTP {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "taskgate.json", `{"logging":{"level":"info"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Dispatcher.AutomaticOrDefault() {
		t.Fatal("automatic should default to true")
	}
	if cfg.Storage != nil {
		t.Fatal("storage should be nil when omitted")
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
	}{
		{"unknown field", "c.json", `{"dispatcher":{"workers":2}}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "dispatcher: [\n"},
		{"unknown yaml field", "c.yml", "telegram:\n  token: x\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewConfigManager(writeFile(t, tc.file, tc.body)).Parse(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEmptyYAMLIsZeroConfig(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(writeFile(t, "c.yaml", "")).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(*cfg, Config{}) {
		t.Fatalf("cfg = %+v, want zero", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	exec := JobConfig{Name: "a", Schedule: "every:1m", Kind: JobExec, Command: "true"}
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{}, true},
		{"valid job", Config{Jobs: []JobConfig{exec}}, true},
		{"negative concurrency", Config{Dispatcher: DispatcherConfig{Concurrency: -1}}, false},
		{"negative rate", Config{Dispatcher: DispatcherConfig{RatePerSec: -1}}, false},
		{"bad timeout", Config{Dispatcher: DispatcherConfig{Timeout: "soon"}}, false},
		{"negative timeout", Config{Dispatcher: DispatcherConfig{Timeout: "-1s"}}, false},
		{"bad timezone", Config{Timezone: "Mars/Olympus"}, false},
		{"bad busy timeout", Config{Storage: &StorageConfig{Driver: "sqlite", BusyTimeout: "x"}}, false},
		{"duplicate job", Config{Jobs: []JobConfig{exec, exec}}, false},
		{"unnamed job", Config{Jobs: []JobConfig{{Schedule: "every:1m", Kind: JobExec, Command: "true"}}}, false},
		{"missing schedule", Config{Jobs: []JobConfig{{Name: "a", Kind: JobExec, Command: "true"}}}, false},
		{"exec without command", Config{Jobs: []JobConfig{{Name: "a", Schedule: "every:1m", Kind: JobExec}}}, false},
		{"http relative url", Config{Jobs: []JobConfig{{Name: "a", Schedule: "every:1m", Kind: JobHTTP, URL: "/health"}}}, false},
		{"unknown kind", Config{Jobs: []JobConfig{{Name: "a", Schedule: "every:1m", Kind: "smtp"}}}, false},
		{"systemd without unit", Config{Jobs: []JobConfig{{Name: "a", Schedule: "every:1m", Kind: JobSystemd}}}, false},
		{"systemd job", Config{Jobs: []JobConfig{{Name: "a", Schedule: "every:1m", Kind: JobSystemd, Unit: "nginx"}}}, true},
		{"admin addr", Config{Admin: &AdminConfig{Enabled: true, Addr: "127.0.0.1:7070"}}, true},
		{"admin addr without port", Config{Admin: &AdminConfig{Enabled: true, Addr: "localhost"}}, false},
		{"disabled admin ignored", Config{Admin: &AdminConfig{Addr: "localhost"}}, true},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("%s: error %v should wrap ErrInvalid", tc.name, err)
			}
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{
		Dispatcher: DispatcherConfig{Concurrency: 1},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "every:1m"},
			{Name: "edit", Schedule: "every:1m"},
			{Name: "drop", Schedule: "every:1m"},
		},
	}
	next := &Config{
		Dispatcher: DispatcherConfig{Concurrency: 2},
		Logging:    LoggingConfig{Level: "debug"},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "every:1m"},
			{Name: "edit", Schedule: "every:5m"},
			{Name: "new", Schedule: "every:1m"},
		},
	}

	sections, attrs, jobs := SummarizeConfigChange(old, next)
	if want := []string{"dispatcher", "logging", "jobs"}; !reflect.DeepEqual(sections, want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if want := []string{"drop", "edit", "new"}; !reflect.DeepEqual(jobs, want) {
		t.Fatalf("jobs = %v, want %v", jobs, want)
	}

	if s, _, j := SummarizeConfigChange(next, next); len(s) != 0 || len(j) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", s, j)
	}
	if s, _, _ := SummarizeConfigChange(nil, nil); len(s) != 0 {
		t.Fatalf("nil configs reported changes: %v", s)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "c.json", `{"dispatcher":{"concurrency":1}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := context.Background()
	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("Reload unchanged = %v, %v; want false, nil", ok, err)
	}

	if err := os.WriteFile(path, []byte(`{"dispatcher":{"concurrency":3}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("Reload changed = %v, %v; want true, nil", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Dispatcher.Concurrency != 3 {
			t.Fatalf("published concurrency = %d, want 3", cfg.Dispatcher.Concurrency)
		}
	default:
		t.Fatal("no config published")
	}
}

func TestReloadRejectedByValidator(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "c.json", `{}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	reject := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return reject })

	if err := os.WriteFile(path, []byte(`{"history_size":10}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); !errors.Is(err, reject) {
		t.Fatalf("Reload = %v, want validator error", err)
	}
	if m.Get().HistorySize != 0 {
		t.Fatal("rejected config was committed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{HistorySize: 1}, &Config{HistorySize: 2}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatalf("got %+v, want newest", got)
	}
	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}

func TestWatchPublishesFileChanges(t *testing.T) {
	path := writeFile(t, "taskgate.yaml", "history_size: 1\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.HistorySize != 7 {
				t.Fatalf("history_size = %d, want 7", cfg.HistorySize)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and picks the change.
			if err := os.WriteFile(path, []byte("history_size: 7\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("dispatcher.timeout", "abc"); err == nil || !strings.Contains(err.Error(), "dispatcher.timeout") {
		t.Fatalf("error should name the field: %v", err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Second); err != nil || d != time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
