package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskgate/internal/history"
	"taskgate/internal/trigger"
	"taskgate/pkg/dispatch"
	logx "taskgate/pkg/logx"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	paused  bool
	cleared int
}

func (f *fakeDispatcher) Snapshot() dispatch.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return dispatch.Snapshot{Concurrency: 2, Paused: f.paused, Backlog: 3, Cleared: uint64(f.cleared)}
}
func (f *fakeDispatcher) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeDispatcher) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeDispatcher) Clear()  { f.mu.Lock(); f.cleared++; f.mu.Unlock() }

func (f *fakeDispatcher) state() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused, f.cleared
}

type fakeTriggers struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeTriggers) Snapshot() []trigger.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []trigger.Info{{Name: "ping", Schedule: "every:30s", Kind: trigger.KindInterval, Fired: uint64(len(f.fired))}}
}

func (f *fakeTriggers) Fire(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch name {
	case "ping":
		f.fired = append(f.fired, name)
		return nil
	case "closed":
		return errors.New("dispatcher closed")
	default:
		return fmt.Errorf("%w: %s", trigger.ErrUnknownTrigger, name)
	}
}

type fakeHistory struct {
	entries []history.Entry
	dropped uint64
}

func (f *fakeHistory) Dropped() uint64 { return f.dropped }

func (f *fakeHistory) Recent(n int) []history.Entry {
	if n < len(f.entries) {
		return f.entries[:n]
	}
	return f.entries
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *fakeDispatcher, *fakeTriggers) {
	t.Helper()
	d := &fakeDispatcher{}
	tr := &fakeTriggers{}
	h := &fakeHistory{entries: []history.Entry{
		{TaskID: "b", Name: "ping", Outcome: "failed", Error: "boom", Duration: 1500 * time.Millisecond},
		{TaskID: "a", Name: "ping", Outcome: "succeeded"},
	}, dropped: 4}
	srv := httptest.NewServer(New(cfg, d, tr, h, logx.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, d, tr
}

func do(t *testing.T, method, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, Config{Token: "s3cret"})
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, Config{Token: "s3cret"})

	if resp, _ := do(t, http.MethodGet, srv.URL+"/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/status", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d, want 401", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/status", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer token: status %d, want 200", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/status?token=s3cret", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("query token: status %d, want 200", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, Config{})
	resp, body := do(t, http.MethodGet, srv.URL+"/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	disp, _ := body["dispatcher"].(map[string]any)
	if disp["concurrency"] != float64(2) || disp["backlog"] != float64(3) {
		t.Fatalf("dispatcher = %v", disp)
	}
	trigs, _ := body["triggers"].([]any)
	if len(trigs) != 1 {
		t.Fatalf("triggers = %v", body["triggers"])
	}
	if tr := trigs[0].(map[string]any); tr["name"] != "ping" || tr["kind"] != "interval" {
		t.Fatalf("trigger = %v", tr)
	}
	if body["history_dropped"] != float64(4) {
		t.Fatalf("history_dropped = %v, want 4", body["history_dropped"])
	}
}

func TestDispatcherControls(t *testing.T) {
	t.Parallel()
	srv, d, _ := newTestServer(t, Config{})

	if _, body := do(t, http.MethodPost, srv.URL+"/dispatcher/pause", ""); body["paused"] != true {
		t.Fatalf("pause: body %v", body)
	}
	if paused, _ := d.state(); !paused {
		t.Fatal("dispatcher not paused")
	}
	if _, body := do(t, http.MethodPost, srv.URL+"/dispatcher/resume", ""); body["paused"] != false {
		t.Fatalf("resume: body %v", body)
	}
	do(t, http.MethodPost, srv.URL+"/dispatcher/clear", "")
	if paused, cleared := d.state(); paused || cleared != 1 {
		t.Fatalf("paused=%v cleared=%d, want false 1", paused, cleared)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/dispatcher/pause", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET pause: status %d, want 405", resp.StatusCode)
	}
}

func TestFire(t *testing.T) {
	t.Parallel()
	srv, _, tr := newTestServer(t, Config{})
	cases := []struct {
		name string
		want int
	}{
		{"ping", http.StatusAccepted},
		{"nope", http.StatusNotFound},
		{"closed", http.StatusConflict},
	}
	for _, tc := range cases {
		resp, _ := do(t, http.MethodPost, srv.URL+"/triggers/"+tc.name+"/fire", "")
		if resp.StatusCode != tc.want {
			t.Fatalf("fire %s: status %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
	if got := tr.Snapshot()[0].Fired; got != 1 {
		t.Fatalf("fired = %d, want 1", got)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, Config{})

	resp, err := http.Get(srv.URL + "/history?limit=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var entries []historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "b" || entries[0].DurationMS != 1500 {
		t.Fatalf("entries = %+v", entries)
	}

	if resp, _ := do(t, http.MethodGet, srv.URL+"/history?limit=zero", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: status %d, want 400", resp.StatusCode)
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off, _, _ := newTestServer(t, Config{})
	if resp, _ := do(t, http.MethodGet, off.URL+"/debug/pprof/", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof disabled: status %d, want 404", resp.StatusCode)
	}
	on, _, _ := newTestServer(t, Config{Pprof: true})
	if resp, _ := do(t, http.MethodGet, on.URL+"/debug/pprof/", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof enabled: status %d, want 200", resp.StatusCode)
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{}, true},
		{Config{Addr: "localhost:9000"}, true},
		{Config{Addr: "[::1]:9000"}, true},
		{Config{Addr: ":9000"}, false},
		{Config{Addr: "0.0.0.0:9000"}, false},
		{Config{Addr: "0.0.0.0:9000", Token: "t"}, true},
		{Config{Addr: "0.0.0.0:9000", AllowInsecure: true}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.CheckBind()
		if (err == nil) != tc.ok {
			t.Fatalf("CheckBind(%+v) = %v, want ok=%v", tc.cfg, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInsecureBind) {
			t.Fatalf("error %v should wrap ErrInsecureBind", err)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, &fakeDispatcher{}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
