package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"taskgate/internal/history"
	"taskgate/internal/trigger"
	"taskgate/pkg/dispatch"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type dispatcherStatus struct {
	Concurrency int    `json:"concurrency"`
	Timeout     string `json:"timeout"`
	Automatic   bool   `json:"automatic"`
	Paused      bool   `json:"paused"`
	Destroyed   bool   `json:"destroyed"`
	Backlog     int    `json:"backlog"`
	Running     int    `json:"running"`

	Added     uint64 `json:"added"`
	Removed   uint64 `json:"removed"`
	Admitted  uint64 `json:"admitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
	Cleared   uint64 `json:"cleared"`
}

type triggerStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Kind     string     `json:"kind"`
	Next     *time.Time `json:"next,omitempty"`
	Prev     *time.Time `json:"prev,omitempty"`
	Fired    uint64     `json:"fired"`
	Failed   uint64     `json:"failed"`
}

type statusResponse struct {
	Uptime         string           `json:"uptime"`
	Dispatcher     dispatcherStatus `json:"dispatcher"`
	Triggers       []triggerStatus  `json:"triggers"`
	HistoryDropped uint64           `json:"history_dropped"` // outcomes that never reached the store
}

type historyEntry struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func toDispatcherStatus(s dispatch.Snapshot) dispatcherStatus {
	return dispatcherStatus{
		Concurrency: s.Concurrency,
		Timeout:     s.Timeout.String(),
		Automatic:   s.Automatic,
		Paused:      s.Paused,
		Destroyed:   s.Destroyed,
		Backlog:     s.Backlog,
		Running:     s.Running,
		Added:       s.Added,
		Removed:     s.Removed,
		Admitted:    s.Admitted,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		TimedOut:    s.TimedOut,
		Cleared:     s.Cleared,
	}
}

func toTriggerStatus(in []trigger.Info) []triggerStatus {
	out := make([]triggerStatus, 0, len(in))
	for _, i := range in {
		ts := triggerStatus{
			Name:     i.Name,
			Schedule: i.Schedule,
			Kind:     i.Kind.String(),
			Fired:    i.Fired,
			Failed:   i.Failed,
		}
		if !i.Next.IsZero() {
			next := i.Next
			ts.Next = &next
		}
		if !i.Prev.IsZero() {
			prev := i.Prev
			ts.Prev = &prev
		}
		out = append(out, ts)
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Dispatcher: toDispatcherStatus(s.disp.Snapshot()),
		Triggers:   []triggerStatus{},
	}
	if s.trig != nil {
		resp.Triggers = toTriggerStatus(s.trig.Snapshot())
	}
	if s.hist != nil {
		resp.HistoryDropped = s.hist.Dropped()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var entries []history.Entry
	if s.hist != nil {
		entries = s.hist.Recent(limit)
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			TaskID:     e.TaskID,
			Name:       e.Name,
			Outcome:    e.Outcome,
			Error:      e.Error,
			FinishedAt: e.FinishedAt,
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.disp.Pause()
	respondJSON(w, http.StatusOK, toDispatcherStatus(s.disp.Snapshot()))
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.disp.Resume()
	respondJSON(w, http.StatusOK, toDispatcherStatus(s.disp.Snapshot()))
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.disp.Clear()
	respondJSON(w, http.StatusOK, toDispatcherStatus(s.disp.Snapshot()))
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.trig == nil {
		writeError(w, http.StatusNotFound, "no triggers")
		return
	}
	err := s.trig.Fire(name)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]string{"fired": name})
	case errors.Is(err, trigger.ErrUnknownTrigger):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
