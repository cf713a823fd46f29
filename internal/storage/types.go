package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRuns caps retained run records; older ones are pruned. 0 means 10000.
	MaxRuns int
}

const defaultMaxRuns = 10000

// Outcome values stored in RunRecord.Outcome.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// RunRecord is one finished task run. Keep it compact and schema-stable.
type RunRecord struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}
