package dispatch

import (
	"time"

	"taskgate/pkg/eventbus"
	logx "taskgate/pkg/logx"
)

// Config controls a Dispatcher.
type Config struct {
	// Concurrency is the maximum number of tasks running at once. Values < 1 mean 1.
	Concurrency int

	// Timeout bounds how long the dispatcher waits for a single task.
	// 0 disables the timeout.
	Timeout time.Duration

	// Automatic makes Enqueue schedule an admission attempt on the next turn.
	// When false, tasks only start through Start/Resume.
	Automatic bool

	// StartPaused creates the dispatcher paused; nothing runs until Start.
	StartPaused bool

	// RatePerSec caps admissions per second (token bucket). 0 disables it.
	RatePerSec float64
	// Burst is the bucket size; defaults to 1 when RatePerSec > 0.
	Burst int
}

// DefaultConfig returns one-at-a-time, automatic dispatch with no timeout.
func DefaultConfig() Config {
	return Config{
		Concurrency: 1,
		Automatic:   true,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	if c.RatePerSec < 0 {
		c.RatePerSec = 0
	}
	if c.RatePerSec > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Option configures collaborators of a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithBus injects the notification bus. Destroy disposes it.
func WithBus(bus eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithDeferrer replaces the next-turn scheduler used by automatic Enqueue.
func WithDeferrer(def Deferrer) Option {
	return func(d *Dispatcher) { d.deferrer = def }
}
