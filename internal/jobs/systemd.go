package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskgate/pkg/dispatch"
)

// UnitAction is a systemd job verb.
type UnitAction string

const (
	UnitStart      UnitAction = "start"
	UnitStop       UnitAction = "stop"
	UnitRestart    UnitAction = "restart"
	UnitTryRestart UnitAction = "try-restart"
	UnitReload     UnitAction = "reload"
)

var (
	ErrNoUnits       = errors.New("systemd jobs unavailable")
	ErrUnsupported   = errors.New("systemd: unsupported OS (linux only)")
	ErrBadUnitAction = errors.New("unknown unit action")
)

// UnitController queues a systemd job for unit and waits for its result.
type UnitController interface {
	Run(ctx context.Context, action UnitAction, unit string) error
}

// ParseUnitAction normalizes action; empty means restart.
func ParseUnitAction(action string) (UnitAction, error) {
	switch a := UnitAction(strings.ToLower(strings.TrimSpace(action))); a {
	case "":
		return UnitRestart, nil
	case UnitStart, UnitStop, UnitRestart, UnitTryRestart, UnitReload:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadUnitAction, action)
	}
}

// UnitName appends ".service" to a bare unit name.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

// Systemd starts, stops or restarts a unit per run.
type Systemd struct {
	Name    string
	Unit    string
	Action  UnitAction
	Timeout time.Duration
	Units   UnitController
}

// UnitResult is the success value of a systemd task.
type UnitResult struct {
	Unit   string
	Action UnitAction
}

func (j *Systemd) Task() *dispatch.Task {
	return dispatch.NewTask(j.Name, j.run)
}

func (j *Systemd) run(ctx context.Context) (any, error) {
	if j.Units == nil {
		return nil, ErrNoUnits
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	if err := j.Units.Run(ctx, j.Action, j.Unit); err != nil {
		return nil, fmt.Errorf("%s %s: %w", j.Action, j.Unit, err)
	}
	return UnitResult{Unit: j.Unit, Action: j.Action}, nil
}
