// Package jobs turns configured job definitions into dispatcher tasks.
package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"taskgate/internal/config"
	"taskgate/pkg/dispatch"
)

var ErrUnsupportedKind = errors.New("unsupported job kind")

// Job builds a fresh task per call.
type Job interface {
	Task() *dispatch.Task
}

// Env carries the shared clients jobs run with.
type Env struct {
	// HTTP is used by http jobs; nil means http.DefaultClient.
	HTTP  *http.Client
	// Units drives systemd jobs; nil makes them fail with ErrNoUnits.
	Units UnitController
}

// FromConfig maps one config entry onto a Job.
func FromConfig(jc config.JobConfig, env Env) (Job, error) {
	name := strings.TrimSpace(jc.Name)
	timeout, err := config.ParseDurationField("job "+name+": timeout", jc.Timeout)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(jc.Kind)) {
	case config.JobExec:
		return &Exec{
			Name:    name,
			Command: strings.TrimSpace(jc.Command),
			Args:    append([]string(nil), jc.Args...),
			Dir:     jc.Dir,
			Timeout: timeout,
		}, nil
	case config.JobHTTP:
		return &HTTP{
			Name:    name,
			Method:  jc.Method,
			URL:     strings.TrimSpace(jc.URL),
			Body:    jc.Body,
			Timeout: timeout,
			Client:  env.HTTP,
		}, nil
	case config.JobSystemd:
		action, err := ParseUnitAction(jc.Action)
		if err != nil {
			return nil, err
		}
		return &Systemd{
			Name:    name,
			Unit:    UnitName(jc.Unit),
			Action:  action,
			Timeout: timeout,
			Units:   env.Units,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, jc.Kind)
	}
}

// Builder adapts a Job to the trigger builder signature.
func Builder(j Job) func() (*dispatch.Task, error) {
	return func() (*dispatch.Task, error) { return j.Task(), nil }
}

// tail keeps the last n bytes of b.
func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

const outputLimit = 4 << 10
