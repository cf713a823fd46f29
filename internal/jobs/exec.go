package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"taskgate/pkg/dispatch"
)

// Exec runs a program directly (no shell).
type Exec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// ExecResult is the success value of an exec task.
type ExecResult struct {
	Output   string
	Duration time.Duration
}

// ExitError reports a non-zero exit. Output holds the tail of stdout+stderr.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
}

func (j *Exec) Task() *dispatch.Task {
	return dispatch.NewTask(j.Name, j.run)
}

func (j *Exec) run(ctx context.Context) (any, error) {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, j.Command, j.Args...)
	cmd.Dir = j.Dir
	// Don't let a child holding stdout keep us waiting after the kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	dur := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", j.Command, ctx.Err())
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, &ExitError{Code: ee.ExitCode(), Output: tail(out, outputLimit)}
		}
		return nil, fmt.Errorf("%s: %w", j.Command, err)
	}
	return ExecResult{Output: tail(out, outputLimit), Duration: dur}, nil
}
