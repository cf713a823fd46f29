package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks bounds, durations, the timezone and job definitions.
// Schedule expressions are checked by the caller (see trigger.ParseSchedule)
// so this package stays free of scheduling dependencies.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	d := cfg.Dispatcher
	if d.Concurrency < 0 {
		return fmt.Errorf("%w: dispatcher.concurrency must be >= 0", ErrInvalid)
	}
	if d.RatePerSec < 0 {
		return fmt.Errorf("%w: dispatcher.rate_per_sec must be >= 0", ErrInvalid)
	}
	if d.Burst < 0 {
		return fmt.Errorf("%w: dispatcher.burst must be >= 0", ErrInvalid)
	}
	if _, err := ParseDurationField("dispatcher.timeout", d.Timeout); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: timezone: invalid %q: %w", ErrInvalid, tz, err)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if a := cfg.Admin; a != nil && a.Enabled && strings.TrimSpace(a.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(a.Addr)); err != nil {
			return fmt.Errorf("%w: admin.addr: %w", ErrInvalid, err)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("%w: jobs[%d].name is required", ErrInvalid, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate job name %q", ErrInvalid, name)
		}
		seen[name] = struct{}{}
		if err := validateJob(name, j); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

func validateJob(name string, j JobConfig) error {
	if strings.TrimSpace(j.Schedule) == "" {
		return fmt.Errorf("job %q: schedule is required", name)
	}
	if _, err := ParseDurationField("job "+name+": timeout", j.Timeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(j.Kind)) {
	case JobExec:
		if strings.TrimSpace(j.Command) == "" {
			return fmt.Errorf("job %q: command is required for kind=exec", name)
		}
	case JobHTTP:
		u, err := url.Parse(strings.TrimSpace(j.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("job %q: url must be an absolute http(s) URL", name)
		}
	case JobSystemd:
		if strings.TrimSpace(j.Unit) == "" {
			return fmt.Errorf("job %q: unit is required for kind=systemd", name)
		}
	default:
		return fmt.Errorf("job %q: unknown kind %q (want exec, http or systemd)", name, j.Kind)
	}
	return nil
}
