package app

import (
	"context"
	"fmt"
	"strings"

	"taskgate/internal/config"
	"taskgate/internal/jobs"
	"taskgate/internal/trigger"
)

// validateConfig runs the checks that need other packages: schedules, job
// construction and the mapped sections. config.Validate has already passed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	for _, jc := range cfg.Jobs {
		name := strings.TrimSpace(jc.Name)
		if _, err := trigger.ParseSchedule(jc.Schedule); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		if _, err := jobs.FromConfig(jc, jobs.Env{}); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	return nil
}
