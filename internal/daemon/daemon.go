package daemon

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hypeseeker/internal/config"
)

// Job is one scheduled run, typically update followed by digest.
type Job func(ctx context.Context) error

// Run blocks, firing job at each configured wall-clock time daily until ctx
// is cancelled. Job failures are logged, never fatal: the next scheduled run
// still happens.
func Run(ctx context.Context, sched config.Schedule, job Job, logger *log.Logger) error {
	if !sched.Enabled {
		return fmt.Errorf("schedule is disabled in config")
	}
	loc, err := sched.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	c := cron.New(cron.WithLocation(loc))
	added := 0
	for _, t := range sched.Times {
		spec, err := cronSpec(t)
		if err != nil {
			logger.Printf("skipping schedule time %q: %v", t, err)
			continue
		}
		if _, err := c.AddFunc(spec, func() {
			logger.Printf("scheduled run starting")
			if err := job(ctx); err != nil {
				logger.Printf("scheduled run failed: %v", err)
				return
			}
			logger.Printf("scheduled run finished")
		}); err != nil {
			logger.Printf("skipping schedule time %q: %v", t, err)
			continue
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("no valid schedule times configured")
	}

	logger.Printf("daemon started: %d daily runs in %s", added, loc)
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Printf("shutdown timed out waiting for a running job")
	}
	return ctx.Err()
}

// cronSpec converts "HH:MM" into a daily cron expression.
func cronSpec(t string) (string, error) {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("want HH:MM")
	}
	var hh, mm int
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &hh, &mm); err != nil {
		return "", fmt.Errorf("want HH:MM")
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return "", fmt.Errorf("hour or minute out of range")
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}
