package usecase

import (
	"context"
	"errors"
	"time"

	"OutreachEngine/internal/ports"
)

// Scheduler binds interval drivers to the batch jobs. Each job gets its own
// driver; a batch never overlaps with another run of the same job.
type Scheduler struct {
	jobs    *Jobs
	drivers map[string]ports.Scheduler
}

// NewScheduler returns a helper to start/stop recurring jobs. drivers is keyed
// by job name; jobs without a driver never run on a schedule.
func NewScheduler(jobs *Jobs, drivers map[string]ports.Scheduler) *Scheduler {
	return &Scheduler{jobs: jobs, drivers: drivers}
}

// Start registers every configured job with its driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.jobs == nil {
		return nil
	}

	for name, driver := range s.drivers {
		if driver == nil {
			continue
		}
		name := name
		job := func(time.Time) {
			// Errors are logged and reported by Jobs; the next tick retries the batch.
			_, _ = s.jobs.Run(ctx, name)
		}
		if err := driver.Start(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully tears down every driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	for _, driver := range s.drivers {
		if driver == nil {
			continue
		}
		if err := driver.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
