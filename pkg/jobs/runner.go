package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/lease"
	"github.com/peakshift/peakshift/pkg/log"
)

// Job names a periodic job and how long its lease is held.
type Job struct {
	Name string
	// MaxHold bounds how long a crashed holder keeps the lease.
	MaxHold time.Duration
	// MinHold keeps the lease taken after a fast run so that an instance
	// ticking slightly later does not run the job again.
	MinHold time.Duration
}

var (
	ExecutorJob  = Job{Name: "execute-schedules", MaxHold: 2 * time.Minute, MinHold: 20 * time.Second}
	ReconcileJob = Job{Name: "reconcile-continuous", MaxHold: 10 * time.Minute, MinHold: time.Minute}
	StartupJob   = Job{Name: "reconcile-startup", MaxHold: 10 * time.Minute, MinHold: time.Minute}
	PlannerJob   = Job{Name: "weather-planner", MaxHold: 30 * time.Minute, MinHold: time.Minute}
)

// Runner runs jobs under their lease.
type Runner struct {
	locker lease.Locker
	clock  clockwork.Clock
}

// NewRunner returns a Runner.
func NewRunner(locker lease.Locker, clock clockwork.Clock) *Runner {
	return &Runner{locker: locker, clock: clock}
}

// Run runs fn if the job's lease can be taken. It returns false without error
// when another instance holds the lease.
func (r *Runner) Run(ctx context.Context, job Job, fn func(context.Context) error) (bool, error) {
	ctx = log.WithAttrs(ctx, slog.String("job", job.Name))

	l, ok, err := r.locker.Acquire(ctx, job.Name, job.MaxHold, job.MinHold)
	if err != nil {
		jobRuns.WithLabelValues(job.Name, "lease_error").Inc()
		return false, fmt.Errorf("failed to acquire lease for %s: %w", job.Name, err)
	}
	if !ok {
		jobRuns.WithLabelValues(job.Name, "locked").Inc()
		log.Ctx(ctx).InfoContext(ctx, "job is held by another instance, skipping")
		return false, nil
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to release job lease", slog.Any("error", err))
		}
	}()

	start := r.clock.Now()
	log.Ctx(ctx).InfoContext(ctx, "job starting")
	err = fn(ctx)
	elapsed := r.clock.Since(start)
	jobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	if err != nil {
		jobRuns.WithLabelValues(job.Name, "error").Inc()
		log.Ctx(ctx).ErrorContext(ctx, "job failed", slog.Duration("elapsed", elapsed), slog.Any("error", err))
		return true, err
	}
	jobRuns.WithLabelValues(job.Name, "ok").Inc()
	log.Ctx(ctx).InfoContext(ctx, "job finished", slog.Duration("elapsed", elapsed))
	return true, nil
}
