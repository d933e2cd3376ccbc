package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/peakshift/peakshift/pkg/log"
)

// Cadence holds the six-field cron specs of the in-process runner.
type Cadence struct {
	Executor  string
	Reconcile string
	Planner   string
	Location  *time.Location
}

// DefaultCadence runs the executor every minute, reconciliation every 15
// minutes and the planner hourly.
func DefaultCadence() Cadence {
	return Cadence{
		Executor:  "0 * * * * *",
		Reconcile: "0 */15 * * * *",
		Planner:   "0 0 * * * *",
		Location:  time.UTC,
	}
}

// ConfiguredCadence sets up the Cadence based on flags.
func ConfiguredCadence() *Cadence {
	def := DefaultCadence()
	executor := lflag.String("executor-cron", def.Executor, "Cron spec (with seconds) for the schedule executor")
	reconcile := lflag.String("reconcile-cron", def.Reconcile, "Cron spec (with seconds) for continuous reconciliation")
	planner := lflag.String("planner-cron", def.Planner, "Cron spec (with seconds) for the weather planner")

	c := &Cadence{Location: time.UTC}
	lflag.Do(func() {
		c.Executor = *executor
		c.Reconcile = *reconcile
		c.Planner = *planner
	})
	return c
}

// cronLogger adapts cron's logger to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}

// Cron returns a stopped cron runner with every periodic job registered.
// Runs of the same job never overlap within the process. The lease keeps
// them from overlapping across instances.
func (s *Service) Cron(ctx context.Context, c Cadence) (*cron.Cron, error) {
	logger := cronLogger{logger: log.Ctx(ctx).With(slog.String("component", "cron"))}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	cr := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, j := range []struct {
		spec string
		name string
		run  func(context.Context) (bool, error)
	}{
		{c.Executor, ExecutorJob.Name, s.Execute},
		{c.Reconcile, ReconcileJob.Name, s.ReconcileContinuously},
		{c.Planner, PlannerJob.Name, s.Plan},
	} {
		run := j.run
		if _, err := cr.AddFunc(j.spec, func() {
			// errors are logged by the runner
			_, _ = run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for %s: %w", j.spec, j.name, err)
		}
	}
	return cr, nil
}
