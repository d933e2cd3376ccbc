// Package jobs runs the periodic work: firing due schedule events,
// reconciling device state against the schedule, and planning forced charges
// ahead of poor solar days.
package jobs

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/lease"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/weather"
)

// Deps are the collaborators shared by every job.
type Deps struct {
	DB      storage.Database
	Sink    *audit.Sink
	Device  ess.Device
	Weather weather.Evaluator
	Locker  lease.Locker
	Clock   clockwork.Clock
}

// Service exposes each job guarded by its lease.
type Service struct {
	runner     *Runner
	Executor   *Executor
	Reconciler *Reconciler
	Planner    *Planner
}

// New wires the jobs together.
func New(d Deps) *Service {
	r := NewReconciler(d.DB, d.Sink, d.Device, d.Clock)
	return &Service{
		runner:     NewRunner(d.Locker, d.Clock),
		Executor:   NewExecutor(d.DB, d.Sink, d.Device, d.Clock),
		Reconciler: r,
		Planner:    NewPlanner(d.DB, d.Sink, d.Weather, r, d.Clock),
	}
}

// Execute runs the executor. It returns false when another instance holds
// the lease.
func (s *Service) Execute(ctx context.Context) (bool, error) {
	return s.runner.Run(ctx, ExecutorJob, s.Executor.Run)
}

// ReconcileContinuously runs the periodic reconciliation.
func (s *Service) ReconcileContinuously(ctx context.Context) (bool, error) {
	return s.runner.Run(ctx, ReconcileJob, s.Reconciler.ReconcileContinuously)
}

// ReconcileOnStartup runs the startup reconciliation.
func (s *Service) ReconcileOnStartup(ctx context.Context) (bool, error) {
	return s.runner.Run(ctx, StartupJob, s.Reconciler.ReconcileOnStartup)
}

// Plan runs the weather planner.
func (s *Service) Plan(ctx context.Context) (bool, error) {
	return s.runner.Run(ctx, PlannerJob, s.Planner.Run)
}

// ReconcileUser reconciles one user without taking a lease.
func (s *Service) ReconcileUser(ctx context.Context, userID string) error {
	return s.Reconciler.ReconcileUser(ctx, userID)
}
