package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/schedule"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/trigger"
	"github.com/peakshift/peakshift/pkg/types"
)

// Reconciler corrects drift between the scheduled reserve and the reserve
// the device actually reports.
type Reconciler struct {
	db     storage.Database
	sink   *audit.Sink
	device ess.Device
	clock  clockwork.Clock
}

// NewReconciler returns a Reconciler.
func NewReconciler(db storage.Database, sink *audit.Sink, device ess.Device, clock clockwork.Clock) *Reconciler {
	return &Reconciler{db: db, sink: sink, device: device, clock: clock}
}

func continuousOnly(p types.SchedulePeriod) bool {
	return p.ReconciliationMode.OrDefault() == types.ReconciliationContinuous
}

func anyMode(types.SchedulePeriod) bool { return true }

// ReconcileContinuously reconciles every user's continuous periods.
func (r *Reconciler) ReconcileContinuously(ctx context.Context) error {
	return r.sweep(ctx, types.JobContinuousReconciliation, continuousOnly)
}

// ReconcileOnStartup reconciles every user's enabled periods regardless of
// mode. It covers changes missed while no instance was running.
func (r *Reconciler) ReconcileOnStartup(ctx context.Context) error {
	return r.sweep(ctx, types.JobStartupReconciliation, anyMode)
}

// ReconcileUser reconciles one user right away.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) error {
	ctx = log.WithAttrs(ctx, slog.String("userID", userID))
	log.Ctx(ctx).InfoContext(ctx, "ad-hoc reconciliation")
	return r.reconcileUser(ctx, userID, types.JobContinuousReconciliation, anyMode)
}

func (r *Reconciler) sweep(ctx context.Context, jobType types.JobType, selectFn func(types.SchedulePeriod) bool) error {
	users, err := r.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		ctx := log.WithAttrs(ctx, slog.String("userID", u.ID))
		if err := r.reconcileUser(ctx, u.ID, jobType, selectFn); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to reconcile user", slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "reconciliation sweep finished", slog.Int("users", len(users)))
	return nil
}

// activeToday returns the enabled, selected periods whose days include now's
// weekday in each period's own timezone.
func activeToday(ctx context.Context, periods []types.SchedulePeriod, now time.Time, selectFn func(types.SchedulePeriod) bool) []types.SchedulePeriod {
	var out []types.SchedulePeriod
	for _, p := range periods {
		if !p.Enabled || !selectFn(p) {
			continue
		}
		ok, err := p.ActiveOn(now)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping period with bad timezone", slog.String("groupID", p.GroupID), slog.Any("error", err))
			continue
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// target picks the window and the reserve the device should have. When any
// period is on-peak the lowest on-peak reserve wins, otherwise the highest
// off-peak reserve of all periods active today wins.
func target(ctx context.Context, active []types.SchedulePeriod, now time.Time) (Window, int, types.SchedulePeriod) {
	var onPeak []types.SchedulePeriod
	for _, p := range active {
		in, err := p.OnPeakAt(now)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping period with bad timezone", slog.String("groupID", p.GroupID), slog.Any("error", err))
			continue
		}
		if in {
			onPeak = append(onPeak, p)
		}
	}

	if len(onPeak) > 0 {
		winner := onPeak[0]
		for _, p := range onPeak[1:] {
			if p.OnPeakBackupPercent < winner.OnPeakBackupPercent {
				winner = p
			}
		}
		return OnPeak, winner.OnPeakBackupPercent, winner
	}
	winner := active[0]
	for _, p := range active[1:] {
		if p.OffPeakBackupPercent > winner.OffPeakBackupPercent {
			winner = p
		}
	}
	return OffPeak, winner.OffPeakBackupPercent, winner
}

func (r *Reconciler) reconcileUser(ctx context.Context, userID string, jobType types.JobType, selectFn func(types.SchedulePeriod) bool) error {
	now := r.clock.Now()
	events, err := r.db.ListScheduleEvents(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list schedule events: %w", err)
	}
	active := activeToday(ctx, schedule.MergeAll(events), now, selectFn)
	if len(active) == 0 {
		return nil
	}
	w, want, winner := target(ctx, active, now)

	actual, err := r.device.GetBackupReserve(ctx, userID, winner.SiteID)
	if err != nil {
		return fmt.Errorf("failed to read backup reserve for site %s: %w", winner.SiteID, err)
	}

	d := Decide(w, actual, want)
	var status types.ExecutionStatus
	var details string
	switch d.Action {
	case ActionCorrect:
		log.Ctx(ctx).WarnContext(ctx, "backup reserve drifted, correcting",
			slog.String("siteID", winner.SiteID),
			slog.String("window", string(w)),
			slog.Int("actual", actual),
			slog.Int("target", want),
		)
		accepted, err := r.device.SetBackupReserve(ctx, userID, winner.SiteID, want)
		deviceWrites.WithLabelValues("reconciler", writeResult(accepted, err)).Inc()
		switch {
		case err != nil:
			status = types.ExecutionFailure
			details = correctionErrorDetails(winner, want, err)
		case !accepted:
			status = types.ExecutionFailure
			details = correctionRejectedDetails(winner, want)
		default:
			status = types.ExecutionSuccess
			details = correctedDetails(winner, w, actual, want)
		}
	case ActionAlreadyCorrect:
		status = types.ExecutionSkipped
		details = alreadyCorrectDetails(winner, w, want)
	case ActionSkip:
		log.Ctx(ctx).InfoContext(ctx, d.Reason)
		status = types.ExecutionSkipped
		details = d.Reason
	}

	h, ok := attributedHistory(events, winner, w)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "malformed schedule group, not recording reconciliation", slog.String("groupID", winner.GroupID))
		return nil
	}
	h.ExecutionTime = now
	h.Status = status
	h.JobType = jobType
	h.Details = details

	var b storage.Batch
	b.AddHistory(h)
	if err := r.sink.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to save reconciliation history: %w", err)
	}
	historyRows.WithLabelValues(string(h.JobType), string(h.Status)).Inc()
	return nil
}

// attributedHistory starts a history row for the permanent event that
// governs w: the on-peak start for on-peak and the off-peak start otherwise.
func attributedHistory(events []types.ScheduleEvent, p types.SchedulePeriod, w Window) (types.ExecutionHistory, bool) {
	kind := types.EventKindBeginCharge
	if w == OnPeak {
		kind = types.EventKindBeginDischarge
	}
	var group []types.ScheduleEvent
	for _, e := range events {
		if e.GroupID == p.GroupID {
			group = append(group, e)
		}
	}
	ev, ok := schedule.Permanent(group, kind)
	if !ok {
		return types.ExecutionHistory{}, false
	}
	return types.ExecutionHistory{
		ScheduleID:         ev.ID,
		GroupID:            ev.GroupID,
		UserID:             ev.UserID,
		ScheduleName:       ev.Name,
		TriggerExpression:  ev.TriggerExpression,
		TriggerDescription: trigger.Describe(ev.TriggerExpression),
	}, true
}
