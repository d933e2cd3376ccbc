package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/schedule"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/trigger"
	"github.com/peakshift/peakshift/pkg/types"
	"github.com/peakshift/peakshift/pkg/weather"
)

const (
	// shortfalls at or below this are not worth a grid charge
	shortfallThreshold = 5
	// MaxChargeTarget protects battery health.
	MaxChargeTarget = 90
	// ReleasePercent is written when a forced charge ends.
	ReleasePercent = 20
	// forcedChargeDelay is how far ahead the forced charge starts.
	forcedChargeDelay = 5 * time.Minute
)

// ChargeTarget computes the solar shortfall and the charge target that
// covers it. adjust is false when the shortfall is too small to act on.
func ChargeTarget(sunshine, base, scaling int) (shortfall, target int, adjust bool) {
	shortfall = 100 - sunshine
	if shortfall <= shortfallThreshold {
		return shortfall, base, false
	}
	headroom := float64(100 - base)
	adjustment := float64(shortfall) / 100 * headroom * float64(scaling) / 100
	target = int(math.Round(float64(base) + adjustment))
	if target > MaxChargeTarget {
		target = MaxChargeTarget
	}
	return shortfall, target, true
}

// StaleTemporaries splits events into temporary events that have fired or
// expired, and the rest.
func StaleTemporaries(events []types.ScheduleEvent, now time.Time) (stale, keep []types.ScheduleEvent) {
	for _, e := range events {
		if e.IsTemporary() && (!e.Enabled || e.Expired(now)) {
			stale = append(stale, e)
		} else {
			keep = append(keep, e)
		}
	}
	return stale, keep
}

// Planner forces a grid charge ahead of days with poor solar outlook by
// layering a temporary pair onto a weather-aware period.
type Planner struct {
	db         storage.Database
	sink       *audit.Sink
	weather    weather.Evaluator
	reconciler *Reconciler
	clock      clockwork.Clock
}

// NewPlanner returns a Planner.
func NewPlanner(db storage.Database, sink *audit.Sink, w weather.Evaluator, reconciler *Reconciler, clock clockwork.Clock) *Planner {
	return &Planner{db: db, sink: sink, weather: w, reconciler: reconciler, clock: clock}
}

// Run plans every user. One user's failure does not stop the others.
func (p *Planner) Run(ctx context.Context) error {
	users, err := p.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		ctx := log.WithAttrs(ctx, slog.String("userID", u.ID))
		if err := p.planUser(ctx, u); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "weather planning failed", slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "weather planning finished", slog.Int("users", len(users)))
	return nil
}

// cleanup deletes fired or expired temporary events and clears the forced
// charge flag once none remain. It commits on its own.
func (p *Planner) cleanup(ctx context.Context, user types.User, events []types.ScheduleEvent, now time.Time) (types.User, []types.ScheduleEvent, error) {
	stale, keep := StaleTemporaries(events, now)

	var b storage.Batch
	b.DeleteEvent(stale...)
	if user.Profile.ForcedChargingActive && !hasTemporary(keep) {
		user.Profile.ForcedChargingActive = false
		user.Profile.ForcedChargePercent = 0
		b.PutUser(user)
	}
	if b.Empty() {
		return user, keep, nil
	}
	if err := p.sink.Commit(ctx, b); err != nil {
		return user, events, fmt.Errorf("failed to clean up temporary schedules: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "cleaned up temporary schedules", slog.Int("deleted", len(stale)))
	return user, keep, nil
}

// activeOverride returns the percent of the live forced charge. The profile
// remembers it after the start event has fired and been cleaned up.
func activeOverride(user types.User, temporaries []types.ScheduleEvent) (int, bool) {
	if !user.Profile.ForcedChargingActive {
		return 0, false
	}
	current, ok := user.Profile.ForcedChargePercent, user.Profile.ForcedChargePercent > 0
	for _, e := range temporaries {
		if e.Kind == types.EventKindBeginCharge && e.BackupPercent > current {
			current, ok = e.BackupPercent, true
		}
	}
	return current, ok
}

func hasTemporary(events []types.ScheduleEvent) bool {
	for _, e := range events {
		if e.IsTemporary() {
			return true
		}
	}
	return false
}

// basePair returns the permanent pair of the oldest enabled weather-aware
// period.
func basePair(events []types.ScheduleEvent) (discharge, charge types.ScheduleEvent, group []types.ScheduleEvent, ok bool) {
	type candidate struct {
		discharge, charge types.ScheduleEvent
		group             []types.ScheduleEvent
	}
	var cands []candidate
	for _, g := range schedule.Group(events) {
		d, okD := schedule.Permanent(g, types.EventKindBeginDischarge)
		c, okC := schedule.Permanent(g, types.EventKindBeginCharge)
		if !okD || !okC || !d.Enabled {
			continue
		}
		cands = append(cands, candidate{d, c, g})
	}
	if len(cands) == 0 {
		return types.ScheduleEvent{}, types.ScheduleEvent{}, nil, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].discharge.CreatedAt.Equal(cands[j].discharge.CreatedAt) {
			return cands[i].discharge.CreatedAt.Before(cands[j].discharge.CreatedAt)
		}
		return cands[i].discharge.GroupID < cands[j].discharge.GroupID
	})
	return cands[0].discharge, cands[0].charge, cands[0].group, true
}

func weatherAware(events []types.ScheduleEvent) []types.ScheduleEvent {
	var out []types.ScheduleEvent
	for _, e := range events {
		if e.ScheduleKind.OrDefault() == types.ScheduleKindWeatherAware {
			out = append(out, e)
		}
	}
	return out
}

// noteOn records note on every permanent event of events.
func noteOn(b *storage.Batch, events []types.ScheduleEvent, note string, now time.Time) {
	for _, e := range events {
		if e.IsTemporary() {
			continue
		}
		e.LastEvaluationNote = note
		e.UpdatedAt = now
		b.PutEvent(e)
	}
}

// outcome collects what one planning step writes.
type outcome struct {
	status  types.ExecutionStatus
	reason  string
	details map[string]any
}

func (p *Planner) record(b *storage.Batch, user types.User, base types.ScheduleEvent, o outcome, now time.Time) {
	details := o.details
	if details == nil {
		details = map[string]any{}
	}
	details["info"] = o.reason
	b.AddAudit(types.AuditEvent{
		GroupID:      base.GroupID,
		UserID:       user.ID,
		ScheduleName: base.Name,
		Action:       types.AuditWeatherUpdate,
		Timestamp:    now,
		Details:      details,
	})
	b.AddHistory(types.ExecutionHistory{
		ScheduleID:         base.ID,
		GroupID:            base.GroupID,
		UserID:             user.ID,
		ScheduleName:       base.Name,
		ExecutionTime:      now,
		Status:             o.status,
		JobType:            types.JobWeatherEvaluation,
		Details:            o.reason,
		TriggerExpression:  base.TriggerExpression,
		TriggerDescription: trigger.Describe(base.TriggerExpression),
	})
}

func (p *Planner) planUser(ctx context.Context, user types.User) error {
	now := p.clock.Now()
	events, err := p.db.ListScheduleEvents(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list schedule events: %w", err)
	}
	user, events, err = p.cleanup(ctx, user, events, now)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cleanup failed", slog.Any("error", err))
	}

	aware := weatherAware(events)
	if len(aware) == 0 {
		return nil
	}
	discharge, charge, group, ok := basePair(aware)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "incomplete weather-aware schedule configuration, skipping")
		return nil
	}
	loc, err := discharge.Location()
	if err != nil {
		return err
	}
	local := now.In(loc)
	if types.InWindow(types.TimeOfDayOf(local), discharge.ScheduledTime, charge.ScheduledTime) {
		log.Ctx(ctx).InfoContext(ctx, "weather check running during on-peak, skipping")
		return nil
	}
	if !user.Profile.HasLocation() {
		log.Ctx(ctx).WarnContext(ctx, "weather-aware schedules but no location configured, skipping")
		return nil
	}

	var b storage.Batch
	forecast, err := p.weather.Evaluate(ctx, user)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "weather evaluation failed", slog.Any("error", err))
		p.record(&b, user, discharge, outcome{status: types.ExecutionFailure, reason: err.Error()}, now)
		return p.sink.Commit(ctx, b)
	}

	base := charge.BackupPercent
	shortfall, target, adjust := ChargeTarget(forecast.SunshinePercentage, base, charge.ScalingFactor())
	details := map[string]any{
		"sunshinePercentage": forecast.SunshinePercentage,
		"shortfall":          shortfall,
		"baseTarget":         base,
		"target":             target,
		"forecastReason":     forecast.Reason,
	}

	if !adjust {
		reason := goodWeatherReason(forecast.Reason)
		log.Ctx(ctx).InfoContext(ctx, "good solar potential, no charge adjustment", slog.String("reason", forecast.Reason))
		noteOn(&b, aware, reason, now)
		p.record(&b, user, discharge, outcome{status: types.ExecutionSkipped, reason: reason, details: details}, now)
		return p.sink.Commit(ctx, b)
	}

	existing := schedule.Temporary(group)
	if current, ok := activeOverride(user, existing); ok {
		if target <= current {
			reason := alreadyForcedReason(current, target, forecast.Reason)
			log.Ctx(ctx).InfoContext(ctx, "forced charge already active at an equal or higher target, skipping",
				slog.Int("current", current),
				slog.Int("target", target),
			)
			noteOn(&b, aware, reason, now)
			p.record(&b, user, discharge, outcome{status: types.ExecutionSkipped, reason: reason, details: details}, now)
			return p.sink.Commit(ctx, b)
		}
		log.Ctx(ctx).InfoContext(ctx, "worsening weather, replacing forced charge",
			slog.Int("current", current),
			slog.Int("target", target),
		)
	}

	reason := shortfallReason(shortfall, base, target, forecast.Reason)
	log.Ctx(ctx).InfoContext(ctx, reason)
	pair := forcedChargePair(discharge, charge, target, local)

	b.DeleteEvent(existing...)
	noteOn(&b, aware, reason, now)
	b.PutEvent(pair...)
	user.Profile.ForcedChargingActive = true
	user.Profile.ForcedChargePercent = target
	b.PutUser(user)
	details["actionTaken"] = true
	p.record(&b, user, discharge, outcome{status: types.ExecutionSuccess, reason: reason, details: details}, now)
	if err := p.sink.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to inject forced charge: %w", err)
	}

	if err := p.reconciler.reconcileUser(ctx, user.ID, types.JobContinuousReconciliation, anyMode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "reconciliation after forced charge failed", slog.Any("error", err))
	}
	return nil
}

// forcedChargePair builds the temporary pair: a charge to target shortly
// after local, and a release at the next on-peak start. Both expire at the
// release time.
func forcedChargePair(discharge, charge types.ScheduleEvent, target int, local time.Time) []types.ScheduleEvent {
	start := local.Add(forcedChargeDelay)
	stop := discharge.ScheduledTime.On(local)
	if local.After(stop) {
		stop = discharge.ScheduledTime.On(local.AddDate(0, 0, 1))
	}
	now := local.UTC()

	mk := func(kind types.EventKind, at time.Time, percent int, name, desc string) types.ScheduleEvent {
		return types.ScheduleEvent{
			ID:                 uuid.NewString(),
			GroupID:            discharge.GroupID,
			UserID:             discharge.UserID,
			SiteID:             discharge.SiteID,
			Name:               name,
			Description:        desc,
			Days:               discharge.Days,
			Timezone:           discharge.Timezone,
			ScheduledTime:      types.TimeOfDayOf(at),
			TriggerExpression:  trigger.Once(at),
			Kind:               kind,
			BackupPercent:      percent,
			Enabled:            true,
			Temporary:          &types.Temporary{ExpiresAt: stop},
			ReconciliationMode: charge.ReconciliationMode.OrDefault(),
			ScheduleKind:       types.ScheduleKindWeatherAware,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}
	return []types.ScheduleEvent{
		mk(types.EventKindBeginCharge, start, target,
			"Temporary Start Charge for "+discharge.Name,
			"Temporary charging schedule created due to bad weather forecast."),
		mk(types.EventKindBeginDischarge, stop, ReleasePercent,
			"Temporary Stop Charge for "+discharge.Name,
			"Temporary schedule to stop charging after bad weather event."),
	}
}
