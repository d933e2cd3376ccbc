package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/trigger"
	"github.com/peakshift/peakshift/pkg/types"
)

// maxDispatchRetries is how many times a failed device write is retried
// within one tick.
const maxDispatchRetries = 3

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, maxDispatchRetries)
}

// Executor fires schedule events whose trigger matches the current minute.
type Executor struct {
	db     storage.Database
	sink   *audit.Sink
	device ess.Device
	clock  clockwork.Clock

	newBackOff func() backoff.BackOff
}

// NewExecutor returns an Executor.
func NewExecutor(db storage.Database, sink *audit.Sink, device ess.Device, clock clockwork.Clock) *Executor {
	return &Executor{
		db:         db,
		sink:       sink,
		device:     device,
		clock:      clock,
		newBackOff: defaultBackOff,
	}
}

// Run evaluates every enabled event once. A failure firing one event never
// stops the others from being evaluated.
func (e *Executor) Run(ctx context.Context) error {
	now := e.clock.Now()
	events, err := e.db.ListEnabledScheduleEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled schedule events: %w", err)
	}

	var fired int
	for _, ev := range events {
		ctx := log.WithAttrs(ctx, slog.String("userID", ev.UserID), slog.String("scheduleID", ev.ID))
		due, err := isDue(ev, now)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to evaluate schedule trigger", slog.Any("error", err))
			continue
		}
		if !due {
			continue
		}
		fired++
		if err := e.fire(ctx, ev, now); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record schedule execution", slog.Any("error", err))
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "schedule check finished", slog.Int("events", len(events)), slog.Int("fired", fired))
	return nil
}

func isDue(ev types.ScheduleEvent, now time.Time) (bool, error) {
	loc, err := ev.Location()
	if err != nil {
		return false, err
	}
	return trigger.Matches(ev.TriggerExpression, now, loc)
}

// dispatch writes the reserve, retrying transport errors with backoff. A
// device that answers but does not accept the value is not retried.
func (e *Executor) dispatch(ctx context.Context, ev types.ScheduleEvent) (bool, error) {
	var accepted bool
	op := func() error {
		ok, err := e.device.SetBackupReserve(ctx, ev.UserID, ev.SiteID, ev.BackupPercent)
		if errors.Is(err, ess.ErrSiteNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		accepted = ok
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).WarnContext(ctx, "device write failed, retrying", slog.Duration("wait", wait), slog.Any("error", err))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(e.newBackOff(), ctx), notify)
	return accepted, err
}

// fire dispatches one event and commits its history row. A fired temporary
// event is disabled in the same unit of work.
func (e *Executor) fire(ctx context.Context, ev types.ScheduleEvent, now time.Time) error {
	desc := ev.Kind.Description()
	log.Ctx(ctx).InfoContext(ctx, "executing schedule",
		slog.String("name", ev.Name),
		slog.String("action", desc),
		slog.Int("percent", ev.BackupPercent),
	)

	h := types.ExecutionHistory{
		ScheduleID:         ev.ID,
		GroupID:            ev.GroupID,
		UserID:             ev.UserID,
		ScheduleName:       ev.Name,
		ExecutionTime:      now,
		JobType:            types.JobRegularTrigger,
		TriggerExpression:  ev.TriggerExpression,
		TriggerDescription: trigger.Describe(ev.TriggerExpression),
	}

	accepted, err := e.dispatch(ctx, ev)
	deviceWrites.WithLabelValues("executor", writeResult(accepted, err)).Inc()
	switch {
	case err != nil:
		h.Status = types.ExecutionFailure
		h.Details = fmt.Sprintf("Execution failed for '%s'. Error: %v", desc, err)
		log.Ctx(ctx).ErrorContext(ctx, "failed to execute schedule", slog.Any("error", err))
	case !accepted:
		h.Status = types.ExecutionFailure
		h.Details = fmt.Sprintf("API call failed for '%s' action. The command was not accepted by the device.", desc)
		log.Ctx(ctx).ErrorContext(ctx, "device did not accept schedule execution")
	default:
		h.Status = types.ExecutionSuccess
		h.Details = fmt.Sprintf("Successfully triggered '%s' action. Set backup reserve to %d%%.", desc, ev.BackupPercent)
		log.Ctx(ctx).InfoContext(ctx, "executed schedule")
	}

	var b storage.Batch
	b.AddHistory(h)
	if ev.IsTemporary() {
		ev.Enabled = false
		ev.UpdatedAt = now
		b.PutEvent(ev)
	}
	if err := e.sink.Commit(ctx, b); err != nil {
		return err
	}
	historyRows.WithLabelValues(string(h.JobType), string(h.Status)).Inc()
	return nil
}
