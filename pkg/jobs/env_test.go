package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/lease"
	"github.com/peakshift/peakshift/pkg/schedule"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/types"
	"github.com/peakshift/peakshift/pkg/weather"
)

// monday is 2026-03-02, a Monday.
func monday(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

type testEnv struct {
	db       *storage.SQLProvider
	sink     *audit.Sink
	device   *ess.MockESS
	clock    *clockwork.FakeClock
	store    *schedule.Store
	svc      *Service
	forecast weather.Forecast
	wxErr    error
	wxCalls  int
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	db := storage.NewSQLProvider("sqlite", ":memory:")
	require.NoError(t, db.Init(context.Background()))
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		sink:     audit.NewSink(db, nil),
		device:   ess.NewMock(),
		clock:    clockwork.NewFakeClockAt(now),
		forecast: weather.Forecast{SunshinePercentage: 100, Reason: "clear"},
	}
	env.store = schedule.NewStore(db, env.sink, env.device, env.clock)
	env.svc = New(Deps{
		DB:     db,
		Sink:   env.sink,
		Device: env.device,
		Weather: weather.EvaluatorFunc(func(ctx context.Context, user types.User) (weather.Forecast, error) {
			env.wxCalls++
			return env.forecast, env.wxErr
		}),
		Locker: lease.NewMemoryLocker(env.clock),
		Clock:  env.clock,
	})
	env.svc.Executor.newBackOff = zeroBackOff
	return env
}

func zeroBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxDispatchRetries)
}

func (e *testEnv) addUser(t *testing.T, id string, profile types.Profile) types.User {
	t.Helper()
	u := types.User{ID: id, Email: id + "@example.com", Profile: profile, CreatedAt: e.clock.Now()}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return u
}

func tod(h int) *types.TimeOfDay {
	t := types.NewTimeOfDay(h, 0)
	return &t
}

// addPeriod creates an every-day period on site-1 in UTC.
func (e *testEnv) addPeriod(t *testing.T, userID, name string, start, end, onPeak, offPeak int, mods ...func(*types.ScheduleRequest)) types.SchedulePeriod {
	t.Helper()
	enabled := true
	req := types.ScheduleRequest{
		SiteID:               "site-1",
		Name:                 name,
		Days:                 types.EveryDay,
		StartTime:            tod(start),
		EndTime:              tod(end),
		Timezone:             "UTC",
		OnPeakBackupPercent:  onPeak,
		OffPeakBackupPercent: offPeak,
		Enabled:              &enabled,
	}
	for _, m := range mods {
		m(&req)
	}
	p, err := e.store.CreatePeriod(context.Background(), userID, req)
	require.NoError(t, err)
	return p
}

func (e *testEnv) setReserve(userID string, percent int) {
	e.device.AddSite(userID, types.EnergySite{ID: "site-1", Name: "Home"}, percent)
}

func (e *testEnv) history(t *testing.T, userID string) []types.ExecutionHistory {
	t.Helper()
	p, err := e.db.QueryExecutionHistory(context.Background(), userID, nil, types.PageRequest{Size: types.MaxPageSize})
	require.NoError(t, err)
	return p.Items
}

func (e *testEnv) audits(t *testing.T, userID string, actions ...types.AuditAction) []types.AuditEvent {
	t.Helper()
	p, err := e.db.QueryAuditEvents(context.Background(), userID, actions, types.PageRequest{Size: types.MaxPageSize})
	require.NoError(t, err)
	return p.Items
}

func (e *testEnv) events(t *testing.T, userID string) []types.ScheduleEvent {
	t.Helper()
	events, err := e.db.ListScheduleEvents(context.Background(), userID)
	require.NoError(t, err)
	return events
}

func weatherAwareFactor(factor int) func(*types.ScheduleRequest) {
	return func(r *types.ScheduleRequest) {
		r.ScheduleKind = types.ScheduleKindWeatherAware
		r.WeatherScalingFactor = &factor
	}
}
