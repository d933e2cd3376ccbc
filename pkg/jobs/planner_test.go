package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
	"github.com/peakshift/peakshift/pkg/weather"
)

func ptr[T any](v T) *T { return &v }

var nyc = types.Profile{ZipCode: "10001", Latitude: ptr(40.7128), Longitude: ptr(-74.006)}

func temporaries(events []types.ScheduleEvent) map[types.EventKind]types.ScheduleEvent {
	out := make(map[types.EventKind]types.ScheduleEvent)
	for _, e := range events {
		if e.IsTemporary() {
			out[e.Kind] = e
		}
	}
	return out
}

func (e *testEnv) user(t *testing.T, id string) types.User {
	t.Helper()
	u, err := e.db.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestPlannerForcesCharge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	p := env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(50))
	env.setReserve("u1", 80)
	env.forecast = weather.Forecast{SunshinePercentage: 50, Reason: "Cloudy"}

	require.NoError(t, env.svc.Planner.Run(ctx))

	temps := temporaries(env.events(t, "u1"))
	require.Len(t, temps, 2)
	start := temps[types.EventKindBeginCharge]
	assert.Equal(t, 85, start.BackupPercent)
	assert.Equal(t, "0 5 10 2 3 ?", start.TriggerExpression)
	assert.Equal(t, "Temporary Start Charge for Peak", start.Name)
	assert.Equal(t, p.GroupID, start.GroupID)
	assert.True(t, start.Temporary.ExpiresAt.Equal(monday(16, 0)))

	stop := temps[types.EventKindBeginDischarge]
	assert.Equal(t, ReleasePercent, stop.BackupPercent)
	assert.Equal(t, "0 0 16 2 3 ?", stop.TriggerExpression)
	assert.True(t, stop.Temporary.ExpiresAt.Equal(monday(16, 0)))

	profile := env.user(t, "u1").Profile
	assert.True(t, profile.ForcedChargingActive)
	assert.Equal(t, 85, profile.ForcedChargePercent)

	reason := "Solar shortfall of 50% detected. Adjusting charge target from 80% to 85%. Forecast reason: Cloudy"
	for _, e := range env.events(t, "u1") {
		if !e.IsTemporary() {
			assert.Equal(t, reason, e.LastEvaluationNote)
		}
	}

	audits := env.audits(t, "u1", types.AuditWeatherUpdate)
	require.Len(t, audits, 1)
	assert.Equal(t, reason, audits[0].Details["info"])
	assert.EqualValues(t, 85, audits[0].Details["target"])

	// the planner reconciles right away so the charge starts before the
	// temporary trigger fires
	assert.Equal(t, 85, env.device.Reserve("u1", "site-1"))
	byJob := make(map[types.JobType]types.ExecutionHistory)
	for _, h := range env.history(t, "u1") {
		byJob[h.JobType] = h
	}
	require.Len(t, byJob, 2)
	rec := byJob[types.JobContinuousReconciliation]
	assert.Equal(t, types.ExecutionSuccess, rec.Status)
	assert.Equal(t, "Automatic correction for weather-aware schedule 'Peak'. Backup reserve was at 80% and has been corrected to the weather-adjusted target of 85%.", rec.Details)
	wx := byJob[types.JobWeatherEvaluation]
	assert.Equal(t, types.ExecutionSuccess, wx.Status)
	assert.Equal(t, reason, wx.Details)

	// merged view shows the override
	periods, err := env.store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, 85, periods[0].OffPeakBackupPercent)
	assert.Equal(t, 80, periods[0].PermanentOffPeakBackupPercent)
	assert.True(t, periods[0].OverriddenByWeather)
}

func TestPlannerEscalateOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(50))
	env.forecast = weather.Forecast{SunshinePercentage: 50, Reason: "Cloudy"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	// a better forecast never lowers an active forced charge
	env.clock.Advance(time.Minute)
	env.forecast = weather.Forecast{SunshinePercentage: 60, Reason: "Some sun"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	temps := temporaries(env.events(t, "u1"))
	require.Len(t, temps, 2)
	assert.Equal(t, 85, temps[types.EventKindBeginCharge].BackupPercent)
	hist := env.history(t, "u1")
	assert.Equal(t, types.ExecutionSkipped, hist[0].Status)
	assert.Equal(t, "Forced charge already active at 85%. New, lower target of 84% ignored. Forecast reason: Some sun", hist[0].Details)

	// a worse forecast replaces it
	env.clock.Advance(time.Minute)
	env.forecast = weather.Forecast{SunshinePercentage: 0, Reason: "Storm"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	temps = temporaries(env.events(t, "u1"))
	require.Len(t, temps, 2)
	assert.Equal(t, 90, temps[types.EventKindBeginCharge].BackupPercent)
	assert.Len(t, env.events(t, "u1"), 4)
	assert.Equal(t, 90, env.device.Reserve("u1", "site-1"))
}

func TestPlannerEscalateOnlyAfterStartFired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(50))
	env.setReserve("u1", 80)
	env.forecast = weather.Forecast{SunshinePercentage: 50, Reason: "Cloudy"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	env.clock.Advance(5 * time.Minute)
	require.NoError(t, env.svc.Executor.Run(ctx))
	assert.Equal(t, 85, env.device.Reserve("u1", "site-1"))

	// the fired start is cleaned up but the override it set stays live
	env.clock.Advance(55 * time.Minute)
	env.forecast = weather.Forecast{SunshinePercentage: 80, Reason: "Mostly sunny"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	temps := temporaries(env.events(t, "u1"))
	require.Len(t, temps, 1)
	assert.Contains(t, temps, types.EventKindBeginDischarge)
	hist := env.history(t, "u1")
	assert.Equal(t, types.JobWeatherEvaluation, hist[0].JobType)
	assert.Equal(t, types.ExecutionSkipped, hist[0].Status)
	assert.Equal(t, "Forced charge already active at 85%. New, lower target of 82% ignored. Forecast reason: Mostly sunny", hist[0].Details)
	profile := env.user(t, "u1").Profile
	assert.True(t, profile.ForcedChargingActive)
	assert.Equal(t, 85, profile.ForcedChargePercent)

	env.clock.Advance(5 * time.Minute)
	require.NoError(t, env.svc.Executor.Run(ctx))
	assert.Equal(t, 85, env.device.Reserve("u1", "site-1"))
	for _, c := range env.device.Calls() {
		assert.NotEqual(t, 82, c.Percent)
	}

	// a worse forecast still escalates
	env.clock.Advance(55 * time.Minute)
	env.forecast = weather.Forecast{SunshinePercentage: 0, Reason: "Storm"}
	require.NoError(t, env.svc.Planner.Run(ctx))

	temps = temporaries(env.events(t, "u1"))
	require.Len(t, temps, 2)
	assert.Equal(t, 90, temps[types.EventKindBeginCharge].BackupPercent)
	assert.Len(t, env.events(t, "u1"), 4)
	assert.Equal(t, 90, env.user(t, "u1").Profile.ForcedChargePercent)
	assert.Equal(t, 90, env.device.Reserve("u1", "site-1"))
}

func TestPlannerStopRollsToTomorrow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(22, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(50))
	env.forecast = weather.Forecast{SunshinePercentage: 50, Reason: "Cloudy"}

	require.NoError(t, env.svc.Planner.Run(ctx))

	tomorrow := monday(16, 0).AddDate(0, 0, 1)
	temps := temporaries(env.events(t, "u1"))
	require.Len(t, temps, 2)
	start := temps[types.EventKindBeginCharge]
	assert.Equal(t, "0 5 22 2 3 ?", start.TriggerExpression)
	assert.True(t, start.Temporary.ExpiresAt.Equal(tomorrow))
	stop := temps[types.EventKindBeginDischarge]
	assert.Equal(t, "0 0 16 3 3 ?", stop.TriggerExpression)
	assert.True(t, stop.Temporary.ExpiresAt.Equal(tomorrow))
}

func TestPlannerLogsUserOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(50))
	env.setReserve("u1", 80)
	env.forecast = weather.Forecast{SunshinePercentage: 50, Reason: "Cloudy"}

	require.NoError(t, env.svc.Planner.Run(ctx))

	var tagged int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		n := strings.Count(line, `"userID":`)
		assert.LessOrEqual(t, n, 1, line)
		tagged += n
	}
	assert.Positive(t, tagged)
}

func TestPlannerGoodWeather(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))
	env.forecast = weather.Forecast{SunshinePercentage: 97, Reason: "Sunny"}

	require.NoError(t, env.svc.Planner.Run(ctx))

	events := env.events(t, "u1")
	assert.Empty(t, temporaries(events))
	for _, e := range events {
		assert.Equal(t, "Good solar potential detected. Reason: Sunny", e.LastEvaluationNote)
	}
	hist := env.history(t, "u1")
	require.Len(t, hist, 1)
	assert.Equal(t, types.ExecutionSkipped, hist[0].Status)
	assert.Len(t, env.audits(t, "u1", types.AuditWeatherUpdate), 1)
	assert.False(t, env.user(t, "u1").Profile.ForcedChargingActive)
	assert.Empty(t, env.device.Calls())
}

func TestPlannerSkips(t *testing.T) {
	ctx := context.Background()

	t.Run("during on-peak", func(t *testing.T) {
		env := newTestEnv(t, monday(17, 0))
		env.addUser(t, "u1", nyc)
		env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))

		require.NoError(t, env.svc.Planner.Run(ctx))
		assert.Zero(t, env.wxCalls)
		assert.Empty(t, env.history(t, "u1"))
	})

	t.Run("without location", func(t *testing.T) {
		env := newTestEnv(t, monday(10, 0))
		env.addUser(t, "u1", types.Profile{})
		env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))

		require.NoError(t, env.svc.Planner.Run(ctx))
		assert.Zero(t, env.wxCalls)
		assert.Empty(t, env.history(t, "u1"))
	})

	t.Run("zip code without coordinates", func(t *testing.T) {
		env := newTestEnv(t, monday(10, 0))
		env.addUser(t, "u1", types.Profile{ZipCode: "10001"})
		env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))

		require.NoError(t, env.svc.Planner.Run(ctx))
		assert.Zero(t, env.wxCalls)
		assert.Empty(t, env.history(t, "u1"))
	})

	t.Run("basic schedules only", func(t *testing.T) {
		env := newTestEnv(t, monday(10, 0))
		env.addUser(t, "u1", nyc)
		env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80)

		require.NoError(t, env.svc.Planner.Run(ctx))
		assert.Zero(t, env.wxCalls)
	})
}

func TestPlannerForecastFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addUser(t, "u2", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))
	env.addPeriod(t, "u2", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))
	env.wxErr = fmt.Errorf("%w: upstream returned 503", weather.ErrForecastEvaluation)

	require.NoError(t, env.svc.Planner.Run(ctx))

	for _, id := range []string{"u1", "u2"} {
		hist := env.history(t, id)
		require.Len(t, hist, 1)
		assert.Equal(t, types.ExecutionFailure, hist[0].Status)
		assert.Contains(t, hist[0].Details, "upstream returned 503")

		audits := env.audits(t, id, types.AuditWeatherUpdate)
		require.Len(t, audits, 1)
		assert.Contains(t, audits[0].Details["info"], "upstream returned 503")
		assert.Empty(t, temporaries(env.events(t, id)))
	}
	assert.Equal(t, 2, env.wxCalls)
}

func TestPlannerCleanup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, monday(10, 0))
	env.addUser(t, "u1", nyc)
	env.addPeriod(t, "u1", "Peak", 16, 21, 20, 80, weatherAwareFactor(100))
	env.forecast = weather.Forecast{SunshinePercentage: 20, Reason: "Rain"}
	require.NoError(t, env.svc.Planner.Run(ctx))
	require.Len(t, temporaries(env.events(t, "u1")), 2)

	// after the release time both temporaries are gone and the flag resets
	env.clock.Advance(7 * time.Hour)
	require.NoError(t, env.svc.Planner.Run(ctx))

	assert.Empty(t, temporaries(env.events(t, "u1")))
	assert.Len(t, env.events(t, "u1"), 2)
	profile := env.user(t, "u1").Profile
	assert.False(t, profile.ForcedChargingActive)
	assert.Zero(t, profile.ForcedChargePercent)
}

func TestStaleTemporaries(t *testing.T) {
	now := monday(12, 0)
	events := []types.ScheduleEvent{
		{ID: "permanent", Enabled: true},
		{ID: "fired", Enabled: false, Temporary: &types.Temporary{ExpiresAt: monday(16, 0)}},
		{ID: "expired", Enabled: true, Temporary: &types.Temporary{ExpiresAt: monday(11, 0)}},
		{ID: "pending", Enabled: true, Temporary: &types.Temporary{ExpiresAt: monday(16, 0)}},
	}
	stale, keep := StaleTemporaries(events, now)

	var staleIDs, keepIDs []string
	for _, e := range stale {
		staleIDs = append(staleIDs, e.ID)
	}
	for _, e := range keep {
		keepIDs = append(keepIDs, e.ID)
	}
	assert.Equal(t, []string{"fired", "expired"}, staleIDs)
	assert.Equal(t, []string{"permanent", "pending"}, keepIDs)
}
