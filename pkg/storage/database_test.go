package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakshift/peakshift/pkg/types"
)

func testEvent(id, groupID, userID string, kind types.EventKind, percent int, enabled bool) types.ScheduleEvent {
	return types.ScheduleEvent{
		ID:                 id,
		GroupID:            groupID,
		UserID:             userID,
		SiteID:             "site-1",
		Name:               "Weekday peak",
		Days:               types.NewWeekdays(time.Monday, time.Tuesday),
		Timezone:           "America/New_York",
		ScheduledTime:      types.NewTimeOfDay(16, 0),
		TriggerExpression:  "0 0 16 ? * MON,TUE",
		Kind:               kind,
		BackupPercent:      percent,
		Enabled:            enabled,
		ReconciliationMode: types.ReconciliationContinuous,
		ScheduleKind:       types.ScheduleKindBasic,
	}
}

func eventIDs(events []types.ScheduleEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

// testDatabase exercises the Database contract against any provider. userPrefix
// keeps runs against shared backends apart.
func testDatabase(t *testing.T, db Database, userPrefix string) {
	ctx := context.Background()
	alice := userPrefix + "alice"
	bob := userPrefix + "bob"

	t.Run("Users", func(t *testing.T) {
		require.NoError(t, db.CreateUser(ctx, types.User{ID: alice, Email: "alice@example.com"}))
		require.NoError(t, db.CreateUser(ctx, types.User{ID: bob, Email: "bob@example.com"}))

		u, err := db.GetUser(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.False(t, u.Profile.ForcedChargingActive)

		_, err = db.GetUser(ctx, userPrefix+"nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)

		users, err := db.ListUsers(ctx)
		require.NoError(t, err)
		var ids []string
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		assert.Contains(t, ids, alice)
		assert.Contains(t, ids, bob)

		u.Profile.ForcedChargingActive = true
		require.NoError(t, db.Commit(ctx, Batch{Users: []types.User{u}}))
		u, err = db.GetUser(ctx, alice)
		require.NoError(t, err)
		assert.True(t, u.Profile.ForcedChargingActive)
	})

	t.Run("ScheduleEvents", func(t *testing.T) {
		group := userPrefix + "group-1"
		on := testEvent(userPrefix+"ev-on", group, alice, types.EventKindBeginDischarge, 20, true)
		off := testEvent(userPrefix+"ev-off", group, alice, types.EventKindBeginCharge, 60, true)
		other := testEvent(userPrefix+"ev-bob", userPrefix+"group-2", bob, types.EventKindBeginCharge, 50, false)

		var b Batch
		b.PutEvent(on, off, other)
		require.NoError(t, db.Commit(ctx, b))

		events, err := db.ListScheduleEvents(ctx, alice)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{on.ID, off.ID}, eventIDs(events))

		enabled, err := db.ListEnabledScheduleEvents(ctx)
		require.NoError(t, err)
		ids := eventIDs(enabled)
		assert.Contains(t, ids, on.ID)
		assert.Contains(t, ids, off.ID)
		assert.NotContains(t, ids, other.ID)

		grp, err := db.GetScheduleGroup(ctx, group)
		require.NoError(t, err)
		require.Len(t, grp, 2)
		for _, e := range grp {
			assert.Equal(t, alice, e.UserID)
			assert.Equal(t, types.NewWeekdays(time.Monday, time.Tuesday), e.Days)
			assert.Equal(t, types.NewTimeOfDay(16, 0), e.ScheduledTime)
		}

		off.BackupPercent = 70
		off.Enabled = false
		b = Batch{}
		b.PutEvent(off)
		require.NoError(t, db.Commit(ctx, b))

		grp, err = db.GetScheduleGroup(ctx, group)
		require.NoError(t, err)
		for _, e := range grp {
			if e.ID == off.ID {
				assert.Equal(t, 70, e.BackupPercent)
				assert.False(t, e.Enabled)
			}
		}
		enabled, err = db.ListEnabledScheduleEvents(ctx)
		require.NoError(t, err)
		assert.NotContains(t, eventIDs(enabled), off.ID)

		b = Batch{}
		b.DeleteEvent(on, off)
		require.NoError(t, db.Commit(ctx, b))
		events, err = db.ListScheduleEvents(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("ExecutionHistory", func(t *testing.T) {
		base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
		var b Batch
		for i := 0; i < 25; i++ {
			status := types.ExecutionSuccess
			if i%5 == 0 {
				status = types.ExecutionSkipped
			}
			b.AddHistory(types.ExecutionHistory{
				UserID:        alice,
				ScheduleName:  fmt.Sprintf("run-%02d", i),
				ExecutionTime: base.Add(time.Duration(i) * time.Minute),
				Status:        status,
				JobType:       types.JobRegularTrigger,
			})
		}
		b.AddHistory(types.ExecutionHistory{UserID: bob, ScheduleName: "bob-run", ExecutionTime: base, Status: types.ExecutionSuccess})
		require.NoError(t, db.Commit(ctx, b))

		p, err := db.QueryExecutionHistory(ctx, alice, nil, types.PageRequest{Page: 0, Size: 10})
		require.NoError(t, err)
		require.Len(t, p.Items, 10)
		assert.True(t, p.HasMore)
		assert.Equal(t, "run-24", p.Items[0].ScheduleName)
		assert.Equal(t, "run-15", p.Items[9].ScheduleName)

		p, err = db.QueryExecutionHistory(ctx, alice, nil, types.PageRequest{Page: 2, Size: 10})
		require.NoError(t, err)
		assert.Len(t, p.Items, 5)
		assert.False(t, p.HasMore)

		p, err = db.QueryExecutionHistory(ctx, alice, []types.ExecutionStatus{types.ExecutionSkipped}, types.PageRequest{})
		require.NoError(t, err)
		require.Len(t, p.Items, 5)
		for _, h := range p.Items {
			assert.Equal(t, types.ExecutionSkipped, h.Status)
		}
		assert.Equal(t, types.DefaultPageSize, p.Size)

		p, err = db.QueryExecutionHistory(ctx, bob, nil, types.PageRequest{})
		require.NoError(t, err)
		require.Len(t, p.Items, 1)
		assert.Equal(t, "bob-run", p.Items[0].ScheduleName)
	})

	t.Run("AuditEvents", func(t *testing.T) {
		base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
		var b Batch
		b.AddAudit(types.AuditEvent{UserID: alice, ScheduleName: "a", Action: types.AuditCreated, Timestamp: base, Details: map[string]any{"info": "New schedule period created."}})
		b.AddAudit(types.AuditEvent{UserID: alice, ScheduleName: "a", Action: types.AuditWeatherUpdate, Timestamp: base.Add(time.Hour)})
		b.AddAudit(types.AuditEvent{UserID: alice, ScheduleName: "a", Action: types.AuditDeleted, Timestamp: base.Add(2 * time.Hour)})
		require.NoError(t, db.Commit(ctx, b))

		p, err := db.QueryAuditEvents(ctx, alice, nil, types.PageRequest{})
		require.NoError(t, err)
		require.Len(t, p.Items, 3)
		assert.Equal(t, types.AuditDeleted, p.Items[0].Action)
		assert.Equal(t, types.AuditCreated, p.Items[2].Action)
		assert.Equal(t, "New schedule period created.", p.Items[2].Details["info"])

		p, err = db.QueryAuditEvents(ctx, alice, []types.AuditAction{types.AuditCreated, types.AuditDeleted}, types.PageRequest{})
		require.NoError(t, err)
		require.Len(t, p.Items, 2)
		assert.False(t, p.HasMore)

		p, err = db.QueryAuditEvents(ctx, bob, nil, types.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.NotNil(t, p.Items)
	})

	t.Run("EmptyCommit", func(t *testing.T) {
		require.NoError(t, db.Commit(ctx, Batch{}))
	})
}
