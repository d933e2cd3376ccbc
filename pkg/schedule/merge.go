package schedule

import (
	"sort"

	"github.com/peakshift/peakshift/pkg/types"
)

// Group splits events by group id, keeping the order in which groups are
// first seen.
func Group(events []types.ScheduleEvent) [][]types.ScheduleEvent {
	idx := make(map[string]int)
	var groups [][]types.ScheduleEvent
	for _, e := range events {
		i, ok := idx[e.GroupID]
		if !ok {
			i = len(groups)
			idx[e.GroupID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

// Permanent returns the permanent event of kind in group.
func Permanent(group []types.ScheduleEvent, kind types.EventKind) (types.ScheduleEvent, bool) {
	for _, e := range group {
		if e.Kind == kind && !e.IsTemporary() {
			return e, true
		}
	}
	return types.ScheduleEvent{}, false
}

// Temporary returns the temporary events in group.
func Temporary(group []types.ScheduleEvent) []types.ScheduleEvent {
	var out []types.ScheduleEvent
	for _, e := range group {
		if e.IsTemporary() {
			out = append(out, e)
		}
	}
	return out
}

// effective returns the event supplying kind's backup percent: an enabled
// temporary override when there is one, else the permanent event.
func effective(group []types.ScheduleEvent, kind types.EventKind, permanent types.ScheduleEvent) types.ScheduleEvent {
	for _, e := range group {
		if e.Kind == kind && e.IsTemporary() && e.Enabled {
			return e
		}
	}
	return permanent
}

// Merge turns the events of one group into a single period. It returns false
// when the group lacks either permanent half, which only happens transiently.
func Merge(group []types.ScheduleEvent) (types.SchedulePeriod, bool) {
	discharge, ok := Permanent(group, types.EventKindBeginDischarge)
	if !ok {
		return types.SchedulePeriod{}, false
	}
	charge, ok := Permanent(group, types.EventKindBeginCharge)
	if !ok {
		return types.SchedulePeriod{}, false
	}
	onPeak := effective(group, types.EventKindBeginDischarge, discharge)
	offPeak := effective(group, types.EventKindBeginCharge, charge)

	return types.SchedulePeriod{
		GroupID:     discharge.GroupID,
		UserID:      discharge.UserID,
		SiteID:      discharge.SiteID,
		Name:        discharge.Name,
		Description: discharge.Description,

		Days:      types.NewWeekdays(discharge.Days...),
		Timezone:  discharge.Timezone,
		StartTime: discharge.ScheduledTime,
		EndTime:   charge.ScheduledTime,

		OnPeakBackupPercent:           onPeak.BackupPercent,
		OffPeakBackupPercent:          offPeak.BackupPercent,
		PermanentOnPeakBackupPercent:  discharge.BackupPercent,
		PermanentOffPeakBackupPercent: charge.BackupPercent,
		OverriddenByWeather:           onPeak.IsTemporary() || offPeak.IsTemporary(),

		Enabled:              discharge.Enabled,
		ReconciliationMode:   discharge.ReconciliationMode.OrDefault(),
		ScheduleKind:         discharge.ScheduleKind.OrDefault(),
		WeatherScalingFactor: discharge.WeatherScalingFactor,
		LastEvaluationNote:   discharge.LastEvaluationNote,

		CreatedAt: discharge.CreatedAt,
		UpdatedAt: discharge.UpdatedAt,
	}, true
}

// MergeAll merges every valid group, newest first.
func MergeAll(events []types.ScheduleEvent) []types.SchedulePeriod {
	var out []types.SchedulePeriod
	for _, g := range Group(events) {
		if p, ok := Merge(g); ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
