package schedule

import (
	"fmt"

	"github.com/peakshift/peakshift/pkg/types"
)

const (
	infoCreated  = "New schedule period created."
	infoImported = "New schedule period imported."
	infoDeleted  = "Schedule period was deleted."
	infoNoChange = "Schedule updated, but no values were changed."
)

func windowDetail(t types.TimeOfDay, percent int) string {
	return fmt.Sprintf("%s @%d%%", t, percent)
}

func createdDetails(info string, req types.ScheduleRequest) map[string]any {
	return map[string]any{
		"info":     info,
		"on-peak":  windowDetail(*req.StartTime, req.OnPeakBackupPercent),
		"off-peak": windowDetail(*req.EndTime, req.OffPeakBackupPercent),
		"days":     req.Days.String(),
	}
}

func deletedDetails(name string) map[string]any {
	return map[string]any{
		"info": infoDeleted,
		"name": name,
	}
}

func statusLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func enabledDetails(enabled bool) map[string]any {
	return map[string]any{
		"changes": []types.AuditChange{{
			Field: "Status",
			From:  statusLabel(!enabled),
			To:    statusLabel(enabled),
		}},
	}
}

// diff lists the fields a request changes on the permanent pair.
func diff(discharge, charge types.ScheduleEvent, req types.ScheduleRequest) []types.AuditChange {
	var changes []types.AuditChange
	add := func(field, from, to string) {
		if from != to {
			changes = append(changes, types.AuditChange{Field: field, From: from, To: to})
		}
	}
	percent := func(v int) string { return fmt.Sprintf("%d%%", v) }

	add("Name", discharge.Name, req.Name)
	add("Description", discharge.Description, req.Description)
	add("Energy Site ID", discharge.SiteID, req.SiteID)
	add("Days", discharge.Days.String(), req.Days.String())
	add("On-Peak Start Time", discharge.ScheduledTime.String(), req.StartTime.String())
	add("Off-Peak Start Time", charge.ScheduledTime.String(), req.EndTime.String())
	add("On-Peak Backup", percent(discharge.BackupPercent), percent(req.OnPeakBackupPercent))
	add("Off-Peak Backup", percent(charge.BackupPercent), percent(req.OffPeakBackupPercent))
	add("Correction Mode", string(discharge.ReconciliationMode.OrDefault()), string(req.ReconciliationMode.OrDefault()))
	return changes
}

func updatedDetails(changes []types.AuditChange) map[string]any {
	if len(changes) == 0 {
		return map[string]any{"info": infoNoChange}
	}
	return map[string]any{"changes": changes}
}
