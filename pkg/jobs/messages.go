package jobs

import (
	"fmt"

	"github.com/peakshift/peakshift/pkg/types"
)

func fmtSkip(direction string, actual, target int, w Window) string {
	return fmt.Sprintf("Skipping reconciliation: User has manually set backup reserve %s (%d%%) than scheduled (%d%%) during %s.", direction, actual, target, w)
}

func correctedDetails(p types.SchedulePeriod, w Window, actual, target int) string {
	switch {
	case p.ScheduleKind == types.ScheduleKindWeatherAware:
		return fmt.Sprintf("Automatic correction for weather-aware schedule '%s'. Backup reserve was at %d%% and has been corrected to the weather-adjusted target of %d%%.", p.Name, actual, target)
	case w == OnPeak:
		return fmt.Sprintf("Automatic correction for schedule '%s' during its on-peak window (%s - %s). The backup reserve was at %d%% and has been corrected to the scheduled %d%%.", p.Name, p.StartTime.Kitchen(), p.EndTime.Kitchen(), actual, target)
	default:
		return fmt.Sprintf("Automatic correction during an off-peak period. The backup reserve was at %d%% and has been corrected to the scheduled %d%% (based on schedule '%s').", actual, target, p.Name)
	}
}

func correctionRejectedDetails(p types.SchedulePeriod, target int) string {
	return fmt.Sprintf("Automatic correction failed for schedule '%s'. The API call to set backup reserve to %d%% was not accepted by the device.", p.Name, target)
}

func correctionErrorDetails(p types.SchedulePeriod, target int, err error) string {
	return fmt.Sprintf("Automatic correction failed for schedule '%s'. Setting backup reserve to %d%% failed: %v", p.Name, target, err)
}

func alreadyCorrectDetails(p types.SchedulePeriod, w Window, target int) string {
	if p.ScheduleKind == types.ScheduleKindWeatherAware {
		return fmt.Sprintf("Automatic check for weather-aware schedule '%s'. The backup reserve of %d%% already matches the weather-adjusted target. No action was needed.", p.Name, target)
	}
	return fmt.Sprintf("Automatic check during an %s period for schedule '%s'. The backup reserve is already correctly set to %d%%. No action was needed.", w, p.Name, target)
}

func shortfallReason(shortfall, base, target int, reason string) string {
	return fmt.Sprintf("Solar shortfall of %d%% detected. Adjusting charge target from %d%% to %d%%. Forecast reason: %s", shortfall, base, target, reason)
}

func goodWeatherReason(reason string) string {
	return fmt.Sprintf("Good solar potential detected. Reason: %s", reason)
}

func alreadyForcedReason(current, target int, reason string) string {
	return fmt.Sprintf("Forced charge already active at %d%%. New, lower target of %d%% ignored. Forecast reason: %s", current, target, reason)
}
