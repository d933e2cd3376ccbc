package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinBackupPercent     = 5
	MaxBackupPercent     = 80
	MaxNameLength        = 100
	MaxDescriptionLength = 255
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists every problem found with a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ScheduleRequest is the user-submitted configuration of a schedule period.
// It is also the export/import format, in which case SiteID is omitted.
type ScheduleRequest struct {
	SiteID      string `json:"energySiteId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Days      Weekdays   `json:"daysOfWeek"`
	StartTime *TimeOfDay `json:"startTime"`
	EndTime   *TimeOfDay `json:"endTime"`
	Timezone  string     `json:"timeZone"`

	OnPeakBackupPercent  int `json:"onPeakBackupPercent"`
	OffPeakBackupPercent int `json:"offPeakBackupPercent"`

	ReconciliationMode   ReconciliationMode `json:"reconciliationMode,omitempty"`
	ScheduleKind         ScheduleKind       `json:"scheduleType,omitempty"`
	WeatherScalingFactor *int               `json:"weatherScalingFactor,omitempty"`
	Enabled              *bool              `json:"enabled"`
}

// Validate checks the request and reports all problems at once.
func (r ScheduleRequest) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(r.SiteID) == "" {
		add("energy site must be selected")
	}
	if strings.TrimSpace(r.Name) == "" {
		add("schedule name cannot be blank")
	} else if len(r.Name) > MaxNameLength {
		add("schedule name cannot exceed %d characters", MaxNameLength)
	}
	if len(r.Description) > MaxDescriptionLength {
		add("description cannot exceed %d characters", MaxDescriptionLength)
	}
	if len(r.Days) == 0 {
		add("at least one day of the week must be selected")
	}
	if r.StartTime == nil {
		add("start time is required")
	} else if !r.StartTime.Valid() {
		add("start time is out of range")
	}
	if r.EndTime == nil {
		add("end time is required")
	} else if !r.EndTime.Valid() {
		add("end time is out of range")
	}
	if r.StartTime != nil && r.EndTime != nil && *r.StartTime == *r.EndTime {
		add("start and end time must differ")
	}
	if strings.TrimSpace(r.Timezone) == "" {
		add("time zone is required")
	} else if _, err := time.LoadLocation(r.Timezone); err != nil {
		add("time zone %q is not recognized", r.Timezone)
	}
	for _, p := range []struct {
		name  string
		value int
	}{
		{"on-peak", r.OnPeakBackupPercent},
		{"off-peak", r.OffPeakBackupPercent},
	} {
		if p.value < MinBackupPercent || p.value > MaxBackupPercent {
			add("%s backup percentage must be between %d%% and %d%%", p.name, MinBackupPercent, MaxBackupPercent)
		}
	}
	if r.ReconciliationMode != "" && !r.ReconciliationMode.Valid() {
		add("unknown reconciliation mode %q", r.ReconciliationMode)
	}
	if r.ScheduleKind != "" && !r.ScheduleKind.Valid() {
		add("unknown schedule type %q", r.ScheduleKind)
	}
	if r.WeatherScalingFactor != nil && (*r.WeatherScalingFactor < 0 || *r.WeatherScalingFactor > 100) {
		add("weather scaling factor must be between 0 and 100")
	}
	if r.Enabled == nil {
		add("enabled must be set")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// SchedulePeriod is the merged view of a schedule group.
type SchedulePeriod struct {
	GroupID     string `json:"scheduleGroupId"`
	UserID      string `json:"-"`
	SiteID      string `json:"energySiteId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Days      Weekdays  `json:"daysOfWeek"`
	Timezone  string    `json:"timeZone"`
	StartTime TimeOfDay `json:"startTime"`
	EndTime   TimeOfDay `json:"endTime"`

	// effective percentages, possibly supplied by a temporary override
	OnPeakBackupPercent  int `json:"onPeakBackupPercent"`
	OffPeakBackupPercent int `json:"offPeakBackupPercent"`

	PermanentOnPeakBackupPercent  int  `json:"permanentOnPeakBackupPercent"`
	PermanentOffPeakBackupPercent int  `json:"permanentOffPeakBackupPercent"`
	OverriddenByWeather           bool `json:"overriddenByWeather"`

	Enabled              bool               `json:"enabled"`
	ReconciliationMode   ReconciliationMode `json:"reconciliationMode"`
	ScheduleKind         ScheduleKind       `json:"scheduleType"`
	WeatherScalingFactor *int               `json:"weatherScalingFactor,omitempty"`
	LastEvaluationNote   string             `json:"lastEvaluationDetails,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Location loads the period's timezone.
func (p SchedulePeriod) Location() (*time.Location, error) {
	return loadLocation(p.Timezone)
}

// ActiveOn reports whether the period runs on now's weekday in its own timezone.
func (p SchedulePeriod) ActiveOn(now time.Time) (bool, error) {
	loc, err := p.Location()
	if err != nil {
		return false, err
	}
	return p.Days.Contains(now.In(loc).Weekday()), nil
}

// OnPeakAt reports whether now falls in the period's on-peak window in its own timezone.
func (p SchedulePeriod) OnPeakAt(now time.Time) (bool, error) {
	loc, err := p.Location()
	if err != nil {
		return false, err
	}
	return InWindow(TimeOfDayOf(now.In(loc)), p.StartTime, p.EndTime), nil
}

// ToRequest returns the portable configuration of the period. User and site
// identifiers are left out.
func (p SchedulePeriod) ToRequest() ScheduleRequest {
	start, end := p.StartTime, p.EndTime
	enabled := p.Enabled
	var scaling *int
	if p.WeatherScalingFactor != nil {
		v := *p.WeatherScalingFactor
		scaling = &v
	}
	return ScheduleRequest{
		Name:                 p.Name,
		Description:          p.Description,
		Days:                 NewWeekdays(p.Days...),
		StartTime:            &start,
		EndTime:              &end,
		Timezone:             p.Timezone,
		OnPeakBackupPercent:  p.PermanentOnPeakBackupPercent,
		OffPeakBackupPercent: p.PermanentOffPeakBackupPercent,
		ReconciliationMode:   p.ReconciliationMode,
		ScheduleKind:         p.ScheduleKind,
		WeatherScalingFactor: scaling,
		Enabled:              &enabled,
	}
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported                int      `json:"imported"`
	SkippedDuplicateNames   []string `json:"skippedDuplicateNames"`
	SkippedDuplicateContent []string `json:"skippedDuplicateContent"`
}

func (r ImportResult) SkippedByName() int    { return len(r.SkippedDuplicateNames) }
func (r ImportResult) SkippedByContent() int { return len(r.SkippedDuplicateContent) }
