package types

import (
	"fmt"
	"time"
)

// EventKind identifies which edge of the on-peak window an event marks.
type EventKind string

const (
	// EventKindBeginDischarge starts the on-peak window.
	EventKindBeginDischarge EventKind = "BEGIN_DISCHARGE"
	// EventKindBeginCharge ends the on-peak window and starts off-peak.
	EventKindBeginCharge EventKind = "BEGIN_CHARGE"
)

// Description is the phrase used in execution history.
func (k EventKind) Description() string {
	switch k {
	case EventKindBeginDischarge:
		return "start discharging (on-peak)"
	case EventKindBeginCharge:
		return "start charging (off-peak)"
	default:
		return string(k)
	}
}

// ReconciliationMode controls which reconciliation passes consider a schedule.
type ReconciliationMode string

const (
	ReconciliationContinuous  ReconciliationMode = "CONTINUOUS"
	ReconciliationStartupOnly ReconciliationMode = "STARTUP_ONLY"
)

// OrDefault returns Continuous when the mode is unset.
func (m ReconciliationMode) OrDefault() ReconciliationMode {
	if m == "" {
		return ReconciliationContinuous
	}
	return m
}

func (m ReconciliationMode) Valid() bool {
	switch m {
	case ReconciliationContinuous, ReconciliationStartupOnly:
		return true
	default:
		return false
	}
}

// ScheduleKind distinguishes plain schedules from ones the weather planner may override.
type ScheduleKind string

const (
	ScheduleKindBasic        ScheduleKind = "BASIC"
	ScheduleKindWeatherAware ScheduleKind = "WEATHER_AWARE"
)

// OrDefault returns Basic when the kind is unset.
func (k ScheduleKind) OrDefault() ScheduleKind {
	if k == "" {
		return ScheduleKindBasic
	}
	return k
}

func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleKindBasic, ScheduleKindWeatherAware:
		return true
	default:
		return false
	}
}

// DefaultWeatherScalingFactor applies when a weather-aware schedule has no factor set.
const DefaultWeatherScalingFactor = 100

// Temporary marks an event as a one-shot override that expires at ExpiresAt.
type Temporary struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// ScheduleEvent is one half of a schedule period. A nil Temporary means the
// event is permanent.
type ScheduleEvent struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	SiteID  string `json:"siteId"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Days              Weekdays  `json:"daysOfWeek"`
	Timezone          string    `json:"timezone"`
	ScheduledTime     TimeOfDay `json:"scheduledTime"`
	TriggerExpression string    `json:"triggerExpression"`

	Kind          EventKind `json:"eventKind"`
	BackupPercent int       `json:"backupPercent"`
	Enabled       bool      `json:"enabled"`

	Temporary *Temporary `json:"temporary,omitempty"`

	ReconciliationMode   ReconciliationMode `json:"reconciliationMode"`
	ScheduleKind         ScheduleKind       `json:"scheduleKind"`
	WeatherScalingFactor *int               `json:"weatherScalingFactor,omitempty"`

	LastEvaluationNote string `json:"lastEvaluationNote,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTemporary reports whether the event is a one-shot override.
func (e ScheduleEvent) IsTemporary() bool {
	return e.Temporary != nil
}

// Expired reports whether a temporary event is past its expiry. Permanent
// events never expire.
func (e ScheduleEvent) Expired(now time.Time) bool {
	return e.Temporary != nil && e.Temporary.ExpiresAt.Before(now)
}

// Location loads the event's timezone.
func (e ScheduleEvent) Location() (*time.Location, error) {
	return loadLocation(e.Timezone)
}

// ScalingFactor returns the weather scaling factor, defaulting when unset.
func (e ScheduleEvent) ScalingFactor() int {
	if e.WeatherScalingFactor == nil {
		return DefaultWeatherScalingFactor
	}
	return *e.WeatherScalingFactor
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("missing timezone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
