package types

import "time"

// ExecutionStatus is the outcome of a job acting on a schedule.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
)

// JobType names the job that produced a history row.
type JobType string

const (
	JobRegularTrigger           JobType = "REGULAR"
	JobContinuousReconciliation JobType = "RECONCILIATION_CONTINUOUS"
	JobStartupReconciliation    JobType = "RECONCILIATION_STARTUP"
	JobWeatherEvaluation        JobType = "WEATHER_EVALUATION"
)

// DisplayName is the user-facing label for the job type.
func (j JobType) DisplayName() string {
	switch j {
	case JobRegularTrigger:
		return "Scheduled Run"
	case JobContinuousReconciliation:
		return "Continuous Correction"
	case JobStartupReconciliation:
		return "Startup Correction"
	case JobWeatherEvaluation:
		return "Weather Evaluation"
	default:
		return "System Event"
	}
}

// ExecutionHistory records one job outcome. Rows are append-only.
type ExecutionHistory struct {
	ID                 string          `json:"id"`
	ScheduleID         string          `json:"scheduleId"`
	GroupID            string          `json:"scheduleGroupId"`
	UserID             string          `json:"userId"`
	ScheduleName       string          `json:"scheduleName"`
	ExecutionTime      time.Time       `json:"executionTime"`
	Status             ExecutionStatus `json:"status"`
	JobType            JobType         `json:"executionType"`
	Details            string          `json:"details"`
	TriggerExpression  string          `json:"cronExpression,omitempty"`
	TriggerDescription string          `json:"cronDescription,omitempty"`
}

// AuditAction is the kind of configuration change recorded.
type AuditAction string

const (
	AuditCreated       AuditAction = "CREATED"
	AuditUpdated       AuditAction = "UPDATED"
	AuditDeleted       AuditAction = "DELETED"
	AuditWeatherUpdate AuditAction = "WEATHER_UPDATE"
)

// AuditEvent records one configuration change. Rows are append-only.
type AuditEvent struct {
	ID           string         `json:"id"`
	GroupID      string         `json:"scheduleGroupId"`
	UserID       string         `json:"userId"`
	ScheduleName string         `json:"scheduleName"`
	Action       AuditAction    `json:"action"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details"`
}

// AuditChange is one entry in an audit "changes" list.
type AuditChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest selects a zero-indexed page of results, newest first.
type PageRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Page is one page of results.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Size    int  `json:"size"`
	HasMore bool `json:"hasMore"`
}

// HistoryEntry is a history or audit row prepared for reporting.
type HistoryEntry struct {
	Type         string          `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	ScheduleName string          `json:"scheduleName"`
	Details      any             `json:"details"`
	Status       ExecutionStatus `json:"status,omitempty"`
}
