package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/peakshift/peakshift/pkg/types"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// Database defines the interface for persisting schedules, users and the
// append-only history and audit logs.
type Database interface {
	// Schedules
	ListScheduleEvents(ctx context.Context, userID string) ([]types.ScheduleEvent, error)
	ListEnabledScheduleEvents(ctx context.Context) ([]types.ScheduleEvent, error)
	GetScheduleGroup(ctx context.Context, groupID string) ([]types.ScheduleEvent, error)

	// Users
	ListUsers(ctx context.Context) ([]types.User, error)
	GetUser(ctx context.Context, userID string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) error

	// History
	QueryExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.ExecutionHistory], error)
	QueryAuditEvents(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.AuditEvent], error)

	// Commit applies every write in b atomically. Either all of them become
	// visible or none do.
	Commit(ctx context.Context, b Batch) error

	// Lifecycle
	Close() error
}

// Batch is one unit of work.
type Batch struct {
	PutEvents    []types.ScheduleEvent
	DeleteEvents []types.ScheduleEvent
	History      []types.ExecutionHistory
	Audit        []types.AuditEvent
	Users        []types.User
}

// Empty reports whether the batch has no writes.
func (b *Batch) Empty() bool {
	return len(b.PutEvents) == 0 && len(b.DeleteEvents) == 0 && len(b.History) == 0 && len(b.Audit) == 0 && len(b.Users) == 0
}

// PutEvent inserts or replaces events.
func (b *Batch) PutEvent(events ...types.ScheduleEvent) {
	b.PutEvents = append(b.PutEvents, events...)
}

// DeleteEvent removes events.
func (b *Batch) DeleteEvent(events ...types.ScheduleEvent) {
	b.DeleteEvents = append(b.DeleteEvents, events...)
}

// AddHistory appends a history row, assigning an id if it has none.
func (b *Batch) AddHistory(h types.ExecutionHistory) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	b.History = append(b.History, h)
}

// AddAudit appends an audit row, assigning an id if it has none.
func (b *Batch) AddAudit(a types.AuditEvent) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	b.Audit = append(b.Audit, a)
}

// PutUser replaces the stored user.
func (b *Batch) PutUser(u types.User) {
	b.Users = append(b.Users, u)
}

func statusStrings(statuses []types.ExecutionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func actionStrings(actions []types.AuditAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

// trimPage turns size+1 fetched rows into a page.
func trimPage[T any](items []T, page types.PageRequest) types.Page[T] {
	p := types.Page[T]{Page: page.Page, Size: page.Size, Items: items}
	if len(items) > page.Size {
		p.Items = items[:page.Size]
		p.HasMore = true
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	return p
}
