// Package schedule owns schedule periods: the permanent pair of events that
// defines a period's on-peak window, plus any temporary override layered on
// top of it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/trigger"
	"github.com/peakshift/peakshift/pkg/types"
)

var (
	ErrNotFound     = errors.New("schedule period not found")
	ErrAccessDenied = errors.New("schedule period belongs to another user")
)

// SiteLister resolves the sites a user can schedule. ess.Device satisfies it.
type SiteLister interface {
	ListSites(ctx context.Context, userID string) ([]types.EnergySite, error)
}

// Store implements group-level operations over schedule events. Every
// mutation is committed together with its audit event.
type Store struct {
	db    storage.Database
	sink  *audit.Sink
	sites SiteLister
	clock clockwork.Clock
}

// NewStore returns a Store.
func NewStore(db storage.Database, sink *audit.Sink, sites SiteLister, clock clockwork.Clock) *Store {
	return &Store{db: db, sink: sink, sites: sites, clock: clock}
}

// newEvent builds one half of a permanent pair.
func (s *Store) newEvent(userID, groupID string, req types.ScheduleRequest, kind types.EventKind) types.ScheduleEvent {
	now := s.clock.Now()
	e := types.ScheduleEvent{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
	}
	applyRequest(&e, req, now)
	return e
}

// applyRequest copies the request onto a permanent event and recomputes its
// trigger expression.
func applyRequest(e *types.ScheduleEvent, req types.ScheduleRequest, now time.Time) {
	e.SiteID = req.SiteID
	e.Name = req.Name
	e.Description = req.Description
	e.Days = types.NewWeekdays(req.Days...)
	e.Timezone = req.Timezone
	e.ReconciliationMode = req.ReconciliationMode.OrDefault()
	e.ScheduleKind = req.ScheduleKind.OrDefault()
	e.WeatherScalingFactor = nil
	if req.WeatherScalingFactor != nil {
		v := *req.WeatherScalingFactor
		e.WeatherScalingFactor = &v
	}
	if req.Enabled != nil {
		e.Enabled = *req.Enabled
	}
	switch e.Kind {
	case types.EventKindBeginDischarge:
		e.ScheduledTime = *req.StartTime
		e.BackupPercent = req.OnPeakBackupPercent
	case types.EventKindBeginCharge:
		e.ScheduledTime = *req.EndTime
		e.BackupPercent = req.OffPeakBackupPercent
	}
	e.TriggerExpression = trigger.Recurring(e.Days, e.ScheduledTime)
	e.UpdatedAt = now
}

// addPeriod queues the permanent pair and its Created audit event.
func (s *Store) addPeriod(b *storage.Batch, userID string, req types.ScheduleRequest, info string) []types.ScheduleEvent {
	groupID := uuid.NewString()
	pair := []types.ScheduleEvent{
		s.newEvent(userID, groupID, req, types.EventKindBeginDischarge),
		s.newEvent(userID, groupID, req, types.EventKindBeginCharge),
	}
	b.PutEvent(pair...)
	b.AddAudit(types.AuditEvent{
		GroupID:      groupID,
		UserID:       userID,
		ScheduleName: req.Name,
		Action:       types.AuditCreated,
		Timestamp:    s.clock.Now(),
		Details:      createdDetails(info, req),
	})
	return pair
}

// CreatePeriod creates a period with a fresh group id.
func (s *Store) CreatePeriod(ctx context.Context, userID string, req types.ScheduleRequest) (types.SchedulePeriod, error) {
	if err := req.Validate(); err != nil {
		return types.SchedulePeriod{}, err
	}
	var b storage.Batch
	pair := s.addPeriod(&b, userID, req, infoCreated)
	if err := s.sink.Commit(ctx, b); err != nil {
		return types.SchedulePeriod{}, fmt.Errorf("failed to create schedule period: %w", err)
	}
	p, _ := Merge(pair)
	log.Ctx(ctx).InfoContext(ctx, "created schedule period", slog.String("userID", userID), slog.String("groupID", p.GroupID))
	return p, nil
}

// loadGroup returns the group's events after checking that userID owns them.
func (s *Store) loadGroup(ctx context.Context, userID, groupID string) ([]types.ScheduleEvent, error) {
	group, err := s.db.GetScheduleGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule group %s: %w", groupID, err)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("%w: no schedule found for group %s", ErrNotFound, groupID)
	}
	if group[0].UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, groupID)
	}
	return group, nil
}

// permanentPair returns both permanent halves or ErrNotFound when the group
// is malformed.
func permanentPair(groupID string, group []types.ScheduleEvent) (types.ScheduleEvent, types.ScheduleEvent, error) {
	discharge, ok := Permanent(group, types.EventKindBeginDischarge)
	if !ok {
		return types.ScheduleEvent{}, types.ScheduleEvent{}, fmt.Errorf("%w: group %s is missing a permanent %s event", ErrNotFound, groupID, types.EventKindBeginDischarge)
	}
	charge, ok := Permanent(group, types.EventKindBeginCharge)
	if !ok {
		return types.ScheduleEvent{}, types.ScheduleEvent{}, fmt.Errorf("%w: group %s is missing a permanent %s event", ErrNotFound, groupID, types.EventKindBeginCharge)
	}
	return discharge, charge, nil
}

// UpdatePeriod rewrites the permanent pair. Active temporary overrides are
// left alone.
func (s *Store) UpdatePeriod(ctx context.Context, userID, groupID string, req types.ScheduleRequest) (types.SchedulePeriod, error) {
	if err := req.Validate(); err != nil {
		return types.SchedulePeriod{}, err
	}
	group, err := s.loadGroup(ctx, userID, groupID)
	if err != nil {
		return types.SchedulePeriod{}, err
	}
	discharge, charge, err := permanentPair(groupID, group)
	if err != nil {
		return types.SchedulePeriod{}, err
	}

	details := updatedDetails(diff(discharge, charge, req))
	now := s.clock.Now()
	applyRequest(&discharge, req, now)
	applyRequest(&charge, req, now)

	var b storage.Batch
	b.PutEvent(discharge, charge)
	b.AddAudit(types.AuditEvent{
		GroupID:      groupID,
		UserID:       userID,
		ScheduleName: req.Name,
		Action:       types.AuditUpdated,
		Timestamp:    now,
		Details:      details,
	})
	if err := s.sink.Commit(ctx, b); err != nil {
		return types.SchedulePeriod{}, fmt.Errorf("failed to update schedule period %s: %w", groupID, err)
	}

	// respond with what was committed, not with what we think we wrote
	group, err = s.db.GetScheduleGroup(ctx, groupID)
	if err != nil {
		return types.SchedulePeriod{}, fmt.Errorf("failed to reload schedule group %s: %w", groupID, err)
	}
	p, ok := Merge(group)
	if !ok {
		return types.SchedulePeriod{}, fmt.Errorf("%w: group %s vanished during update", ErrNotFound, groupID)
	}
	log.Ctx(ctx).InfoContext(ctx, "updated schedule period", slog.String("userID", userID), slog.String("groupID", groupID))
	return p, nil
}

// DeletePeriod removes every event of the group.
func (s *Store) DeletePeriod(ctx context.Context, userID, groupID string) error {
	group, err := s.loadGroup(ctx, userID, groupID)
	if err != nil {
		return err
	}
	name := group[0].Name

	var b storage.Batch
	b.DeleteEvent(group...)
	b.AddAudit(types.AuditEvent{
		GroupID:      groupID,
		UserID:       userID,
		ScheduleName: name,
		Action:       types.AuditDeleted,
		Timestamp:    s.clock.Now(),
		Details:      deletedDetails(name),
	})
	if err := s.sink.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to delete schedule period %s: %w", groupID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "deleted schedule period", slog.String("userID", userID), slog.String("groupID", groupID))
	return nil
}

// SetEnabled enables or disables every event of the group.
func (s *Store) SetEnabled(ctx context.Context, userID, groupID string, enabled bool) error {
	group, err := s.loadGroup(ctx, userID, groupID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	var b storage.Batch
	for _, e := range group {
		e.Enabled = enabled
		e.UpdatedAt = now
		b.PutEvent(e)
	}
	b.AddAudit(types.AuditEvent{
		GroupID:      groupID,
		UserID:       userID,
		ScheduleName: group[0].Name,
		Action:       types.AuditUpdated,
		Timestamp:    now,
		Details:      enabledDetails(enabled),
	})
	if err := s.sink.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to set schedule period %s enabled=%t: %w", groupID, enabled, err)
	}
	return nil
}

// ListByUser returns the user's valid periods, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]types.SchedulePeriod, error) {
	events, err := s.db.ListScheduleEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule periods: %w", err)
	}
	return MergeAll(events), nil
}

// GetByGroupID returns the period if it exists and belongs to userID.
func (s *Store) GetByGroupID(ctx context.Context, userID, groupID string) (types.SchedulePeriod, error) {
	group, err := s.db.GetScheduleGroup(ctx, groupID)
	if err != nil {
		return types.SchedulePeriod{}, fmt.Errorf("failed to load schedule group %s: %w", groupID, err)
	}
	if len(group) == 0 || group[0].UserID != userID {
		return types.SchedulePeriod{}, fmt.Errorf("%w: %s", ErrNotFound, groupID)
	}
	p, ok := Merge(group)
	if !ok {
		return types.SchedulePeriod{}, fmt.Errorf("%w: group %s is malformed", ErrNotFound, groupID)
	}
	return p, nil
}
