// Package audit is the append-only sink for execution history and audit
// events. Rows are committed with the rest of a unit of work and then
// streamed to downstream consumers.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/types"
)

// Sink commits units of work and answers paginated history queries.
type Sink struct {
	db  storage.Database
	pub Publisher
}

// NewSink returns a sink writing to db and streaming committed rows to pub.
// A nil pub disables streaming.
func NewSink(db storage.Database, pub Publisher) *Sink {
	if pub == nil {
		pub = Discard()
	}
	return &Sink{db: db, pub: pub}
}

// Commit applies b atomically. Once committed, its history and audit rows are
// published. A publish failure is logged but does not fail the commit since
// the rows are already durable.
func (s *Sink) Commit(ctx context.Context, b storage.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := s.db.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	records := make([]Record, 0, len(b.History)+len(b.Audit))
	for _, h := range b.History {
		records = append(records, Record{Kind: KindHistory, UserID: h.UserID, Payload: h})
	}
	for _, a := range b.Audit {
		records = append(records, Record{Kind: KindAudit, UserID: a.UserID, Payload: a})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.pub.Publish(ctx, records...); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish committed records",
			slog.Int("records", len(records)),
			slog.Any("error", err),
		)
	}
	return nil
}

// ExecutionHistory returns a page of the user's job outcomes, newest first,
// optionally filtered by status.
func (s *Sink) ExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.HistoryEntry], error) {
	page = page.Normalize()
	res, err := s.db.QueryExecutionHistory(ctx, userID, statuses, page)
	if err != nil {
		return types.Page[types.HistoryEntry]{}, fmt.Errorf("failed to query execution history: %w", err)
	}
	out := types.Page[types.HistoryEntry]{
		Page:    res.Page,
		Size:    res.Size,
		HasMore: res.HasMore,
		Items:   make([]types.HistoryEntry, 0, len(res.Items)),
	}
	for _, h := range res.Items {
		out.Items = append(out.Items, types.HistoryEntry{
			Type:         h.JobType.DisplayName(),
			Timestamp:    h.ExecutionTime,
			ScheduleName: h.ScheduleName,
			Details:      h.Details,
			Status:       h.Status,
		})
	}
	return out, nil
}

// AuditTrail returns a page of the user's configuration changes, newest
// first, optionally filtered by action.
func (s *Sink) AuditTrail(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.HistoryEntry], error) {
	page = page.Normalize()
	res, err := s.db.QueryAuditEvents(ctx, userID, actions, page)
	if err != nil {
		return types.Page[types.HistoryEntry]{}, fmt.Errorf("failed to query audit events: %w", err)
	}
	out := types.Page[types.HistoryEntry]{
		Page:    res.Page,
		Size:    res.Size,
		HasMore: res.HasMore,
		Items:   make([]types.HistoryEntry, 0, len(res.Items)),
	}
	for _, a := range res.Items {
		out.Items = append(out.Items, types.HistoryEntry{
			Type:         actionLabel(a.Action),
			Timestamp:    a.Timestamp,
			ScheduleName: a.ScheduleName,
			Details:      a.Details,
		})
	}
	return out, nil
}

func actionLabel(a types.AuditAction) string {
	switch a {
	case types.AuditCreated:
		return "Created"
	case types.AuditUpdated:
		return "Updated"
	case types.AuditDeleted:
		return "Deleted"
	case types.AuditWeatherUpdate:
		return "Weather Update"
	default:
		return string(a)
	}
}
