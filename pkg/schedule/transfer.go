package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/types"
)

// MaxImport is the largest batch ImportForUser accepts.
const MaxImport = 100

// ExportForUser returns the configuration of every period. User and site
// identifiers are left out so that exports are portable.
func (s *Store) ExportForUser(ctx context.Context, userID string) ([]types.ScheduleRequest, error) {
	periods, err := s.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]types.ScheduleRequest, 0, len(periods))
	for _, p := range periods {
		out = append(out, p.ToRequest())
	}
	return out, nil
}

// sameContent compares a request against an existing period field by field.
// An absent reconciliation mode counts as continuous.
func sameContent(req types.ScheduleRequest, p types.SchedulePeriod) bool {
	return req.Days.Equal(p.Days) &&
		req.StartTime != nil && *req.StartTime == p.StartTime &&
		req.EndTime != nil && *req.EndTime == p.EndTime &&
		req.Timezone == p.Timezone &&
		req.OnPeakBackupPercent == p.PermanentOnPeakBackupPercent &&
		req.OffPeakBackupPercent == p.PermanentOffPeakBackupPercent &&
		req.ReconciliationMode.OrDefault() == p.ReconciliationMode.OrDefault()
}

// ImportForUser creates the periods in items that the user does not already
// have. Items named like an existing period, or identical in content to one,
// are skipped. The remaining items are validated together and either all of
// them are created or none are.
func (s *Store) ImportForUser(ctx context.Context, userID string, items []types.ScheduleRequest) (types.ImportResult, error) {
	res := types.ImportResult{
		SkippedDuplicateNames:   []string{},
		SkippedDuplicateContent: []string{},
	}
	if len(items) == 0 {
		return res, nil
	}
	if len(items) > MaxImport {
		return res, &types.ValidationError{Problems: []string{
			fmt.Sprintf("a maximum of %d schedules can be imported at one time", MaxImport),
		}}
	}

	// the site in the file belongs to whoever exported it
	sites, err := s.sites.ListSites(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("failed to list energy sites: %w", err)
	}
	if len(sites) == 0 {
		return res, &types.ValidationError{Problems: []string{"no schedulable energy sites found for the user"}}
	}
	siteID := sites[0].ID

	existing, err := s.ListByUser(ctx, userID)
	if err != nil {
		return res, err
	}
	names := make(map[string]bool, len(existing))
	for _, p := range existing {
		names[p.Name] = true
	}

	var create []types.ScheduleRequest
	for _, req := range items {
		switch {
		case names[req.Name]:
			res.SkippedDuplicateNames = append(res.SkippedDuplicateNames, req.Name)
		case containsContent(req, existing):
			res.SkippedDuplicateContent = append(res.SkippedDuplicateContent, req.Name)
		default:
			req.SiteID = siteID
			names[req.Name] = true
			create = append(create, req)
		}
	}
	if len(create) == 0 {
		return res, nil
	}

	var problems []string
	for _, req := range create {
		if err := req.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("new schedule %q is invalid: %v", req.Name, err))
		}
	}
	if len(problems) > 0 {
		return res, &types.ValidationError{Problems: problems}
	}

	var b storage.Batch
	for _, req := range create {
		s.addPeriod(&b, userID, req, infoImported)
	}
	if err := s.sink.Commit(ctx, b); err != nil {
		return res, fmt.Errorf("failed to import schedule periods: %w", err)
	}
	res.Imported = len(create)

	log.Ctx(ctx).InfoContext(ctx, "imported schedule periods",
		slog.String("userID", userID),
		slog.Int("imported", res.Imported),
		slog.Int("skippedByName", res.SkippedByName()),
		slog.Int("skippedByContent", res.SkippedByContent()),
	)
	return res, nil
}

func containsContent(req types.ScheduleRequest, existing []types.SchedulePeriod) bool {
	for _, p := range existing {
		if sameContent(req, p) {
			return true
		}
	}
	return false
}
