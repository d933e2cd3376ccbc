package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/schedule"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/types"
)

func main() {
	clock := clockwork.NewRealClock()
	db := storage.Configured()
	device := ess.Configured()

	mode := lflag.String("mode", "demo", "What to do (available: demo, import, export)")
	userID := lflag.String("user", "demo-user", "User to seed, import into or export from")
	email := lflag.String("email", "demo@example.com", "Email of the demo user")
	file := lflag.String("file", "", "JSON file to import from or export to; export defaults to stdout")

	lflag.Configure()

	ctx := log.WithAttrs(context.Background(), slog.String("mode", *mode), slog.String("userID", *userID))
	defer db.Close()

	store := schedule.NewStore(db, audit.NewSink(db, nil), device, clock)

	var err error
	switch *mode {
	case "demo":
		err = seedDemo(ctx, db, store, device, clock, *userID, *email)
	case "import":
		err = importFile(ctx, store, *userID, *file)
	case "export":
		err = exportFile(ctx, store, *userID, *file)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func tod(h, m int) *types.TimeOfDay {
	t := types.NewTimeOfDay(h, m)
	return &t
}

// seedDemo creates the user if needed and a weekday and a weekend period on
// the user's first site.
func seedDemo(ctx context.Context, db storage.Database, store *schedule.Store, device ess.Device, clock clockwork.Clock, userID, email string) error {
	log.Ctx(ctx).InfoContext(ctx, "seeding demo data")

	if _, err := db.GetUser(ctx, userID); errors.Is(err, storage.ErrUserNotFound) {
		lat, lon := 40.7128, -74.0060
		user := types.User{
			ID:    userID,
			Email: email,
			Profile: types.Profile{
				ZipCode:   "10001",
				Latitude:  &lat,
				Longitude: &lon,
			},
			CreatedAt: clock.Now(),
		}
		if err := db.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	sites, err := device.ListSites(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}
	if len(sites) == 0 {
		return errors.New("user has no energy sites")
	}

	enabled := true
	scaling := 70
	periods := []types.ScheduleRequest{
		{
			SiteID:               sites[0].ID,
			Name:                 "Weekday Peak",
			Description:          "Discharge through the evening peak, recharge overnight.",
			Days:                 types.NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
			StartTime:            tod(16, 0),
			EndTime:              tod(21, 0),
			Timezone:             "America/New_York",
			OnPeakBackupPercent:  20,
			OffPeakBackupPercent: 80,
			ScheduleKind:         types.ScheduleKindWeatherAware,
			WeatherScalingFactor: &scaling,
			Enabled:              &enabled,
		},
		{
			SiteID:               sites[0].ID,
			Name:                 "Weekend Peak",
			Days:                 types.NewWeekdays(time.Saturday, time.Sunday),
			StartTime:            tod(17, 0),
			EndTime:              tod(20, 0),
			Timezone:             "America/New_York",
			OnPeakBackupPercent:  30,
			OffPeakBackupPercent: 60,
			ReconciliationMode:   types.ReconciliationStartupOnly,
			Enabled:              &enabled,
		},
	}
	res, err := store.ImportForUser(ctx, userID, periods)
	if err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "demo data seeded",
		slog.Int("created", res.Imported),
		slog.Int("skipped", res.SkippedByName()+res.SkippedByContent()),
	)
	return nil
}

func importFile(ctx context.Context, store *schedule.Store, userID, file string) error {
	if file == "" {
		return errors.New("import requires --file")
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var items []types.ScheduleRequest
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to decode %s: %w", file, err)
	}
	res, err := store.ImportForUser(ctx, userID, items)
	if err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "import finished",
		slog.Int("imported", res.Imported),
		slog.Any("skippedByName", res.SkippedDuplicateNames),
		slog.Any("skippedByContent", res.SkippedDuplicateContent),
	)
	return nil
}

func exportFile(ctx context.Context, store *schedule.Store, userID, file string) error {
	items, err := store.ExportForUser(ctx, userID)
	if err != nil {
		return err
	}
	out := os.Stdout
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "export finished", slog.Int("periods", len(items)))
	return nil
}
