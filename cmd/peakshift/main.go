package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/peakshift/peakshift/pkg/audit"
	"github.com/peakshift/peakshift/pkg/ess"
	"github.com/peakshift/peakshift/pkg/jobs"
	"github.com/peakshift/peakshift/pkg/lease"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/server"
	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/weather"
)

func main() {
	clock := clockwork.NewRealClock()

	// init packages
	db := storage.Configured()
	locker := lease.Configured(clock)
	device := ess.Configured()
	evaluator := weather.Configured(clock)
	pub := audit.Configured()
	cadence := jobs.ConfiguredCadence()

	inProcess := lflag.Bool("run-jobs-in-process", false, "Run the periodic jobs on an in-process cron instead of waiting for HTTP triggers")
	startup := lflag.Bool("reconcile-on-startup", true, "Run the startup reconciliation once the process starts")

	sink := audit.NewSink(db, pub)
	svc := jobs.New(jobs.Deps{
		DB:      db,
		Sink:    sink,
		Device:  device,
		Weather: evaluator,
		Locker:  locker,
		Clock:   clock,
	})

	// init server
	srv := server.Configured(svc, sink, db)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := pub.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close audit publisher", slog.Any("error", err))
		}
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if *startup {
		g.Go(func() error {
			// a failed startup pass is logged and left to the continuous job
			if _, err := svc.ReconcileOnStartup(ctx); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "startup reconciliation failed", slog.Any("error", err))
			}
			return nil
		})
	}

	if *inProcess {
		cr, err := svc.Cron(ctx, *cadence)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to set up job cron", slog.Any("error", err))
			os.Exit(1)
		}
		g.Go(func() error {
			cr.Start()
			log.Ctx(ctx).InfoContext(ctx, "in-process job cron started", slog.Int("jobs", len(cr.Entries())))
			<-ctx.Done()
			// wait for running jobs to finish
			<-cr.Stop().Done()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
