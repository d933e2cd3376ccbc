// Package trigger builds and evaluates the six-field trigger expressions
// (second minute hour day-of-month month day-of-week) stored on schedule events.
package trigger

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	crondesc "github.com/lnquy/cron"
	"github.com/robfig/cron/v3"

	"github.com/peakshift/peakshift/pkg/types"
)

// NotAvailable is used when an expression cannot be described.
const NotAvailable = "N/A"

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Recurring returns an expression firing at tod on each of days, for example
// "0 30 22 ? * MON,TUE,WED".
func Recurring(days types.Weekdays, tod types.TimeOfDay) string {
	return fmt.Sprintf("0 %d %d ? * %s", tod.Minute(), tod.Hour(), strings.Join(days.Abbreviations(), ","))
}

// Once returns an expression firing at t's wall-clock minute on t's day and
// month, for example "0 5 14 7 3 ?".
func Once(t time.Time) string {
	return fmt.Sprintf("0 %d %d %d %d ?", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}

// Parse validates an expression.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger expression %q: %w", expr, err)
	}
	return sched, nil
}

// Matches reports whether expr fires at any point during the minute that
// contains now, with now converted into loc first.
func Matches(expr string, now time.Time, loc *time.Location) (bool, error) {
	sched, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return matches(sched, now.In(loc)), nil
}

func matches(sched cron.Schedule, local time.Time) bool {
	minute := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, local.Location())
	next := sched.Next(minute.Add(-time.Second))
	return !next.IsZero() && next.Before(minute.Add(time.Minute))
}

var (
	describeOnce sync.Once
	describe     func(expr string) (string, error)
)

// Describe returns an English description of expr, or NotAvailable.
func Describe(expr string) string {
	describeOnce.Do(func() {
		d, err := crondesc.NewDescriptor()
		if err != nil {
			slog.Warn("cron descriptor unavailable", slog.Any("error", err))
			return
		}
		describe = func(expr string) (string, error) {
			return d.ToDescription(expr, crondesc.Locale_en)
		}
	})
	if describe == nil {
		return NotAvailable
	}
	desc, err := describe(expr)
	if err != nil || desc == "" {
		slog.Warn("could not describe trigger expression", slog.String("expression", expr), slog.Any("error", err))
		return NotAvailable
	}
	return desc
}
