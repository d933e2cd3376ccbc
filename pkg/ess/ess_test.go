package ess

import (
	"log/slog"

	"github.com/peakshift/peakshift/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
