package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/storage"
)

type jobResponse struct {
	Job string `json:"job"`
	// Ran is false when another instance held the job's lease.
	Ran bool `json:"ran"`
}

func (s *Server) jobFunc(name string) func(context.Context) (bool, error) {
	switch name {
	case "executor":
		return s.jobs.Execute
	case "reconcile":
		return s.jobs.ReconcileContinuously
	case "startup":
		return s.jobs.ReconcileOnStartup
	case "planner":
		return s.jobs.Plan
	default:
		return nil
	}
}

func getInvoker(r *http.Request) invoker {
	inv, _ := r.Context().Value(invokerContextKey).(invoker)
	return inv
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	ctx := log.WithAttrs(r.Context(), slog.String("job", name))
	run := s.jobFunc(name)
	if run == nil {
		writeJSONError(w, "unknown job", http.StatusNotFound)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "job triggered over http", slog.String("invoker", getInvoker(r).Email))
	// a scheduler that gives up waiting must not abort the run halfway
	ran, err := run(context.WithoutCancel(ctx))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "job failed", slog.Any("error", err))
		writeJSONError(w, "job failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, jobResponse{Job: name, Ran: ran})
}

func (s *Server) handleReconcileUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	ctx := r.Context()
	if !s.userExists(w, r, userID) {
		return
	}
	// ReconcileUser tags its own log lines with the user
	if err := s.jobs.ReconcileUser(context.WithoutCancel(ctx), userID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to reconcile user", slog.String("userID", userID), slog.Any("error", err))
		writeJSONError(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		UserID string `json:"userId"`
	}{UserID: userID})
}

// userExists writes the error response itself when the user cannot be used.
func (s *Server) userExists(w http.ResponseWriter, r *http.Request, userID string) bool {
	ctx := r.Context()
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeJSONError(w, "user not found", http.StatusNotFound)
			return false
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get user", slog.String("userID", userID), slog.Any("error", err))
		writeJSONError(w, "failed to get user", http.StatusInternalServerError)
		return false
	}
	return true
}
