package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

func (s *Server) handleExecutionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("userID")
	page, err := parsePage(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	statuses, err := parseList(r, "status", func(v string) (types.ExecutionStatus, bool) {
		st := types.ExecutionStatus(strings.ToUpper(v))
		switch st {
		case types.ExecutionSuccess, types.ExecutionFailure, types.ExecutionSkipped:
			return st, true
		}
		return "", false
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.userExists(w, r, userID) {
		return
	}

	res, err := s.history.ExecutionHistory(ctx, userID, statuses, page)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get execution history", slog.String("userID", userID), slog.Any("error", err))
		writeJSONError(w, "failed to get execution history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("userID")
	page, err := parsePage(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	actions, err := parseList(r, "action", func(v string) (types.AuditAction, bool) {
		a := types.AuditAction(strings.ToUpper(v))
		switch a {
		case types.AuditCreated, types.AuditUpdated, types.AuditDeleted, types.AuditWeatherUpdate:
			return a, true
		}
		return "", false
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.userExists(w, r, userID) {
		return
	}

	res, err := s.history.AuditTrail(ctx, userID, actions, page)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get audit trail", slog.String("userID", userID), slog.Any("error", err))
		writeJSONError(w, "failed to get audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

// parsePage reads the zero-indexed page and size query parameters.
func parsePage(r *http.Request) (types.PageRequest, error) {
	var p types.PageRequest
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid page: %q", v)
		}
		p.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid size: %q", v)
		}
		p.Size = n
	}
	return p.Normalize(), nil
}

// parseList reads a filter given either as repeated parameters or as a
// comma separated value.
func parseList[T any](r *http.Request, key string, parse func(string) (T, bool)) ([]T, error) {
	var out []T
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			parsed, ok := parse(v)
			if !ok {
				return nil, fmt.Errorf("invalid %s: %q", key, v)
			}
			out = append(out, parsed)
		}
	}
	return out, nil
}
