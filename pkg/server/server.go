package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

// JobService runs the periodic jobs on demand.
type JobService interface {
	Execute(ctx context.Context) (bool, error)
	ReconcileContinuously(ctx context.Context) (bool, error)
	ReconcileOnStartup(ctx context.Context) (bool, error)
	Plan(ctx context.Context) (bool, error)
	ReconcileUser(ctx context.Context, userID string) error
}

// HistorySource answers the paginated history and audit queries.
type HistorySource interface {
	ExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.HistoryEntry], error)
	AuditTrail(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.HistoryEntry], error)
}

// UserGetter looks up users so unknown ids answer 404.
type UserGetter interface {
	GetUser(ctx context.Context, userID string) (types.User, error)
}

// Server exposes the job triggers used by an external scheduler, the
// per-user history and audit queries, health and metrics.
type Server struct {
	jobs    JobService
	history HistorySource
	users   UserGetter

	listenAddr string
	httpServer *http.Server
	serverName string

	verifier        tokenVerifier
	allowedInvokers []string
	bypassAuth      bool
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(jobs JobService, history HistorySource, users UserGetter) *Server {
	srv := &Server{
		jobs:       jobs,
		history:    history,
		users:      users,
		serverName: "peakshift",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens sent by the job scheduler")
	oidcAudience := lflag.String("oidc-audience", "", "Audience to validate on job scheduler ID tokens. Empty disables authentication.")
	allowedInvokers := lflag.String("allowed-invokers", "", "comma-delimited list of service account emails allowed to call the API")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *allowedInvokers != "" {
			for _, email := range strings.Split(*allowedInvokers, ",") {
				if email = strings.TrimSpace(email); email != "" {
					srv.allowedInvokers = append(srv.allowedInvokers, email)
				}
			}
		}
		if *oidcAudience == "" {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, API authentication is disabled")
			srv.bypassAuth = true
			return
		}
		provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/jobs/{job}", s.handleRunJob)
	apiMux.HandleFunc("POST /api/users/{userID}/reconcile", s.handleReconcileUser)
	apiMux.HandleFunc("GET /api/users/{userID}/history", s.handleExecutionHistory)
	apiMux.HandleFunc("GET /api/users/{userID}/audit", s.handleAuditTrail)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
