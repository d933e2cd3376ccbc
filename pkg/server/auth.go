package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/peakshift/peakshift/pkg/log"
)

type contextKey string

const invokerContextKey contextKey = "invoker"

// invoker is the authenticated caller of the API.
type invoker struct {
	Email   string
	Subject string
}

// tokenVerifier validates an ID token and returns its caller.
type tokenVerifier func(ctx context.Context, rawIDToken string) (invoker, error)

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (invoker, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return invoker{}, err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return invoker{}, fmt.Errorf("failed to decode id token claims: %w", err)
		}
		if claims.Email != "" && !claims.EmailVerified {
			return invoker{}, errors.New("id token email is not verified")
		}
		return invoker{Email: claims.Email, Subject: idToken.Subject}, nil
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "missing authorization header")
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		inv, err := s.verifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "id token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if !s.allowedInvoker(inv.Email) {
			log.Ctx(ctx).WarnContext(ctx, "invoker not allowed", slog.String("email", inv.Email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.WithAttrs(ctx, slog.String("invoker", inv.Email))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		ctx = context.WithValue(ctx, invokerContextKey, inv)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// allowedInvoker reports whether email may call the API. With no list
// configured any token for the audience is accepted.
func (s *Server) allowedInvoker(email string) bool {
	if len(s.allowedInvokers) == 0 {
		return true
	}
	for _, allowed := range s.allowedInvokers {
		if subtle.ConstantTimeCompare([]byte(email), []byte(allowed)) == 1 {
			return true
		}
	}
	return false
}
