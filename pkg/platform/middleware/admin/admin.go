// Package admin guards operator endpoints with a shared token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"credanchor/pkg/requestcontext"
)

type contextKeyActor struct{}

// Actor returns the operator named in X-Admin-Actor-ID, or "".
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyActor{}).(string)
	return v
}

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. An empty expectedToken rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			if actor := r.Header.Get("X-Admin-Actor-ID"); actor != "" {
				ctx = context.WithValue(ctx, contextKeyActor{}, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
