// Package auth authenticates API principals from bearer tokens. A principal
// is the issuer or delegate reference a request acts for; whether it may act
// for a particular issuer is decided later by the issuer authorizer.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"credanchor/pkg/requestcontext"
)

// Identity is what a verified token asserts about its holder.
type Identity struct {
	Principal string
	TokenID   string
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (Identity, error)
}

// Principal returns the principal stored by RequireAuth, or "".
func Principal(ctx context.Context) string {
	return requestcontext.Principal(ctx)
}

// RequireAuth rejects requests without a verifiable bearer token with 401 and
// otherwise stores the token's principal on the request context.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(ctx, w, logger, "missing bearer token", nil)
				return
			}
			id, err := verifier.VerifyToken(ctx, raw)
			if err != nil {
				reject(ctx, w, logger, "token rejected", err)
				return
			}
			if strings.TrimSpace(id.Principal) == "" {
				reject(ctx, w, logger, "token names no principal", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, id.Principal)))
		})
	}
}

// bearerToken extracts the credentials of a Bearer authorization header. The
// scheme name is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func reject(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, reason string, err error) {
	attrs := []any{"reason", reason, "request_id", requestcontext.RequestID(ctx)}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	logger.WarnContext(ctx, "unauthenticated request", attrs...)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="credanchor"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"valid bearer token required"}`))
}
