// Package requesttime pins one "now" per request so tokens minted and
// timestamps recorded while serving it agree.
package requesttime

import (
	"context"
	"net/http"
	"time"
)

type contextKey struct{}

// Middleware stores the request start time, in UTC, in the context.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injectable clock.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithTime(r.Context(), now())))
		})
	}
}

// Now returns the request-scoped time, or time.Now outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKey{}).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKey{}, t.UTC())
}
