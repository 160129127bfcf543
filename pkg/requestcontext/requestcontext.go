// Package requestcontext carries per-request values (request ID and acting
// principal) through context.Context.
package requestcontext

import "context"

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyPrincipal contextKey = "principal"
)

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

// WithPrincipal stores the authenticated principal (an issuer or delegate reference).
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, keyPrincipal, principal)
}

// Principal returns the authenticated principal, or "" for anonymous requests.
func Principal(ctx context.Context) string {
	v, _ := ctx.Value(keyPrincipal).(string)
	return v
}

const keyClientIP contextKey = "client_ip"

// WithClientIP stores the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(keyClientIP).(string)
	return v
}
